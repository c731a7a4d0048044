// Package supervisor runs one worker process per loaded model and proxies
// OpenAI-style requests to it. It is structured into small files by concern:
//
//   - config.go: Config and package defaults; New applies defaults.
//   - types.go: worker state, the request callback contract and snapshots.
//   - errors.go: typed errors with HTTP status codes and Is* helpers.
//   - args.go: translation of model parameters into a worker argv.
//   - engine.go: engine kinds (LocalProcessEngine, PythonSubprocessEngine).
//   - load.go: LoadModel, spawning, the reaper and health polling.
//   - unload.go: UnloadModel and Shutdown.
//   - proxy.go: ChatCompletion and Embedding relays.
//   - signal_*.go: platform process termination.
//
// A worker moves Unloaded -> Starting -> Running -> Unloaded. A worker that
// never becomes healthy is dropped from the registry while Starting.
package supervisor
