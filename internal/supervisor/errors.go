package supervisor

import (
	"errors"
	"fmt"
	"net/http"
)

// NotLoadedError is returned when no worker is registered for the model.
type NotLoadedError struct{ ModelID string }

func (e NotLoadedError) Error() string   { return "model has not been loaded: " + e.ModelID }
func (e NotLoadedError) StatusCode() int { return http.StatusBadRequest }

// AlreadyLoadedError is returned by LoadModel for a model that is starting or running.
type AlreadyLoadedError struct{ ModelID string }

func (e AlreadyLoadedError) Error() string   { return "model already loaded: " + e.ModelID }
func (e AlreadyLoadedError) StatusCode() int { return http.StatusConflict }

// StartingError is returned by UnloadModel for a model whose worker is
// reserved but not spawned yet.
type StartingError struct{ ModelID string }

func (e StartingError) Error() string   { return "model is still starting: " + e.ModelID }
func (e StartingError) StatusCode() int { return http.StatusConflict }

// SpawnError reports a worker that could not be started or exited before it
// became healthy.
type SpawnError struct {
	ModelID string
	Err     error
}

func (e SpawnError) Error() string {
	return fmt.Sprintf("could not start worker for %s: %v", e.ModelID, e.Err)
}
func (e SpawnError) Unwrap() error   { return e.Err }
func (e SpawnError) StatusCode() int { return http.StatusInternalServerError }

// HealthCheckTimeoutError reports a worker that never answered its health endpoint.
type HealthCheckTimeoutError struct {
	ModelID string
	Retries uint64
}

func (e HealthCheckTimeoutError) Error() string {
	return fmt.Sprintf("worker for %s not healthy after %d retries", e.ModelID, e.Retries)
}
func (e HealthCheckTimeoutError) StatusCode() int { return http.StatusInternalServerError }

// TerminationError reports a failed termination signal. The worker stays registered.
type TerminationError struct {
	ModelID string
	PID     int
	Err     error
}

func (e TerminationError) Error() string {
	return fmt.Sprintf("could not terminate worker for %s (pid %d): %v", e.ModelID, e.PID, e.Err)
}
func (e TerminationError) Unwrap() error   { return e.Err }
func (e TerminationError) StatusCode() int { return http.StatusInternalServerError }

// EngineNotInstalledError is returned when the engine is unknown or its
// directory holds no worker executable.
type EngineNotInstalledError struct {
	Engine string
	Reason string
}

func (e EngineNotInstalledError) Error() string {
	if e.Reason == "" {
		return "engine not installed: " + e.Engine
	}
	return fmt.Sprintf("engine not installed: %s: %s", e.Engine, e.Reason)
}
func (e EngineNotInstalledError) StatusCode() int { return http.StatusBadRequest }

// IsNotLoaded reports whether err is a NotLoadedError.
func IsNotLoaded(err error) bool {
	var e NotLoadedError
	return errors.As(err, &e)
}

// IsAlreadyLoaded reports whether err is an AlreadyLoadedError.
func IsAlreadyLoaded(err error) bool {
	var e AlreadyLoadedError
	return errors.As(err, &e)
}

// IsStarting reports whether err is a StartingError.
func IsStarting(err error) bool {
	var e StartingError
	return errors.As(err, &e)
}

// IsSpawn reports whether err is a SpawnError.
func IsSpawn(err error) bool {
	var e SpawnError
	return errors.As(err, &e)
}

// IsHealthCheckTimeout reports whether err is a HealthCheckTimeoutError.
func IsHealthCheckTimeout(err error) bool {
	var e HealthCheckTimeoutError
	return errors.As(err, &e)
}

// IsTermination reports whether err is a TerminationError.
func IsTermination(err error) bool {
	var e TerminationError
	return errors.As(err, &e)
}

// IsEngineNotInstalled reports whether err is an EngineNotInstalledError.
func IsEngineNotInstalled(err error) bool {
	var e EngineNotInstalledError
	return errors.As(err, &e)
}
