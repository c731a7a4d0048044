package types

// ModelsResponse wraps the list of models returned by GET /v1/models.
type ModelsResponse struct {
	Object string  `json:"object" example:"list"`
	Data   []Model `json:"data"`
}

// StartModelRequest is the documented subset of POST /v1/models/start.
// Any other key is forwarded to the worker as a command-line parameter.
type StartModelRequest struct {
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Overrides the registry's model file.
	ModelPath string `json:"model_path,omitempty"`
	// Engine override; defaults to the registry entry or the daemon default.
	// example: llama-cpp
	Engine string `json:"engine,omitempty" example:"llama-cpp"`
	// example: 4096
	CtxLen int `json:"ctx_len,omitempty" example:"4096"`
	// example: 99
	NGL int `json:"ngl,omitempty" example:"99"`
}

// StopModelRequest is the body of POST /v1/models/stop.
type StopModelRequest struct {
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
}

// MessageResponse is returned by simple state-changing endpoints.
type MessageResponse struct {
	// example: Model loaded successfully
	Message string `json:"message" example:"Model loaded successfully"`
}

// StartModelResponse is returned by POST /v1/models/start.
type StartModelResponse struct {
	// example: Model loaded successfully
	Message string `json:"message" example:"Model loaded successfully"`
	Worker  Worker `json:"worker"`
}

// ModelStatusResponse is returned by GET /v1/models/status/{id}.
type ModelStatusResponse struct {
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// example: true
	Loaded bool `json:"loaded" example:"true"`
}

// WorkersResponse is returned by GET /v1/models/status.
type WorkersResponse struct {
	Workers []Worker `json:"workers"`
}

// EnginesResponse is returned by GET /v1/engines.
type EnginesResponse struct {
	Engines []EngineInfo `json:"engines"`
}

// InstallEngineRequest is the body of POST /v1/engines/{name}/install.
type InstallEngineRequest struct {
	// Release tag; empty selects the latest release.
	// example: v0.1.40
	Version string `json:"version,omitempty" example:"v0.1.40"`
	// Install from a local archive instead of downloading.
	LocalPath string `json:"local_path,omitempty"`
}

// InstallEngineResponse reports the queued download task.
type InstallEngineResponse struct {
	// example: 5f0c3b8e-8a49-4bfe-9f7b-0e6c3a8f2d11
	TaskID string `json:"task_id,omitempty" example:"5f0c3b8e-8a49-4bfe-9f7b-0e6c3a8f2d11"`
	// example: Engine installation started
	Message string `json:"message" example:"Engine installation started"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
