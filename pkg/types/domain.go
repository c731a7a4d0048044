package types

// Model describes a model known to the registry.
type Model struct {
	// Stable identifier for the model.
	// example: tinyllama-q4
	ID string `json:"id" example:"tinyllama-q4"`
	// Human-friendly name.
	// example: TinyLlama (Q4)
	Name string `json:"name" example:"TinyLlama (Q4)"`
	// Engine that serves this model.
	// example: llama-cpp
	Engine string `json:"engine" example:"llama-cpp"`
	// Absolute path to the model file on disk.
	// example: /home/user/.llmd/models/TinyLlama.Q4_K_M.gguf
	Path string `json:"path" example:"/home/user/.llmd/models/TinyLlama.Q4_K_M.gguf"`
	// "llm" or "embedding".
	// example: llm
	ModelType string `json:"model_type,omitempty" example:"llm"`
}

// Worker summarizes a running model worker process.
type Worker struct {
	// example: tinyllama-q4
	ModelID string `json:"model_id" example:"tinyllama-q4"`
	// example: llama-cpp
	Engine string `json:"engine" example:"llama-cpp"`
	// Lifecycle state: starting or running.
	// example: running
	State string `json:"state" example:"running"`
	// example: 127.0.0.1
	Host string `json:"host" example:"127.0.0.1"`
	// example: 39512
	Port int `json:"port" example:"39512"`
	// example: 12345
	PID int `json:"pid" example:"12345"`
	// Start time in unix seconds.
	// example: 1700000000
	StartTime int64 `json:"start_time" example:"1700000000"`
	// Shared log file the worker writes to.
	LogPath string `json:"log_path,omitempty"`
}

// EngineInfo reports the install state of an engine.
type EngineInfo struct {
	// example: llama-cpp
	Name string `json:"name" example:"llama-cpp"`
	// NotInstalled, Installed or Incompatible.
	// example: Installed
	State string `json:"state" example:"Installed"`
	// example: v0.1.40
	Version string `json:"version,omitempty" example:"v0.1.40"`
	// Release asset the engine was installed from.
	// example: cortex.llamacpp-0.1.40-linux-amd64-avx2-cuda-12-0.tar.gz
	Variant string `json:"variant,omitempty" example:"cortex.llamacpp-0.1.40-linux-amd64-avx2-cuda-12-0.tar.gz"`
	// example: /home/user/.llmd/engines/llama-cpp
	Path string `json:"path,omitempty" example:"/home/user/.llmd/engines/llama-cpp"`
}

// Release is one entry of an engine's release catalogue.
type Release struct {
	// example: v0.1.40
	Tag         string         `json:"tag_name" example:"v0.1.40"`
	Name        string         `json:"name"`
	Prerelease  bool           `json:"prerelease"`
	PublishedAt string         `json:"published_at,omitempty"`
	Assets      []ReleaseAsset `json:"assets"`
}

// ReleaseAsset is a downloadable file attached to a release.
type ReleaseAsset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
}
