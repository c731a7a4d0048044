package httpapi

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"llmd/internal/download"
	"llmd/internal/engines"
	"llmd/internal/registry"
	"llmd/internal/supervisor"
	"llmd/pkg/types"
)

// ModelService runs and proxies model workers.
type ModelService interface {
	LoadModel(ctx context.Context, body map[string]any) (types.Worker, error)
	UnloadModel(ctx context.Context, id string) error
	ChatCompletion(ctx context.Context, body map[string]any, cb supervisor.Callback) error
	Embedding(ctx context.Context, body map[string]any, cb supervisor.Callback) error
	GetModelStatus(id string) bool
	ListWorkers() []types.Worker
}

// ModelCatalog lists the models known to the daemon.
type ModelCatalog interface {
	List() []registry.ModelConfig
}

// EngineManager installs and inspects inference engines.
type EngineManager interface {
	ListEngines() []types.EngineInfo
	GetEngineInfo(name string) (types.EngineInfo, error)
	GetReleases(ctx context.Context, name string) ([]types.Release, error)
	InstallEngine(ctx context.Context, name string, opts engines.InstallOptions) (engines.InstallResult, error)
	UninstallEngine(name string) error
}

// DownloadManager exposes the download service's task table.
type DownloadManager interface {
	Tasks() []download.Task
	StopTask(id string) bool
}

// CORSOptions configures the optional CORS middleware.
type CORSOptions struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Options carries the dependencies and settings of the HTTP layer.
// Nil services leave their routes answering 503.
type Options struct {
	Models    ModelService
	Catalog   ModelCatalog
	Engines   EngineManager
	Downloads DownloadManager
	// Events serves GET /events, typically an events.WebsocketHandler.
	Events http.Handler

	// BaseContext is canceled on shutdown and aborts in-flight handlers.
	BaseContext context.Context
	// Ready reports readiness for /readyz. Nil means always ready.
	Ready func() bool

	Logger       zerolog.Logger
	LogLevel     LogLevel
	MaxBodyBytes int64
	CORS         CORSOptions
}

const defaultMaxBodyBytes int64 = 1 << 20

func (o Options) withDefaults() Options {
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if len(o.CORS.AllowedMethods) == 0 {
		o.CORS.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	}
	if len(o.CORS.AllowedHeaders) == 0 {
		o.CORS.AllowedHeaders = []string{"Accept", "Content-Type", "X-Log-Level", "X-Request-Id"}
	}
	return o
}
