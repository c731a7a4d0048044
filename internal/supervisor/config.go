package supervisor

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when the corresponding Config fields are unset.
const (
	defaultHost           = "127.0.0.1"
	defaultPortStart      = 39400
	defaultPortEnd        = 39999
	defaultHealthRetries  = 10
	defaultHealthInterval = time.Second
	defaultStopGrace      = 5 * time.Second
	defaultEngine         = "llama-cpp"
)

// ParamSource provides stored parameters for a model id.
type ParamSource interface {
	ModelParams(id string) (map[string]any, bool)
}

// Publisher receives worker lifecycle events.
type Publisher interface {
	Publish(topic string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) {}

// Config encapsulates all tunables for Supervisor construction.
type Config struct {
	// EnginesDir holds one directory per installed engine.
	EnginesDir    string
	DefaultEngine string
	// LogPath is the shared file workers append stdout and stderr to.
	LogPath string
	Host    string
	// Ports are drawn uniformly from [PortStart, PortEnd).
	PortStart      int
	PortEnd        int
	HealthRetries  uint64
	HealthInterval time.Duration
	// RequestTimeout bounds proxied requests; zero means none.
	RequestTimeout time.Duration
	// StopGrace is how long UnloadModel waits after SIGTERM before killing.
	StopGrace time.Duration
	Params    ParamSource
	Publisher Publisher
	Engines   map[string]Engine
	Client    *http.Client
	Logger    zerolog.Logger
}

// New constructs a Supervisor from Config.
func New(cfg Config) *Supervisor {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.PortStart <= 0 || cfg.PortEnd <= cfg.PortStart {
		cfg.PortStart, cfg.PortEnd = defaultPortStart, defaultPortEnd
	}
	if cfg.HealthRetries == 0 {
		cfg.HealthRetries = defaultHealthRetries
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.DefaultEngine == "" {
		cfg.DefaultEngine = defaultEngine
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Engines == nil {
		cfg.Engines = DefaultEngines()
	}
	if cfg.Client == nil {
		// Timeout stays 0: every call carries a context deadline.
		cfg.Client = &http.Client{}
	}
	return &Supervisor{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "supervisor").Logger(),
		workers: make(map[string]*worker),
		intn:    randIntN,
	}
}
