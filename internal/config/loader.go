package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"llmd/internal/common/fsutil"
)

// Config holds runtime parameters for the daemon and the CLI.
// Directory fields left empty are derived from DataDir by Resolve.
type Config struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir    string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	ModelsDir  string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	EnginesDir string `json:"engines_dir" yaml:"engines_dir" toml:"engines_dir"`
	LogFile    string `json:"log_file" yaml:"log_file" toml:"log_file"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat  string `json:"log_format" yaml:"log_format" toml:"log_format"`

	DownloadWorkers        int   `json:"download_workers" yaml:"download_workers" toml:"download_workers"`
	ProgressThresholdBytes int64 `json:"progress_threshold_bytes" yaml:"progress_threshold_bytes" toml:"progress_threshold_bytes"`

	HealthRetries     int    `json:"health_retries" yaml:"health_retries" toml:"health_retries"`
	HealthIntervalMS  int    `json:"health_interval_ms" yaml:"health_interval_ms" toml:"health_interval_ms"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec" toml:"request_timeout_sec"`
	PortRangeStart    int    `json:"port_range_start" yaml:"port_range_start" toml:"port_range_start"`
	PortRangeEnd      int    `json:"port_range_end" yaml:"port_range_end" toml:"port_range_end"`
	DefaultEngine     string `json:"default_engine" yaml:"default_engine" toml:"default_engine"`

	CatalogueURL   string `json:"catalogue_url" yaml:"catalogue_url" toml:"catalogue_url"`
	GithubToken    string `json:"github_token" yaml:"github_token" toml:"github_token"`
	CudaToolkitURL string `json:"cuda_toolkit_url" yaml:"cuda_toolkit_url" toml:"cuda_toolkit_url"`

	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Default returns the built-in configuration. LLMD_ADDR and LLMD_DATA_DIR
// override the listen address and data directory.
func Default() Config {
	cfg := Config{
		Addr:                   "127.0.0.1:39281",
		DataDir:                "~/.llmd",
		LogLevel:               "info",
		LogFormat:              "console",
		DownloadWorkers:        4,
		ProgressThresholdBytes: 1 << 20,
		HealthRetries:          10,
		HealthIntervalMS:       1000,
		PortRangeStart:         39400,
		PortRangeEnd:           39999,
		DefaultEngine:          "llama-cpp",
		CatalogueURL:           "https://api.github.com",
		CudaToolkitURL:         "https://catalog.jan.ai/dist/cuda-dependencies/%s/%s/cuda.tar.gz",
		MaxBodyBytes:           1 << 20,
	}
	if v := os.Getenv("LLMD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("LLMD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	return cfg
}

// Load reads a configuration file based on its extension and overlays it on
// Default(). Keys missing from the file keep their default value.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve expands '~' and fills derived directories from DataDir.
func (c *Config) Resolve() error {
	dd, err := fsutil.ExpandHome(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dd
	derive := func(p *string, def string) error {
		if *p == "" {
			*p = filepath.Join(c.DataDir, def)
			return nil
		}
		v, err := fsutil.ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
	if err := derive(&c.ModelsDir, "models"); err != nil {
		return err
	}
	if err := derive(&c.EnginesDir, "engines"); err != nil {
		return err
	}
	return derive(&c.LogFile, filepath.Join("logs", "workers.log"))
}

// Validate checks value ranges that would otherwise fail at runtime.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.DownloadWorkers <= 0 {
		return fmt.Errorf("download_workers must be positive, got %d", c.DownloadWorkers)
	}
	if c.PortRangeStart <= 0 || c.PortRangeEnd <= c.PortRangeStart || c.PortRangeEnd > 65535 {
		return fmt.Errorf("invalid port range [%d,%d)", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.HealthRetries < 0 || c.HealthIntervalMS < 0 || c.RequestTimeoutSec < 0 {
		return errors.New("health and timeout settings must not be negative")
	}
	return nil
}

// HealthInterval is the delay between worker health probes.
func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalMS) * time.Millisecond
}

// RequestTimeout bounds a proxied inference request; zero disables it.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}
