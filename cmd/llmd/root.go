package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llmd/internal/config"
)

// app is the state shared by every command: the effective configuration
// and the root logger.
type app struct {
	cfgPath string
	cfg     config.Config
	log     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{log: zerolog.Nop()}
	def := config.Default()
	root := &cobra.Command{
		Use:               "llmd",
		Short:             "Local LLM engine and model daemon",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "Config file (.yaml, .yml, .json or .toml)")
	pf.String("addr", def.Addr, "Daemon listen address; also the address the models commands talk to (env LLMD_ADDR)")
	pf.String("data-dir", def.DataDir, "Root of engines/, models/ and logs/ (env LLMD_DATA_DIR)")
	pf.String("engines-dir", "", "Engines directory (default <data-dir>/engines)")
	pf.String("log-level", def.LogLevel, "Log level: debug|info|warn|error")
	pf.String("log-format", def.LogFormat, "Log format: console|json")

	root.AddCommand(newServeCmd(a), newEnginesCmd(a), newModelsCmd(a), newDownloadsCmd(a), newVersionCmd())
	return root
}

// load builds the effective configuration: defaults, then the config file,
// then flags the user set explicitly.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if a.cfgPath != "" {
		var err error
		if cfg, err = config.Load(a.cfgPath); err != nil {
			return err
		}
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}
	if err := cfg.Resolve(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// applyFlags overlays explicitly set flags. Flags a command does not define
// are simply not Changed.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	str := map[string]*string{
		"addr":        &cfg.Addr,
		"data-dir":    &cfg.DataDir,
		"engines-dir": &cfg.EnginesDir,
		"models-dir":  &cfg.ModelsDir,
		"log-file":    &cfg.LogFile,
		"log-level":   &cfg.LogLevel,
		"log-format":  &cfg.LogFormat,
		"catalogue":   &cfg.CatalogueURL,
	}
	for name, dst := range str {
		if !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	if fs.Changed("download-workers") {
		n, err := fs.GetInt("download-workers")
		if err != nil {
			return err
		}
		cfg.DownloadWorkers = n
	}
	if fs.Changed("cors") {
		v, err := fs.GetBool("cors")
		if err != nil {
			return err
		}
		cfg.CORSEnabled = v
	}
	if fs.Changed("cors-origins") {
		v, err := fs.GetStringSlice("cors-origins")
		if err != nil {
			return err
		}
		cfg.CORSOrigins = v
	}
	return nil
}

// newLogger builds the root zerolog logger.
func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}
	switch strings.ToLower(format) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (want console or json)", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
