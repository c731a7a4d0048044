package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llmd/internal/events"
	"llmd/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var httpLogLevel string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the daemon",
		Example: "  llmd serve --addr 127.0.0.1:39281 --data-dir ~/.llmd",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, httpapi.ParseLevel(httpLogLevel))
		},
	}
	fs := cmd.Flags()
	fs.String("models-dir", "", "Directory of model YAML configs and GGUF files (default <data-dir>/models)")
	fs.String("log-file", "", "Shared worker log file (default <data-dir>/logs/workers.log)")
	fs.String("catalogue", "", "Engine release catalogue base URL")
	fs.Int("download-workers", 0, "Concurrent async download transfers")
	fs.Bool("cors", false, "Enable CORS")
	fs.StringSlice("cors-origins", nil, "Allowed CORS origins")
	fs.StringVar(&httpLogLevel, "http-log-level", "info", "Per-request log level: off|error|info|debug (overridable with ?log= or X-Log-Level)")
	return cmd
}

// serve runs the HTTP server until ctx is canceled, then shuts down the
// server, the workers, the downloads and the event bus in that order.
func (a *app) serve(ctx context.Context, httpLevel httpapi.LogLevel) error {
	svc, err := newServices(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer svc.close()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	var ready atomic.Bool

	mux := httpapi.NewMux(httpapi.Options{
		Models:       svc.supervisor,
		Catalog:      svc.registry,
		Engines:      svc.engines,
		Downloads:    svc.downloads,
		Events:       events.NewWebsocketHandler(svc.bus, eventTopics(), a.log),
		BaseContext:  baseCtx,
		Ready:        ready.Load,
		Logger:       a.log,
		LogLevel:     httpLevel,
		MaxBodyBytes: a.cfg.MaxBodyBytes,
		CORS: httpapi.CORSOptions{
			Enabled:        a.cfg.CORSEnabled,
			AllowedOrigins: a.cfg.CORSOrigins,
		},
	})
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().
			Str("addr", ln.Addr().String()).
			Str("engines_dir", a.cfg.EnginesDir).
			Str("models_dir", a.cfg.ModelsDir).
			Int("models", len(svc.registry.List())).
			Msg("llmd listening")
		errCh <- srv.Serve(ln)
	}()
	ready.Store(true)

	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Streams and websockets never go idle on their own.
	cancelBase()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
		_ = srv.Close()
	}
	return nil
}
