// Package httpapi exposes the daemon over HTTP: model lifecycle and
// inference proxying, engine management, download tasks and the /events
// websocket.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type api struct {
	opts Options
	log  zerolog.Logger
}

// NewMux builds the router. Services missing from opts answer 503.
func NewMux(opts Options) http.Handler {
	opts = opts.withDefaults()
	a := &api{opts: opts, log: opts.Logger.With().Str("component", "httpapi").Logger()}

	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if opts.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORS.AllowedOrigins,
			AllowedMethods: opts.CORS.AllowedMethods,
			AllowedHeaders: opts.CORS.AllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.require(opts.Models != nil, "model service"))
			r.Post("/models/start", a.handleStartModel)
			r.Post("/models/stop", a.handleStopModel)
			r.Get("/models/status", a.handleListWorkers)
			r.Get("/models/status/{id}", a.handleModelStatus)
			r.Post("/chat/completions", a.handleChatCompletion)
			r.Post("/embeddings", a.handleEmbedding)
		})
		r.With(a.require(opts.Catalog != nil, "model registry")).Get("/models", a.handleListModels)

		r.Route("/engines", func(r chi.Router) {
			r.Use(a.require(opts.Engines != nil, "engine service"))
			r.Get("/", a.handleListEngines)
			r.Get("/{name}", a.handleGetEngine)
			r.Get("/{name}/releases", a.handleEngineReleases)
			r.Post("/{name}/install", a.handleInstallEngine)
			r.Delete("/{name}", a.handleUninstallEngine)
		})

		r.Route("/downloads", func(r chi.Router) {
			r.Use(a.require(opts.Downloads != nil, "download service"))
			r.Get("/", a.handleListDownloads)
			r.Delete("/{id}", a.handleStopDownload)
		})
	})

	if opts.Events != nil {
		r.Handle("/events", opts.Events)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready == nil || opts.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func (a *api) require(ok bool, what string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if ok {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusServiceUnavailable, what+" unavailable")
		})
	}
}

var errEmptyBody = errors.New("empty body")

// decodeJSON enforces the JSON content type and the body size limit, then
// decodes into v. It writes the error response itself and reports whether
// the handler should go on. An empty body is accepted when optional is set.
func (a *api) decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if optional && r.ContentLength == 0 {
		return true
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, a.opts.MaxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		if optional {
			return true
		}
		err = errEmptyBody
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
