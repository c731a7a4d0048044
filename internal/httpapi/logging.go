package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

// ParseLevel maps off|error|info|debug to a LogLevel. Unknown values give LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (a *api) requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return ParseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return ParseLevel(v)
	}
	return a.opts.LogLevel
}

// logEnd writes the completion line of a request at the level it deserves.
// Failures are logged from LevelError, successes from LevelInfo.
func (a *api) logEnd(r *http.Request, op string, status int, start time.Time, err error) {
	lvl := a.requestLogLevel(r)
	var ev *zerolog.Event
	switch {
	case err != nil && lvl >= LevelError:
		ev = a.log.Warn().Err(err)
	case err == nil && lvl >= LevelInfo:
		ev = a.log.Info()
	default:
		return
	}
	ev = ev.Str("op", op).Str("path", r.URL.Path).Int("status", status).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	ev.Msg(op + " end")
}

func (a *api) logDebug(r *http.Request, op string, fields map[string]any) {
	if a.requestLogLevel(r) < LevelDebug {
		return
	}
	ev := a.log.Debug().Str("op", op).Fields(fields)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	ev.Msg(op + " start")
}
