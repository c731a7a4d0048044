package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"llmd/internal/download"
	"llmd/internal/engines"
	"llmd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps an error to the HTTP status it should be reported with.
func statusFor(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	switch {
	case errors.Is(err, engines.ErrUnsupportedEngine), errors.Is(err, engines.ErrEngineNotFound):
		return http.StatusNotFound
	case errors.Is(err, engines.ErrNoMatchingVariant), errors.Is(err, engines.ErrUnsupportedArchive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, download.ErrDuplicateTask):
		return http.StatusConflict
	case errors.Is(err, download.ErrDestination):
		return http.StatusBadRequest
	case errors.Is(err, download.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
