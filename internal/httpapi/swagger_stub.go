//go:build !swagger

package httpapi

import "github.com/go-chi/chi/v5"

// MountSwagger leaves /swagger/* unrouted. Regenerate the llmd docs with
// `swag init -g cmd/llmd/docs.go -d ./,./internal/httpapi` and build with
// -tags=swagger to serve them.
func MountSwagger(chi.Router) {}
