//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// SwaggerInfo describes the API for swag. `swag init -g cmd/llmd/docs.go`
// regenerates the full template from the handler annotations.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "llmd API",
	Description:      "HTTP API for local LLM engine and model management.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/models": {"get": {"tags": ["models"], "summary": "List registered models"}},
        "/v1/models/start": {"post": {"tags": ["models"], "summary": "Start a model worker"}},
        "/v1/models/stop": {"post": {"tags": ["models"], "summary": "Stop a model worker"}},
        "/v1/models/status": {"get": {"tags": ["models"], "summary": "List model workers"}},
        "/v1/models/status/{id}": {"get": {"tags": ["models"], "summary": "Report whether a model has a worker"}},
        "/v1/chat/completions": {"post": {"tags": ["inference"], "summary": "Chat completion"}},
        "/v1/embeddings": {"post": {"tags": ["inference"], "summary": "Embeddings"}},
        "/v1/engines": {"get": {"tags": ["engines"], "summary": "List engines and their install state"}},
        "/v1/engines/{name}": {
            "get": {"tags": ["engines"], "summary": "Engine install state"},
            "delete": {"tags": ["engines"], "summary": "Uninstall an engine"}
        },
        "/v1/engines/{name}/releases": {"get": {"tags": ["engines"], "summary": "Upstream releases of an engine"}},
        "/v1/engines/{name}/install": {"post": {"tags": ["engines"], "summary": "Install an engine"}},
        "/v1/downloads": {"get": {"tags": ["downloads"], "summary": "List queued and running download tasks"}},
        "/v1/downloads/{id}": {"delete": {"tags": ["downloads"], "summary": "Stop a download task"}}
    }
}`

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
