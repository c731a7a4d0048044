package main

// General API documentation for swaggo. Run `swag init -g cmd/llmd/docs.go -d ./,./internal/httpapi`
// to regenerate the docs and build with -tags=swagger to serve them.
//
// @title           llmd API
// @version         1.0
// @description     HTTP API for local LLM engine installation, model workers and inference.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
