package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"llmd/internal/supervisor"
	"llmd/pkg/types"
)

// handleStartModel godoc
// @Summary      Start a model worker
// @Description  Spawns the engine worker for a model and waits until it reports healthy. Unknown keys are passed to the worker as parameters.
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body      types.StartModelRequest  true  "Model to start"
// @Success      200   {object}  types.StartModelResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Failure      500   {object}  types.ErrorResponse
// @Router       /v1/models/start [post]
func (a *api) handleStartModel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var body map[string]any
	if !a.decodeJSON(w, r, &body, false) {
		return
	}
	a.logDebug(r, "start_model", map[string]any{"model": body["model"]})
	ctx, cancel := joinContexts(a.opts.BaseContext, r.Context())
	defer cancel()
	wk, err := a.opts.Models.LoadModel(ctx, body)
	if err != nil {
		status := statusFor(err)
		writeJSONError(w, status, err.Error())
		a.logEnd(r, "start_model", status, start, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StartModelResponse{Message: "Model loaded successfully", Worker: wk})
	a.logEnd(r, "start_model", http.StatusOK, start, nil)
}

// handleStopModel godoc
// @Summary      Stop a model worker
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body      types.StopModelRequest  true  "Model to stop"
// @Success      200   {object}  types.MessageResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      500   {object}  types.ErrorResponse
// @Router       /v1/models/stop [post]
func (a *api) handleStopModel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req types.StopModelRequest
	if !a.decodeJSON(w, r, &req, false) {
		return
	}
	ctx, cancel := joinContexts(a.opts.BaseContext, r.Context())
	defer cancel()
	if err := a.opts.Models.UnloadModel(ctx, strings.TrimSpace(req.Model)); err != nil {
		status := statusFor(err)
		writeJSONError(w, status, err.Error())
		a.logEnd(r, "stop_model", status, start, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MessageResponse{Message: "Model unloaded successfully"})
	a.logEnd(r, "stop_model", http.StatusOK, start, nil)
}

// handleModelStatus godoc
// @Summary      Report whether a model has a worker
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "Model id"
// @Success      200  {object}  types.ModelStatusResponse
// @Router       /v1/models/status/{id} [get]
func (a *api) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, types.ModelStatusResponse{Model: id, Loaded: a.opts.Models.GetModelStatus(id)})
}

// handleListWorkers godoc
// @Summary      List model workers
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.WorkersResponse
// @Router       /v1/models/status [get]
func (a *api) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := a.opts.Models.ListWorkers()
	if workers == nil {
		workers = []types.Worker{}
	}
	writeJSON(w, http.StatusOK, types.WorkersResponse{Workers: workers})
}

// handleListModels godoc
// @Summary      List registered models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /v1/models [get]
func (a *api) handleListModels(w http.ResponseWriter, r *http.Request) {
	cfgs := a.opts.Catalog.List()
	models := make([]types.Model, 0, len(cfgs))
	for _, c := range cfgs {
		models = append(models, c.Summary())
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Object: "list", Data: models})
}

// handleChatCompletion godoc
// @Summary      Chat completion
// @Description  Proxies an OpenAI-style chat completion to the model's worker. With "stream": true the response is text/event-stream terminated by "data: [DONE]".
// @Tags         inference
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  types.ErrorResponse
// @Router       /v1/chat/completions [post]
func (a *api) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	a.proxy(w, r, "chat", a.opts.Models.ChatCompletion)
}

// handleEmbedding godoc
// @Summary      Embeddings
// @Tags         inference
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  types.ErrorResponse
// @Router       /v1/embeddings [post]
func (a *api) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	a.proxy(w, r, "embedding", a.opts.Models.Embedding)
}

type proxyFunc func(ctx context.Context, body map[string]any, cb supervisor.Callback) error

// proxy relays a worker response. The first callback fixes the status line
// and content type; each later frame is written and flushed as it arrives.
func (a *api) proxy(w http.ResponseWriter, r *http.Request, op string, call proxyFunc) {
	start := time.Now()
	var body map[string]any
	if !a.decodeJSON(w, r, &body, false) {
		return
	}
	a.logDebug(r, op, map[string]any{"model": body["model"], "stream": body["stream"]})
	ctx, cancel := joinContexts(a.opts.BaseContext, r.Context())
	defer cancel()

	flusher, _ := w.(http.Flusher)
	status := 0
	err := call(ctx, body, func(st supervisor.Status, data []byte) {
		if status == 0 {
			status = st.StatusCode
			if st.IsStream {
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("Connection", "keep-alive")
			} else {
				w.Header().Set("Content-Type", "application/json")
			}
			w.WriteHeader(status)
		}
		_, _ = w.Write(data)
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil {
		status = statusFor(err)
		writeJSONError(w, status, err.Error())
		a.logEnd(r, op, status, start, err)
		return
	}
	a.logEnd(r, op, status, start, nil)
}
