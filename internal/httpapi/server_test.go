package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmd/internal/download"
	"llmd/internal/engines"
	"llmd/internal/registry"
	"llmd/internal/supervisor"
	"llmd/pkg/types"
)

type fakeModels struct {
	mu        sync.Mutex
	loaded    map[string]bool
	loadErr   error
	unloadErr error
	lastBody  map[string]any
	chat      func(ctx context.Context, body map[string]any, cb supervisor.Callback) error
}

func (f *fakeModels) LoadModel(_ context.Context, body map[string]any) (types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBody = body
	if f.loadErr != nil {
		return types.Worker{}, f.loadErr
	}
	id, _ := body["model"].(string)
	if f.loaded == nil {
		f.loaded = map[string]bool{}
	}
	f.loaded[id] = true
	return types.Worker{ModelID: id, Engine: "llama-cpp", State: "running", Host: "127.0.0.1", Port: 39401}, nil
}

func (f *fakeModels) UnloadModel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unloadErr != nil {
		return f.unloadErr
	}
	if !f.loaded[id] {
		return supervisor.NotLoadedError{ModelID: id}
	}
	delete(f.loaded, id)
	return nil
}

func (f *fakeModels) ChatCompletion(ctx context.Context, body map[string]any, cb supervisor.Callback) error {
	return f.chat(ctx, body, cb)
}

func (f *fakeModels) Embedding(_ context.Context, body map[string]any, cb supervisor.Callback) error {
	if !f.GetModelStatus(body["model"].(string)) {
		return supervisor.NotLoadedError{ModelID: body["model"].(string)}
	}
	cb(supervisor.Status{StatusCode: http.StatusOK, IsDone: true}, []byte(`{"data":[{"embedding":[0.1,0.2]}]}`))
	return nil
}

func (f *fakeModels) GetModelStatus(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded[id]
}

func (f *fakeModels) ListWorkers() []types.Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Worker
	for id := range f.loaded {
		out = append(out, types.Worker{ModelID: id, State: "running"})
	}
	return out
}

type fakeCatalog []registry.ModelConfig

func (c fakeCatalog) List() []registry.ModelConfig { return c }

type fakeEngines struct {
	installed  map[string]types.EngineInfo
	installErr error
	lastOpts   engines.InstallOptions
}

func (f *fakeEngines) ListEngines() []types.EngineInfo {
	return []types.EngineInfo{{Name: engines.EngineLlamaCpp, State: engines.StateInstalled}, {Name: engines.EngineOnnx, State: engines.StateNotInstalled}}
}

func (f *fakeEngines) GetEngineInfo(name string) (types.EngineInfo, error) {
	if info, ok := f.installed[name]; ok {
		return info, nil
	}
	return types.EngineInfo{}, engines.ErrUnsupportedEngine
}

func (f *fakeEngines) GetReleases(context.Context, string) ([]types.Release, error) {
	return []types.Release{{Tag: "v0.1.40"}}, nil
}

func (f *fakeEngines) InstallEngine(_ context.Context, name string, opts engines.InstallOptions) (engines.InstallResult, error) {
	f.lastOpts = opts
	if f.installErr != nil {
		return engines.InstallResult{}, f.installErr
	}
	if opts.LocalPath != "" {
		return engines.InstallResult{Version: "local"}, nil
	}
	return engines.InstallResult{TaskID: name, Version: "v0.1.40"}, nil
}

func (f *fakeEngines) UninstallEngine(name string) error {
	if _, ok := f.installed[name]; !ok {
		return engines.ErrEngineNotFound
	}
	delete(f.installed, name)
	return nil
}

type fakeDownloads struct{ tasks []download.Task }

func (f *fakeDownloads) Tasks() []download.Task { return f.tasks }

func (f *fakeDownloads) StopTask(id string) bool {
	for _, t := range f.tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

func newTestMux(models *fakeModels) http.Handler {
	return NewMux(Options{
		Models:    models,
		Catalog:   fakeCatalog{{ID: "m1", Name: "Model One", Engine: "llama-cpp", ModelPath: "/models/m1.gguf"}},
		Engines:   &fakeEngines{installed: map[string]types.EngineInfo{"llama-cpp": {Name: "llama-cpp", State: engines.StateInstalled}}},
		Downloads: &fakeDownloads{tasks: []download.Task{{ID: "llama-cpp", Type: download.TypeEngine, Status: download.StatusInProgress}}},
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var e types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestStartModel(t *testing.T) {
	models := &fakeModels{}
	h := newTestMux(models)
	w := doJSON(t, h, http.MethodPost, "/v1/models/start", map[string]any{"model": "m1", "ctx_len": 2048})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp types.StartModelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Model loaded successfully", resp.Message)
	assert.Equal(t, "m1", resp.Worker.ModelID)
	assert.EqualValues(t, 2048, models.lastBody["ctx_len"])
}

func TestStartModel_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"already loaded", supervisor.AlreadyLoadedError{ModelID: "m1"}, http.StatusConflict},
		{"engine missing", supervisor.EngineNotInstalledError{Engine: "llama-cpp"}, http.StatusBadRequest},
		{"health timeout", supervisor.HealthCheckTimeoutError{ModelID: "m1"}, http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestMux(&fakeModels{loadErr: tc.err})
			w := doJSON(t, h, http.MethodPost, "/v1/models/start", map[string]any{"model": "m1"})
			assert.Equal(t, tc.want, w.Code)
			assert.Equal(t, tc.want, decodeError(t, w).Code)
			assert.Equal(t, tc.err.Error(), decodeError(t, w).Error)
		})
	}
}

func TestStartModel_RequiresJSON(t *testing.T) {
	h := newTestMux(&fakeModels{})
	req := httptest.NewRequest(http.MethodPost, "/v1/models/start", strings.NewReader(`{"model":"m1"}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestStartModel_InvalidAndOversizedBody(t *testing.T) {
	h := NewMux(Options{Models: &fakeModels{}, MaxBodyBytes: 16})

	req := httptest.NewRequest(http.MethodPost, "/v1/models/start", strings.NewReader(`{"model":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/models/start", strings.NewReader(`{"model":"`+strings.Repeat("x", 64)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestStopModel(t *testing.T) {
	models := &fakeModels{loaded: map[string]bool{"m1": true}}
	h := newTestMux(models)

	w := doJSON(t, h, http.MethodPost, "/v1/models/stop", types.StopModelRequest{Model: "m1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, models.GetModelStatus("m1"))

	w = doJSON(t, h, http.MethodPost, "/v1/models/stop", types.StopModelRequest{Model: "m1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Error, "m1")
}

func TestModelStatusAndWorkers(t *testing.T) {
	h := newTestMux(&fakeModels{loaded: map[string]bool{"m1": true}})

	w := doJSON(t, h, http.MethodGet, "/v1/models/status/m1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st types.ModelStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, types.ModelStatusResponse{Model: "m1", Loaded: true}, st)

	w = doJSON(t, h, http.MethodGet, "/v1/models/status/other", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.False(t, st.Loaded)

	w = doJSON(t, h, http.MethodGet, "/v1/models/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ws types.WorkersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ws))
	require.Len(t, ws.Workers, 1)
	assert.Equal(t, "m1", ws.Workers[0].ModelID)
}

func TestListModels(t *testing.T) {
	h := newTestMux(&fakeModels{})
	w := doJSON(t, h, http.MethodGet, "/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	var resp types.ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, types.Model{ID: "m1", Name: "Model One", Engine: "llama-cpp", Path: "/models/m1.gguf"}, resp.Data[0])
}

func TestChatCompletion_Stream(t *testing.T) {
	models := &fakeModels{chat: func(_ context.Context, body map[string]any, cb supervisor.Callback) error {
		cb(supervisor.Status{StatusCode: http.StatusOK, IsStream: true}, []byte("data: {\"n\":1}\n\n"))
		cb(supervisor.Status{StatusCode: http.StatusOK, IsStream: true}, []byte("data: {\"n\":2}\n\n"))
		cb(supervisor.Status{StatusCode: http.StatusOK, IsStream: true, IsDone: true}, []byte("data: [DONE]\n\n"))
		return nil
	}}
	h := newTestMux(models)
	w := doJSON(t, h, http.MethodPost, "/v1/chat/completions", map[string]any{"model": "m1", "stream": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "data: {\"n\":1}\n\ndata: {\"n\":2}\n\ndata: [DONE]\n\n", w.Body.String())
	assert.True(t, w.Flushed)
}

func TestChatCompletion_PassThroughStatus(t *testing.T) {
	models := &fakeModels{chat: func(_ context.Context, _ map[string]any, cb supervisor.Callback) error {
		cb(supervisor.Status{StatusCode: http.StatusBadRequest, IsDone: true, HasError: true}, []byte(`{"error":"bad prompt"}`))
		return nil
	}}
	w := doJSON(t, newTestMux(models), http.MethodPost, "/v1/chat/completions", map[string]any{"model": "m1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"bad prompt"}`, w.Body.String())
}

func TestChatCompletion_NotLoaded(t *testing.T) {
	models := &fakeModels{chat: func(_ context.Context, body map[string]any, _ supervisor.Callback) error {
		return supervisor.NotLoadedError{ModelID: body["model"].(string)}
	}}
	w := doJSON(t, newTestMux(models), http.MethodPost, "/v1/chat/completions", map[string]any{"model": "ghost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "model has not been loaded: ghost", decodeError(t, w).Error)
}

func TestChatCompletion_ContextCanceledOnShutdown(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	cancel()
	var sawCancel bool
	models := &fakeModels{chat: func(ctx context.Context, _ map[string]any, cb supervisor.Callback) error {
		sawCancel = ctx.Err() != nil
		cb(supervisor.Status{StatusCode: http.StatusOK, IsStream: true, IsDone: true}, []byte("data: [DONE]\n\n"))
		return nil
	}}
	h := NewMux(Options{Models: models, BaseContext: base})
	w := doJSON(t, h, http.MethodPost, "/v1/chat/completions", map[string]any{"model": "m1", "stream": true})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sawCancel)
}

func TestEmbedding(t *testing.T) {
	h := newTestMux(&fakeModels{loaded: map[string]bool{"e1": true}})
	w := doJSON(t, h, http.MethodPost, "/v1/embeddings", map[string]any{"model": "e1", "input": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":[{"embedding":[0.1,0.2]}]}`, w.Body.String())
}

func TestEngines(t *testing.T) {
	eng := &fakeEngines{installed: map[string]types.EngineInfo{"llama-cpp": {Name: "llama-cpp", State: engines.StateInstalled, Version: "v0.1.40"}}}
	h := NewMux(Options{Engines: eng})

	w := doJSON(t, h, http.MethodGet, "/v1/engines", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list types.EnginesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Engines, 2)

	w = doJSON(t, h, http.MethodGet, "/v1/engines/llama-cpp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info types.EngineInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "v0.1.40", info.Version)

	w = doJSON(t, h, http.MethodGet, "/v1/engines/vllm", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/engines/llama-cpp/releases", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rels []types.Release
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rels))
	assert.Equal(t, "v0.1.40", rels[0].Tag)

	w = doJSON(t, h, http.MethodDelete, "/v1/engines/llama-cpp", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodDelete, "/v1/engines/llama-cpp", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInstallEngine(t *testing.T) {
	eng := &fakeEngines{}
	h := NewMux(Options{Engines: eng})

	// No body installs the latest release asynchronously.
	w := doJSON(t, h, http.MethodPost, "/v1/engines/llama-cpp/install", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp types.InstallEngineResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "llama-cpp", resp.TaskID)
	assert.False(t, eng.lastOpts.Wait)

	w = doJSON(t, h, http.MethodPost, "/v1/engines/llama-cpp/install", types.InstallEngineRequest{LocalPath: "/tmp/e.tar.gz"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/tmp/e.tar.gz", eng.lastOpts.LocalPath)

	eng.installErr = engines.ErrNoMatchingVariant
	w = doJSON(t, h, http.MethodPost, "/v1/engines/llama-cpp/install", types.InstallEngineRequest{Version: "v1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "v1", eng.lastOpts.Version)

	eng.installErr = download.ErrDuplicateTask
	w = doJSON(t, h, http.MethodPost, "/v1/engines/llama-cpp/install", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDownloads(t *testing.T) {
	h := newTestMux(&fakeModels{})

	w := doJSON(t, h, http.MethodGet, "/v1/downloads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp downloadsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, download.StatusInProgress, resp.Tasks[0].Status)

	w = doJSON(t, h, http.MethodDelete, "/v1/downloads/llama-cpp", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, http.MethodDelete, "/v1/downloads/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMissingServicesAnswer503(t *testing.T) {
	h := NewMux(Options{})
	for _, path := range []string{"/v1/models", "/v1/models/status", "/v1/engines", "/v1/downloads"} {
		w := doJSON(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestHealthAndReady(t *testing.T) {
	ready := true
	h := NewMux(Options{Ready: func() bool { return ready }})

	w := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = doJSON(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ready = false
	w = doJSON(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORS(t *testing.T) {
	h := NewMux(Options{CORS: CORSOptions{Enabled: true, AllowedOrigins: []string{"http://localhost:3000"}}})
	req := httptest.NewRequest(http.MethodOptions, "/v1/engines", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	h = NewMux(Options{})
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
