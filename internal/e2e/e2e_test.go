//go:build !windows

package e2e

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmd/internal/engines"
	"llmd/internal/supervisor"
	"llmd/pkg/types"
)

func TestModelLifecycleOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("builds and spawns a worker binary")
	}
	modelsDir := t.TempDir()
	writeModel(t, modelsDir, "tiny.yaml", "id: tiny\nname: Tiny\nmodel_path: tiny.gguf\nctx_len: 512\n")
	writeModel(t, modelsDir, "tiny.gguf", "")
	st := newStack(t, modelsDir)
	base := st.srv.URL

	// Engine missing: the supervisor refuses before spawning anything.
	resp, body := httpDo(t, http.MethodPost, base+"/v1/models/start", map[string]any{"model": "tiny"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "engine not installed")

	resp, body = httpDo(t, http.MethodPost, base+"/v1/engines/llama-cpp/install", types.InstallEngineRequest{LocalPath: fakeEngineArchive(t), Version: "v0.0.1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = httpDo(t, http.MethodGet, base+"/v1/engines/llama-cpp", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info types.EngineInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.NotEqual(t, engines.StateNotInstalled, info.State)
	assert.Equal(t, "v0.0.1", info.Version)

	resp, body = httpDo(t, http.MethodGet, base+"/v1/models", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"id":"tiny"`)

	resp, body = httpDo(t, http.MethodPost, base+"/v1/models/start", map[string]any{"model": "tiny"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var started types.StartModelResponse
	require.NoError(t, json.Unmarshal(body, &started))
	assert.Equal(t, "running", started.Worker.State)
	assert.GreaterOrEqual(t, started.Worker.Port, 42000)

	resp, _ = httpDo(t, http.MethodPost, base+"/v1/models/start", map[string]any{"model": "tiny"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = httpDo(t, http.MethodPost, base+"/v1/chat/completions", map[string]any{"model": "tiny", "stream": true,
		"messages": []map[string]string{{"role": "user", "content": "hi"}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasSuffix(string(body), "data: [DONE]\n\n"), string(body))
	assert.Equal(t, 3, strings.Count(string(body), "data: "))

	resp, body = httpDo(t, http.MethodPost, base+"/v1/chat/completions", map[string]any{"model": "tiny"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "hello world")

	resp, body = httpDo(t, http.MethodPost, base+"/v1/embeddings", map[string]any{"model": "tiny", "input": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"data":[{"embedding":[0.1,0.2]}]}`, string(body))

	resp, body = httpDo(t, http.MethodGet, base+"/v1/models/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var workers types.WorkersResponse
	require.NoError(t, json.Unmarshal(body, &workers))
	require.Len(t, workers.Workers, 1)
	assert.Equal(t, "tiny", workers.Workers[0].ModelID)

	resp, _ = httpDo(t, http.MethodPost, base+"/v1/models/stop", types.StopModelRequest{Model: "tiny"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = httpDo(t, http.MethodGet, base+"/v1/models/status/tiny", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"loaded":false`)

	resp, _ = httpDo(t, http.MethodPost, base+"/v1/models/stop", types.StopModelRequest{Model: "tiny"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = httpDo(t, http.MethodPost, base+"/v1/chat/completions", map[string]any{"model": "tiny"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkerCrashIsBroadcast(t *testing.T) {
	if testing.Short() {
		t.Skip("builds and spawns a worker binary")
	}
	modelsDir := t.TempDir()
	writeModel(t, modelsDir, "crashy.gguf", "")
	st := newStack(t, modelsDir)
	base := st.srv.URL

	resp, body := httpDo(t, http.MethodPost, base+"/v1/engines/llama-cpp/install", types.InstallEngineRequest{LocalPath: fakeEngineArchive(t)})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	resp, body = httpDo(t, http.MethodPost, base+"/v1/models/start", map[string]any{"model": "crashy.gguf"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var started types.StartModelResponse
	require.NoError(t, json.Unmarshal(body, &started))

	resp, _ = httpDo(t, http.MethodGet, "http://"+started.Worker.Host+":"+strconv.Itoa(started.Worker.Port)+"/crash", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev supervisor.WorkerExited
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "crashy.gguf", ev.ModelID)
	assert.Equal(t, started.Worker.PID, ev.PID)

	assert.False(t, st.supervisor.GetModelStatus("crashy.gguf"))
}
