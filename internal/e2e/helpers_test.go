//go:build !windows

package e2e

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llmd/internal/download"
	"llmd/internal/engines"
	"llmd/internal/events"
	"llmd/internal/httpapi"
	"llmd/internal/registry"
	"llmd/internal/supervisor"
)

// stack is a daemon assembled in-process around an httptest server.
type stack struct {
	srv        *httptest.Server
	bus        *events.Bus
	supervisor *supervisor.Supervisor
	enginesDir string
}

func newStack(t *testing.T, modelsDir string) *stack {
	t.Helper()
	enginesDir := t.TempDir()
	reg, err := registry.LoadDir(modelsDir)
	if err != nil {
		t.Fatalf("load models: %v", err)
	}
	bus := events.New(zerolog.Nop())
	dl := download.NewService(download.Config{Workers: 2, Publisher: bus, Logger: zerolog.Nop()})
	eng := engines.NewService(engines.Config{EnginesDir: enginesDir, Downloads: dl, Logger: zerolog.Nop()})
	sup := supervisor.New(supervisor.Config{
		EnginesDir:     enginesDir,
		LogPath:        filepath.Join(t.TempDir(), "workers.log"),
		PortStart:      42000,
		PortEnd:        42900,
		HealthRetries:  50,
		HealthInterval: 100 * time.Millisecond,
		StopGrace:      2 * time.Second,
		Params:         reg,
		Publisher:      bus,
		Logger:         zerolog.Nop(),
	})
	topics := []string{supervisor.TopicWorkerExited}
	for _, et := range download.EventTypes {
		topics = append(topics, string(et))
	}
	srv := httptest.NewServer(httpapi.NewMux(httpapi.Options{
		Models:    sup,
		Catalog:   reg,
		Engines:   eng,
		Downloads: dl,
		Events:    events.NewWebsocketHandler(bus, topics, zerolog.Nop()),
		Logger:    zerolog.Nop(),
	}))
	t.Cleanup(func() {
		srv.Close()
		sup.Shutdown()
		dl.Close()
		bus.Close()
	})
	return &stack{srv: srv, bus: bus, supervisor: sup, enginesDir: enginesDir}
}

// fakeEngineArchive builds the fake worker and packs it as an engine
// release archive holding bin/llama-server.
func fakeEngineArchive(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "llama-server")
	cmd := exec.Command("go", "build", "-o", bin, "../supervisor/testdata/fake_worker.go")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build fake worker: %v: %s", err, out)
	}
	data, err := os.ReadFile(bin)
	if err != nil {
		t.Fatalf("read fake worker: %v", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: "bin/llama-server", Mode: 0o755, Size: int64(len(data)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "llama-server-local.tar.gz")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeModel(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func httpDo(t *testing.T, method, url string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}
