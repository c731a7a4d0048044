package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"llmd/pkg/types"
)

var errWorkerExited = errors.New("worker exited before it became healthy")

func randIntN(n int) int { return rand.Intn(n) }

// LoadModel starts a worker for the model named in body["model"] and waits
// until its health endpoint answers. Parameters stored for the model are
// used as defaults; keys in body take precedence.
func (s *Supervisor) LoadModel(ctx context.Context, body map[string]any) (types.Worker, error) {
	modelID, _ := body["model"].(string)
	params := map[string]any{}
	if s.cfg.Params != nil {
		if stored, ok := s.cfg.Params.ModelParams(modelID); ok {
			for k, v := range stored {
				params[k] = v
			}
		}
	}
	for k, v := range body {
		params[k] = v
	}
	engineName, _ := params["engine"].(string)
	if engineName == "" {
		engineName = s.cfg.DefaultEngine
	}
	eng, ok := s.cfg.Engines[engineName]
	if !ok {
		return types.Worker{}, EngineNotInstalledError{Engine: engineName, Reason: "unknown engine"}
	}
	engineDir := filepath.Join(s.cfg.EnginesDir, engineName)
	if fi, err := os.Stat(engineDir); err != nil || !fi.IsDir() {
		return types.Worker{}, EngineNotInstalledError{Engine: engineName}
	}
	log := s.log.With().Str("model_id", modelID).Str("engine", engineName).Logger()

	// Reserve the entry before spawning so concurrent loads of the same
	// model fail fast.
	s.mu.Lock()
	if _, exists := s.workers[modelID]; exists {
		s.mu.Unlock()
		workerLoads.WithLabelValues("already_loaded").Inc()
		return types.Worker{}, AlreadyLoadedError{ModelID: modelID}
	}
	w := &worker{
		modelID:   modelID,
		engine:    engineName,
		host:      s.cfg.Host,
		port:      s.pickPortLocked(),
		state:     StateStarting,
		logPath:   s.cfg.LogPath,
		startTime: time.Now(),
		exited:    make(chan struct{}),
	}
	s.workers[modelID] = w
	s.mu.Unlock()

	exe, argv, err := eng.Command(engineDir, ConvertArgs(params), w.host, w.port, IsEmbedding(params))
	if err != nil {
		s.rollback(w)
		workerLoads.WithLabelValues("engine_missing").Inc()
		log.Warn().Err(err).Msg("cannot resolve worker command")
		return types.Worker{}, err
	}
	if err := s.spawn(w, exe, argv); err != nil {
		s.rollback(w)
		workerLoads.WithLabelValues("spawn_error").Inc()
		log.Error().Err(err).Str("exe", exe).Msg("spawn failed")
		return types.Worker{}, SpawnError{ModelID: modelID, Err: err}
	}
	log.Info().Int("pid", w.pid).Int("port", w.port).Strs("args", argv).Msg("worker started")

	if err := s.waitHealthy(ctx, w); err != nil {
		s.rollback(w)
		if errors.Is(err, errWorkerExited) {
			workerLoads.WithLabelValues("spawn_error").Inc()
			log.Error().Int("pid", w.pid).Msg("worker exited before it became healthy")
			return types.Worker{}, SpawnError{ModelID: modelID, Err: err}
		}
		// The process is left running; Shutdown reclaims it.
		s.mu.Lock()
		s.strays = append(s.strays, w)
		s.mu.Unlock()
		workerLoads.WithLabelValues("health_timeout").Inc()
		log.Error().Err(err).Int("pid", w.pid).Int("port", w.port).Msg("worker health check failed")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Worker{}, ctxErr
		}
		return types.Worker{}, HealthCheckTimeoutError{ModelID: modelID, Retries: s.cfg.HealthRetries}
	}

	s.mu.Lock()
	select {
	case <-w.exited:
		if s.workers[modelID] == w {
			delete(s.workers, modelID)
		}
		s.mu.Unlock()
		workerLoads.WithLabelValues("spawn_error").Inc()
		return types.Worker{}, SpawnError{ModelID: modelID, Err: errWorkerExited}
	default:
	}
	w.state = StateRunning
	snap := w.snapshot()
	s.mu.Unlock()
	workersLoaded.Inc()
	workerLoads.WithLabelValues("success").Inc()
	log.Info().Int("pid", w.pid).Int("port", w.port).Msg("worker ready")
	return snap, nil
}

// pickPortLocked draws a random port, re-drawing ports already held by
// another registered worker. The port is not probed.
func (s *Supervisor) pickPortLocked() int {
	held := make(map[int]bool, len(s.workers))
	for _, w := range s.workers {
		held[w.port] = true
	}
	span := s.cfg.PortEnd - s.cfg.PortStart
	port := s.cfg.PortStart + s.intn(span)
	for i := 0; held[port] && i < span; i++ {
		port = s.cfg.PortStart + s.intn(span)
	}
	return port
}

// rollback removes w from the registry if it is still the registered entry.
func (s *Supervisor) rollback(w *worker) {
	s.mu.Lock()
	if s.workers[w.modelID] == w {
		delete(s.workers, w.modelID)
	}
	s.mu.Unlock()
}

func (s *Supervisor) spawn(w *worker, exe string, argv []string) error {
	cmd := exec.Command(exe, argv...)
	cmd.Dir = filepath.Dir(exe)
	cmd.SysProcAttr = sysProcAttr()
	var logFile *os.File
	if w.logPath != "" {
		if err := os.MkdirAll(filepath.Dir(w.logPath), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(w.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open worker log: %w", err)
		}
		logFile = f
		cmd.Stdout, cmd.Stderr = f, f
	}
	err := cmd.Start()
	if logFile != nil {
		// The child holds its own descriptor.
		_ = logFile.Close()
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	w.cmd = cmd
	w.pid = cmd.Process.Pid
	s.mu.Unlock()
	go s.reap(w)
	return nil
}

// reap waits for the process and drops its entry if it is still registered,
// which means nobody asked it to stop.
func (s *Supervisor) reap(w *worker) {
	err := w.cmd.Wait()
	close(w.exited)
	s.mu.Lock()
	registered := s.workers[w.modelID] == w
	wasRunning := w.state == StateRunning
	if registered && wasRunning {
		delete(s.workers, w.modelID)
	}
	s.mu.Unlock()
	if !registered || !wasRunning {
		return
	}
	workersLoaded.Dec()
	ev := WorkerExited{ModelID: w.modelID, PID: w.pid}
	if err != nil {
		ev.Error = err.Error()
	}
	s.log.Warn().Str("model_id", w.modelID).Int("pid", w.pid).AnErr("exit", err).Msg("worker exited unexpectedly")
	s.cfg.Publisher.Publish(TopicWorkerExited, ev)
}

// waitHealthy polls GET /health with a constant interval and a bounded
// number of retries. It stops early when the process exits.
func (s *Supervisor) waitHealthy(ctx context.Context, w *worker) error {
	url := "http://" + w.host + ":" + strconv.Itoa(w.port) + "/health"
	check := func() error {
		select {
		case <-w.exited:
			return backoff.Permanent(errWorkerExited)
		default:
		}
		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthInterval)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.cfg.Client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("health: %s", resp.Status)
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.HealthInterval), s.cfg.HealthRetries), ctx)
	err := backoff.Retry(check, b)
	if err == nil {
		return nil
	}
	// A final look covers an exit that raced with the last probe.
	select {
	case <-w.exited:
		return errWorkerExited
	default:
	}
	return err
}
