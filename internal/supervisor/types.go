package supervisor

import (
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llmd/pkg/types"
)

// State is the lifecycle state of a worker.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// TopicWorkerExited is published when a registered worker exits on its own.
const TopicWorkerExited = "WorkerExited"

// WorkerExited is the payload of TopicWorkerExited.
type WorkerExited struct {
	ModelID string `json:"model_id"`
	PID     int    `json:"pid"`
	Error   string `json:"error,omitempty"`
}

// Status describes one callback invocation of a proxied request.
type Status struct {
	StatusCode int
	// IsDone marks the single terminal invocation.
	IsDone   bool
	HasError bool
	IsStream bool
}

// Callback receives the worker's response. Streaming responses arrive as
// SSE frames ("data: ...\n\n"); exactly one invocation has IsDone set.
type Callback func(Status, []byte)

type worker struct {
	modelID   string
	engine    string
	host      string
	port      int
	pid       int
	startTime time.Time
	state     State
	logPath   string

	cmd    *exec.Cmd
	exited chan struct{} // closed by the reaper
}

func (w *worker) snapshot() types.Worker {
	return types.Worker{
		ModelID:   w.modelID,
		Engine:    w.engine,
		State:     string(w.state),
		Host:      w.host,
		Port:      w.port,
		PID:       w.pid,
		StartTime: w.startTime.Unix(),
		LogPath:   w.logPath,
	}
}

// Supervisor owns the registry of model workers.
type Supervisor struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	// strays are processes dropped from the registry after a health timeout.
	// They are only reclaimed by Shutdown.
	strays []*worker

	intn func(n int) int
}

// GetModelStatus reports whether a worker is registered for id. The worker
// is not probed.
func (s *Supervisor) GetModelStatus(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[id]
	return ok
}

// ListWorkers returns snapshots of registered workers sorted by model id.
func (s *Supervisor) ListWorkers() []types.Worker {
	s.mu.Lock()
	out := make([]types.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.snapshot())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

func (s *Supervisor) lookup(id string) (*worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	return w, ok
}
