package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults applied when the corresponding Config fields are unset.
const (
	defaultWorkers           = 4
	defaultProgressThreshold = 1 << 20
)

var (
	ErrTaskNotFound = errors.New("download: task not found")
	ErrCancelled    = errors.New("download: cancelled")
	ErrDestination  = errors.New("download: cannot prepare destination")
	ErrClosed       = errors.New("download: service closed")
)

// Config holds the tunables of a Service.
type Config struct {
	// Client performs the transfers. Redirects are followed by default.
	Client *http.Client
	// Workers bounds the number of concurrent async item transfers.
	Workers int
	// ProgressThreshold is the number of new bytes that triggers a
	// DownloadUpdated event for an item.
	ProgressThreshold int64
	Publisher         Publisher
	Logger            zerolog.Logger
}

// run is the execution state of one task. Items are mutated under mu.
type run struct {
	mu         sync.Mutex
	task       Task
	remaining  int
	failed     bool
	onFinished func(Task)

	stop   atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
}

func (r *run) snapshot() Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task.Clone()
}

// Service executes download tasks either synchronously in the caller's
// goroutine or asynchronously on a bounded worker pool.
type Service struct {
	client    *http.Client
	threshold int64
	pub       Publisher
	log       zerolog.Logger

	queue *TaskQueue
	pool  *workerpool.WorkerPool

	mu      sync.Mutex
	active  map[string]*run
	pending map[string]func(Task) // callbacks of queued async tasks

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wake      chan struct{}
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewService builds a Service and starts its dispatcher.
func NewService(cfg Config) *Service {
	s := newService(cfg)
	go s.dispatch()
	return s
}

func newService(cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.ProgressThreshold <= 0 {
		cfg.ProgressThreshold = defaultProgressThreshold
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Client == nil {
		// No overall timeout: transfers can be large. Stalled connections
		// are bounded by the dial/handshake/header timeouts.
		cfg.Client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   30 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		client:    cfg.Client,
		threshold: cfg.ProgressThreshold,
		pub:       cfg.Publisher,
		log:       cfg.Logger.With().Str("component", "download").Logger(),
		queue:     NewTaskQueue(),
		pool:      workerpool.New(cfg.Workers),
		active:    make(map[string]*run),
		pending:   make(map[string]func(Task)),
		baseCtx:   ctx,
		cancelAll: cancel,
		wake:      make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// AddTask runs every item of task in the calling goroutine and returns the
// final task. Destination directories are created up front; if that fails
// an error is returned before any network I/O. A failing item is logged and
// the remaining items still run; the task then ends in Error. onFinished is
// invoked only when every item succeeded.
func (s *Service) AddTask(ctx context.Context, task Task, onFinished func(Task)) (Task, error) {
	task, err := s.prepare(task)
	if err != nil {
		return task, err
	}
	r, err := s.begin(ctx, task, onFinished)
	if err != nil {
		return task, err
	}
	for i := range r.task.Items {
		if r.stop.Load() {
			break
		}
		if err := s.transfer(r, i); err != nil {
			s.itemFailed(r, i, err)
		}
	}
	return s.finish(r), nil
}

// AddAsyncDownloadTask queues task and returns its id immediately. Items are
// transferred concurrently on the worker pool with no ordering between
// them; onFinished runs once all items succeeded.
func (s *Service) AddAsyncDownloadTask(task Task, onFinished func(Task)) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = StatusPending
	s.mu.Lock()
	select {
	case <-s.closeCh:
		s.mu.Unlock()
		return "", ErrClosed
	default:
	}
	if s.reservedLocked(task.ID) {
		s.mu.Unlock()
		return "", ErrDuplicateTask
	}
	if err := s.queue.Push(task); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.pending[task.ID] = onFinished
	s.mu.Unlock()
	s.log.Debug().Str("task_id", task.ID).Int("items", len(task.Items)).Msg("task queued")
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return task.ID, nil
}

// reservedLocked reports whether id belongs to a queued or running task.
func (s *Service) reservedLocked(id string) bool {
	if _, ok := s.active[id]; ok {
		return true
	}
	_, ok := s.pending[id]
	return ok
}

// StopTask cancels a queued task or force-stops a running one. The running
// transfer aborts at its next progress check.
func (s *Service) StopTask(id string) bool {
	s.mu.Lock()
	queued, wasQueued := s.queue.get(id)
	if wasQueued && s.queue.CancelTask(id) {
		delete(s.pending, id)
		s.mu.Unlock()
		s.stopQueued(queued)
		return true
	}
	r, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	r.stop.Store(true)
	r.cancel()
	s.log.Info().Str("task_id", id).Msg("stop requested")
	return true
}

func (s *Service) stopQueued(task Task) {
	task.Status = StatusCancelled
	s.publish(EventStopped, task)
	downloadsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.log.Info().Str("task_id", task.ID).Msg("queued task cancelled")
}

// Tasks returns snapshots of queued and running tasks.
func (s *Service) Tasks() []Task {
	s.mu.Lock()
	out := s.queue.Snapshot()
	runs := make([]*run, 0, len(s.active))
	for _, r := range s.active {
		runs = append(runs, r)
	}
	s.mu.Unlock()
	for _, r := range runs {
		out = append(out, r.snapshot())
	}
	return out
}

// Close stops the dispatcher, cancels tasks that never started, force-stops
// running tasks and waits for the pool to drain.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closeCh)
		s.mu.Unlock()
		<-s.done

		s.mu.Lock()
		var queued []Task
		for {
			task, ok := s.queue.Pop()
			if !ok {
				break
			}
			delete(s.pending, task.ID)
			queued = append(queued, task)
		}
		for _, r := range s.active {
			r.stop.Store(true)
			r.cancel()
		}
		s.mu.Unlock()
		for _, task := range queued {
			s.stopQueued(task)
		}
		s.cancelAll()
		s.pool.StopWait()
	})
}

func (s *Service) dispatch() {
	defer close(s.done)
	for {
		select {
		case <-s.closeCh:
			return
		case <-s.wake:
		}
		for {
			r, ok := s.claim()
			if !ok {
				break
			}
			if r != nil {
				s.startAsync(r)
			}
		}
	}
}

// claim pops the next queued task and registers it as running in one step,
// so it stays visible to Tasks and StopTask while it starts. A nil run with
// ok set means the popped task was skipped.
func (s *Service) claim() (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closeCh:
		return nil, false
	default:
	}
	task, ok := s.queue.Pop()
	if !ok {
		return nil, false
	}
	cb := s.pending[task.ID]
	delete(s.pending, task.ID)
	if task.Status != StatusPending {
		s.log.Debug().Str("task_id", task.ID).Str("status", string(task.Status)).Msg("skipping non-pending task")
		return nil, true
	}
	return s.registerLocked(s.baseCtx, task, cb), true
}

func (s *Service) startAsync(r *run) {
	s.started(r)
	prepared, err := s.prepare(r.snapshot())
	r.mu.Lock()
	r.task.Items = prepared.Items
	if err != nil {
		r.failed = true
	}
	r.remaining = len(r.task.Items)
	r.mu.Unlock()
	if err != nil || r.remaining == 0 || r.stop.Load() {
		s.finish(r)
		return
	}
	for i := range prepared.Items {
		idx := i
		s.pool.Submit(func() {
			if !r.stop.Load() {
				if err := s.transfer(r, idx); err != nil {
					s.itemFailed(r, idx, err)
				}
			}
			r.mu.Lock()
			r.remaining--
			last := r.remaining == 0
			r.mu.Unlock()
			if last {
				s.finish(r)
			}
		})
	}
}

// prepare assigns an id and creates destination directories.
func (s *Service) prepare(task Task) (Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Items = append([]Item(nil), task.Items...)
	for i, it := range task.Items {
		if it.ID == "" {
			task.Items[i].ID = filepath.Base(it.LocalPath)
		}
		if strings.TrimSpace(it.URL) == "" || strings.TrimSpace(it.LocalPath) == "" {
			return task, fmt.Errorf("%w: item %d needs url and local path", ErrDestination, i)
		}
		if err := os.MkdirAll(filepath.Dir(it.LocalPath), 0o755); err != nil {
			s.log.Error().Err(err).Str("task_id", task.ID).Str("path", it.LocalPath).Msg("cannot create destination directory")
			return task, fmt.Errorf("%w: %v", ErrDestination, err)
		}
	}
	return task, nil
}

func (s *Service) begin(ctx context.Context, task Task, onFinished func(Task)) (*run, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.reservedLocked(task.ID) {
		s.mu.Unlock()
		return nil, ErrDuplicateTask
	}
	r := s.registerLocked(ctx, task, onFinished)
	s.mu.Unlock()
	s.started(r)
	return r, nil
}

// registerLocked records task as running. The caller holds s.mu.
func (s *Service) registerLocked(ctx context.Context, task Task, onFinished func(Task)) *run {
	task.Status = StatusInProgress
	r := &run{task: task, onFinished: onFinished}
	r.ctx, r.cancel = context.WithCancel(ctx)
	s.active[task.ID] = r
	return r
}

func (s *Service) started(r *run) {
	downloadsInflight.Inc()
	snap := r.snapshot()
	s.log.Info().Str("task_id", snap.ID).Str("type", string(snap.Type)).Int("items", len(snap.Items)).Msg("download started")
	s.publish(EventStarted, snap)
}

func (s *Service) itemFailed(r *run, idx int, err error) {
	r.mu.Lock()
	r.failed = true
	it := r.task.Items[idx]
	r.mu.Unlock()
	if errors.Is(err, ErrCancelled) || r.stop.Load() {
		s.log.Info().Str("task_id", r.task.ID).Str("item", it.ID).Msg("item transfer stopped")
		return
	}
	s.log.Warn().Err(err).Str("task_id", r.task.ID).Str("item", it.ID).Str("url", it.URL).Msg("item transfer failed")
}

func (s *Service) finish(r *run) Task {
	r.mu.Lock()
	status := StatusCompleted
	switch {
	case r.stop.Load():
		status = StatusCancelled
	case r.failed:
		status = StatusError
	}
	r.task.SetStatus(status)
	snap := r.task.Clone()
	cb := r.onFinished
	r.mu.Unlock()
	r.cancel()

	s.mu.Lock()
	delete(s.active, snap.ID)
	s.mu.Unlock()
	downloadsInflight.Dec()
	downloadsTotal.WithLabelValues(string(snap.Status)).Inc()

	switch snap.Status {
	case StatusCompleted:
		s.log.Info().Str("task_id", snap.ID).Msg("download finished")
		s.publish(EventSuccess, snap)
		if cb != nil {
			cb(snap)
		}
	case StatusCancelled:
		s.publish(EventStopped, snap)
	default:
		s.log.Warn().Str("task_id", snap.ID).Msg("download finished with errors")
		s.publish(EventError, snap)
	}
	return snap
}

// transfer streams one item to disk. Partial files are left in place on failure.
func (s *Service) transfer(r *run, idx int) error {
	r.mu.Lock()
	item := r.task.Items[idx]
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if r.stop.Load() {
			return ErrCancelled
		}
		return fmt.Errorf("request %s: %w", item.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download %s: unexpected status %s", item.URL, resp.Status)
	}
	if resp.ContentLength > 0 {
		r.mu.Lock()
		r.task.Items[idx].Bytes = resp.ContentLength
		r.mu.Unlock()
	}

	f, err := os.OpenFile(item.LocalPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", item.LocalPath, err)
	}
	pw := &progressWriter{s: s, r: r, idx: idx}
	writers := []io.Writer{pw, f}
	var h hash.Hash
	if item.Checksum != "" {
		h = sha256.New()
		writers = append(writers, h)
	}
	_, copyErr := io.Copy(io.MultiWriter(writers...), resp.Body)
	closeErr := f.Close()
	pw.report()
	downloadBytesTotal.Add(float64(pw.total))
	if copyErr != nil {
		if r.stop.Load() || errors.Is(copyErr, ErrCancelled) {
			return ErrCancelled
		}
		return fmt.Errorf("write %s: %w", item.LocalPath, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", item.LocalPath, closeErr)
	}
	if h != nil {
		want := strings.ToLower(strings.TrimPrefix(item.Checksum, "sha256:"))
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", item.LocalPath, want, got)
		}
	}
	return nil
}

func (s *Service) publish(t EventType, task Task) {
	s.pub.Publish(string(t), Event{Type: t, Task: task})
}

// progressWriter counts bytes of one item, publishes DownloadUpdated every
// threshold bytes and aborts the copy once the task is force-stopped.
type progressWriter struct {
	s        *Service
	r        *run
	idx      int
	total    int64
	reported int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	if w.r.stop.Load() {
		return 0, ErrCancelled
	}
	w.total += int64(len(p))
	if w.total-w.reported >= w.s.threshold {
		w.report()
	}
	return len(p), nil
}

func (w *progressWriter) report() {
	if w.total == w.reported && w.total != 0 {
		return
	}
	w.reported = w.total
	w.r.mu.Lock()
	w.r.task.Items[w.idx].DownloadedBytes = w.total
	snap := w.r.task.Clone()
	w.r.mu.Unlock()
	w.s.publish(EventUpdated, snap)
}
