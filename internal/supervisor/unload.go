package supervisor

import (
	"context"
	"os"
	"time"
)

// UnloadModel sends the worker a termination signal. On success the entry
// is removed and the process is killed if it outlives the stop grace
// period. A failed signal leaves the entry registered. A worker that is
// reserved but not spawned yet cannot be stopped.
func (s *Supervisor) UnloadModel(ctx context.Context, id string) error {
	s.mu.Lock()
	w, ok := s.workers[id]
	var proc *os.Process
	if ok && w.cmd != nil {
		proc = w.cmd.Process
	}
	s.mu.Unlock()
	if !ok {
		return NotLoadedError{ModelID: id}
	}
	if proc == nil {
		return StartingError{ModelID: id}
	}
	log := s.log.With().Str("model_id", id).Int("pid", proc.Pid).Logger()
	if err := terminate(proc); err != nil {
		log.Error().Err(err).Msg("termination signal failed; worker stays registered")
		return TerminationError{ModelID: id, PID: proc.Pid, Err: err}
	}
	s.mu.Lock()
	removed := s.workers[id] == w
	if removed {
		delete(s.workers, id)
	}
	wasRunning := w.state == StateRunning
	s.mu.Unlock()
	if removed && wasRunning {
		workersLoaded.Dec()
	}
	log.Info().Msg("worker signalled")

	timer := time.NewTimer(s.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-w.exited:
	case <-timer.C:
		log.Warn().Dur("grace", s.cfg.StopGrace).Msg("worker ignored termination; killing")
		_ = forceKill(proc)
	case <-ctx.Done():
		_ = forceKill(proc)
	}
	return nil
}

// Shutdown force-kills every worker, including those dropped after a
// health timeout, and clears the registry.
func (s *Supervisor) Shutdown() {
	type victim struct {
		w    *worker
		proc *os.Process
	}
	s.mu.Lock()
	all := append([]*worker(nil), s.strays...)
	for _, w := range s.workers {
		all = append(all, w)
		if w.state == StateRunning {
			workersLoaded.Dec()
		}
	}
	victims := make([]victim, 0, len(all))
	for _, w := range all {
		if w.cmd != nil && w.cmd.Process != nil {
			victims = append(victims, victim{w: w, proc: w.cmd.Process})
		}
	}
	s.workers = make(map[string]*worker)
	s.strays = nil
	s.mu.Unlock()

	for _, v := range victims {
		if err := forceKill(v.proc); err != nil {
			s.log.Debug().Err(err).Str("model_id", v.w.modelID).Int("pid", v.proc.Pid).Msg("kill failed")
		}
	}
	for _, v := range victims {
		select {
		case <-v.w.exited:
		case <-time.After(2 * time.Second):
			s.log.Warn().Str("model_id", v.w.modelID).Int("pid", v.proc.Pid).Msg("worker did not exit after kill")
		}
	}
	s.log.Info().Int("workers", len(victims)).Msg("supervisor shut down")
}
