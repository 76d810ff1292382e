package supervisor

import (
	"time"

	"github.com/loykin/jobsup/internal/metrics"
)

// reapLoop polls the registry at reapInterval, removing any job whose
// owned process has exited and emitting an Event for it. It never holds
// the registry mutex while waiting on a process: each Handle's waiter
// goroutine (started in Spawn) already did the actual cmd.Wait(), so the
// reaper only ever performs a non-blocking channel check.
func (s *Supervisor) reapLoop() {
	defer close(s.reaperDone)

	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopReaper:
			return
		case <-ticker.C:
			s.reapOnce()
		}
	}
}

func (s *Supervisor) reapOnce() {
	metrics.IncReaperCycle()

	s.mu.Lock()
	exited := make([]*Handle, 0)
	vanished := make([]*Handle, 0)
	for jobID, h := range s.registry {
		done, _ := h.pollExit()
		if done {
			exited = append(exited, h)
			delete(s.registry, jobID)
			continue
		}
		// The waiter goroutine hasn't collected an exit yet, but the pid is
		// already gone: something reaped this child out from under us (or
		// reparented it away) before cmd.Wait() could. Report it rather than
		// leaving the registry entry stuck forever behind a Wait() that will
		// never return.
		if !h.DetectAlive() {
			vanished = append(vanished, h)
			delete(s.registry, jobID)
		}
	}
	s.mu.Unlock()

	for _, h := range exited {
		h.mu.Lock()
		exitErr := h.exitErr
		h.mu.Unlock()
		s.emit(Event{Kind: ExitEvent, JobID: h.JobID, ExitErr: exitErr})
	}
	for _, h := range vanished {
		s.emit(Event{Kind: ExitEvent, JobID: h.JobID, ExitErr: ErrProcessVanished})
	}
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// A full event channel means the job manager's consumer has fallen
		// behind; drop rather than block the reaper indefinitely. The
		// stored status will still converge on the next Find/relaunch.
	}
}
