package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/jobsup/internal/store"
)

// Supervisor owns the in-memory registry of live child processes for jobs
// this instance has spawned, plus a background reaper that notices exits.
// It never persists anything itself; callers (the job manager) own the
// record store and decide what a process exit means for job status.
type Supervisor struct {
	st store.Store

	mu       sync.Mutex
	registry map[string]*Handle

	events chan Event

	reapInterval time.Duration
	stopGrace    time.Duration

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithReapInterval overrides the reaper's polling period (default 500ms).
func WithReapInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.reapInterval = d }
}

// WithStopGrace overrides how long Stop waits after SIGTERM before
// escalating to SIGKILL (default 5s).
func WithStopGrace(d time.Duration) Option {
	return func(s *Supervisor) { s.stopGrace = d }
}

// New constructs a Supervisor backed by st and starts its reaper goroutine.
// Callers must call Shutdown when done.
func New(st store.Store, opts ...Option) *Supervisor {
	s := &Supervisor{
		st:           st,
		registry:     make(map[string]*Handle),
		events:       make(chan Event, 64),
		reapInterval: 500 * time.Millisecond,
		stopGrace:    5 * time.Second,
		stopReaper:   make(chan struct{}),
		reaperDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.reapLoop()
	return s
}

// Events returns the channel the job manager consumes exit notifications
// from. It is never closed while the Supervisor is running.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Spawn starts command under /bin/sh -c, placing it in its own process
// group so Stop can reach the whole subprocess tree, and registers a
// Handle for it. Stdout and stderr are truncated (never appended or
// rotated) on every launch, matching the job manager's relaunch contract.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (*Handle, error) {
	if req.JobID == "" {
		return nil, fmt.Errorf("supervisor: spawn requires a job id")
	}
	if req.Command == "" {
		return nil, fmt.Errorf("supervisor: spawn requires a command")
	}

	cmd := buildCommand(req.Command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	if len(req.Env) > 0 {
		cmd.Env = req.Env
	}

	stdout, stderr, err := openLogFiles(req.LogDir, req.LogFile)
	if err != nil {
		return nil, err
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, classifySpawnError(err)
	}
	_ = stdout.Close()
	_ = stderr.Close()

	h := &Handle{
		JobID:   req.JobID,
		Command: req.Command,
		Cwd:     req.Cwd,
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		done:    make(chan struct{}),
	}

	go func() {
		waitErr := cmd.Wait()
		h.markExited(waitErr)
		close(h.done)
	}()

	s.mu.Lock()
	s.registry[req.JobID] = h
	s.mu.Unlock()

	return h, nil
}

// Find returns the Handle for a known job. If the job isn't in the
// in-memory registry (this process never spawned it, or it has since been
// reaped), Find falls back to the persisted LastPID and verifies, via
// verifyPidOwnsCommand, that the pid hasn't been recycled for an unrelated
// process before reconstructing a read-only Handle for it.
func (s *Supervisor) Find(ctx context.Context, jobID string) (*Handle, bool) {
	s.mu.Lock()
	h, ok := s.registry[jobID]
	s.mu.Unlock()
	if ok {
		return h, true
	}

	rec, found, err := s.st.Get(ctx, jobID)
	if err != nil || !found || rec.LastPID <= 0 {
		return nil, false
	}
	if !verifyPidOwnsCommand(rec.LastPID, rec.Command) {
		return nil, false
	}
	return &Handle{
		JobID:   rec.JobID,
		Command: rec.Command,
		Cwd:     rec.Cwd,
		pid:     rec.LastPID,
	}, true
}

// Stop signals the job's process group to terminate, waiting up to the
// configured grace period between a polite SIGTERM and an escalation to
// SIGKILL. Because some shells swallow the first SIGTERM delivered to a
// freshly-started process group, the polite signal is retried a few times
// before the grace period is judged to have expired. It reports false if
// the job was not known to this Supervisor (neither registered nor
// recoverable via Find).
func (s *Supervisor) Stop(ctx context.Context, jobID string) (bool, error) {
	h, ok := s.Find(ctx, jobID)
	if !ok {
		return false, nil
	}
	pid := h.PID()
	if pid <= 0 {
		return false, nil
	}

	deadline := time.Now().Add(s.stopGrace)
	const politeRetries = 3
	retryEvery := s.stopGrace / 4
	if retryEvery <= 0 {
		retryEvery = s.stopGrace
	}

	for attempt := 0; attempt < politeRetries; attempt++ {
		if err := signalGroup(pid, syscall.SIGTERM); err != nil {
			return true, err
		}
		if !waitWhileAlive(pid, retryEvery) {
			return true, nil
		}
		if time.Now().After(deadline) {
			break
		}
	}

	if !pidAlive(pid) {
		return true, nil
	}

	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		return true, err
	}
	waitWhileAlive(pid, 2*time.Second)
	return true, nil
}

// waitWhileAlive polls pid every 20ms up to timeout, returning false as
// soon as it observes the process gone.
func waitWhileAlive(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
	return pidAlive(pid)
}

// List returns every registry entry whose process is still alive according
// to the OS. A registry entry the reaper hasn't removed yet but whose
// process has already exited is not included: liveness, not registry
// membership, decides what List reports.
func (s *Supervisor) List() []HandleInfo {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.registry))
	for _, h := range s.registry {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	out := make([]HandleInfo, 0, len(handles))
	for _, h := range handles {
		if !h.DetectAlive() {
			continue
		}
		out = append(out, HandleInfo{JobID: h.JobID, PID: h.PID()})
	}
	return out
}

// Shutdown stops the reaper goroutine. It does not touch any running
// child process: a job's lifetime is independent of any single
// supervising process's lifetime, so Shutdown only tears down this
// Supervisor's bookkeeping.
func (s *Supervisor) Shutdown() {
	close(s.stopReaper)
	<-s.reaperDone
}

func openLogFiles(dir, file string) (*os.File, *os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrLogFileUnwritable, err)
	}
	outPath := filepath.Join(dir, file+".stdout")
	errPath := filepath.Join(dir, file+".stderr")

	stdout, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrLogFileUnwritable, err)
	}
	stderr, err := os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		_ = stdout.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrLogFileUnwritable, err)
	}
	return stdout, stderr, nil
}
