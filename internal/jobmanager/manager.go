// Package jobmanager is the public-facing coordinator of the job
// supervisor: it composes a record store and a process supervisor into the
// Run/Stop/GetStatus/ListStatus/JobLogs lifecycle, and owns the state
// machine that the store and supervisor don't individually know about.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/jobsup/internal/env"
	"github.com/loykin/jobsup/internal/metrics"
	"github.com/loykin/jobsup/internal/store"
	"github.com/loykin/jobsup/internal/supervisor"
)

// Manager owns no job data itself: the store owns persisted rows, the
// supervisor owns live process handles. Manager is a coordinator plus a
// per-job-id mutex map used only to serialize transitions.
type Manager struct {
	st  store.Store
	sv  *supervisor.Supervisor
	dir string
	env *env.Env

	jobMusMu sync.Mutex
	jobMus   map[string]*sync.Mutex

	stopConsumer chan struct{}
	consumerDone chan struct{}
}

// New constructs a Manager whose logs live under filepath.Join(baseDir,
// "logs") and whose reaper events are drained by a dedicated goroutine
// started here. Callers must call Shutdown when done.
func New(baseDir string, st store.Store, sv *supervisor.Supervisor) *Manager {
	m := &Manager{
		st:           st,
		sv:           sv,
		dir:          baseDir,
		env:          env.New(),
		jobMus:       make(map[string]*sync.Mutex),
		stopConsumer: make(chan struct{}),
		consumerDone: make(chan struct{}),
	}
	go m.consumeEvents()
	return m
}

// SetEnv sets a global environment variable applied to every job this
// Manager spawns, on top of this process's own environment. It supports
// ${VAR} expansion against the same composed environment.
func (m *Manager) SetEnv(k, v string) {
	m.env.Set(k, v)
}

// Shutdown stops the event-consumer goroutine. It does not stop the
// Supervisor, which callers own separately.
func (m *Manager) Shutdown() {
	close(m.stopConsumer)
	<-m.consumerDone
}

func (m *Manager) jobMutex(jobID string) *sync.Mutex {
	m.jobMusMu.Lock()
	defer m.jobMusMu.Unlock()
	mu, ok := m.jobMus[jobID]
	if !ok {
		mu = &sync.Mutex{}
		m.jobMus[jobID] = mu
	}
	return mu
}

func (m *Manager) logPaths(jobID string) (dir, file string) {
	return filepath.Join(m.dir, "logs"), "job_" + jobID
}

// Run starts command as job jobID, stopping and waiting out any live
// process already registered for that id first so at most one OS process
// is ever associated with a job_id at a time. A prior terminal record
// (finished, failed, failed_start, or stopped) is overwritten with no
// archive: the store only ever holds the most recent run.
func (m *Manager) Run(ctx context.Context, command, jobID, cwd string) (store.JobRecord, error) {
	if jobID == "" {
		return store.JobRecord{}, fmt.Errorf("jobmanager: job id is required")
	}
	if command == "" {
		return store.JobRecord{}, fmt.Errorf("jobmanager: command is required")
	}

	mu := m.jobMutex(jobID)
	mu.Lock()
	defer mu.Unlock()

	logDir, logFile := m.logPaths(jobID)

	rec := store.JobRecord{
		JobID:   jobID,
		Status:  store.StatusStarting,
		Command: command,
		Cwd:     cwd,
		LogDir:  logDir,
		LogFile: logFile,
	}
	if err := m.st.Upsert(ctx, rec); err != nil {
		return store.JobRecord{}, fmt.Errorf("jobmanager: upsert starting: %w", err)
	}

	m.stopAndDrainPriorHandle(ctx, jobID)

	h, err := m.sv.Spawn(ctx, supervisor.SpawnRequest{
		JobID:   jobID,
		Command: command,
		Cwd:     cwd,
		LogDir:  logDir,
		LogFile: logFile,
		Env:     m.env.Merge(nil),
	})
	if err != nil {
		rec.Status = store.StatusFailedStart
		if uerr := m.st.Upsert(ctx, rec); uerr != nil {
			return store.JobRecord{}, fmt.Errorf("jobmanager: upsert failed_start: %w", uerr)
		}
		metrics.IncSpawnFailure(jobID)
		return rec, nil
	}

	rec.Status = store.StatusRunning
	rec.LastPID = h.PID()
	if err := m.st.Upsert(ctx, rec); err != nil {
		return store.JobRecord{}, fmt.Errorf("jobmanager: upsert running: %w", err)
	}
	metrics.IncStart(jobID)
	metrics.SetRunningJobs(len(m.sv.List()))
	return rec, nil
}

// stopAndDrainPriorHandle stops any live handle this Supervisor still
// holds for jobID and waits briefly for the reaper to remove it, so a
// relaunch never races with the previous run's own exit handling. It is
// called with the job's mutex already held, so no new Run can race it.
func (m *Manager) stopAndDrainPriorHandle(ctx context.Context, jobID string) {
	h, ok := m.sv.Find(ctx, jobID)
	if !ok || !h.Owned() || !h.DetectAlive() {
		return
	}
	_, _ = m.sv.Stop(ctx, jobID)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, stillOwned := m.sv.Find(ctx, jobID); !stillOwned {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Stop signals jobID's process to terminate and records the stopped
// status. It is idempotent: stopping an already-terminal job is a no-op
// that returns the existing record without touching the supervisor.
func (m *Manager) Stop(ctx context.Context, jobID string) (*store.JobRecord, error) {
	mu := m.jobMutex(jobID)
	mu.Lock()
	defer mu.Unlock()

	rec, ok, err := m.st.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("jobmanager: get: %w", err)
	}
	if !ok {
		return nil, nil
	}
	if rec.Status.Terminal() {
		return &rec, nil
	}

	if _, err := m.sv.Stop(ctx, jobID); err != nil {
		return nil, fmt.Errorf("jobmanager: stop: %w", err)
	}

	rec.Status = store.StatusStopped
	if err := m.st.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("jobmanager: upsert stopped: %w", err)
	}
	metrics.IncStop(jobID)
	metrics.SetRunningJobs(len(m.sv.List()))
	return &rec, nil
}

// GetStatus reads the persisted record for jobID and, if it is
// non-terminal, reconciles it against the supervisor's live view before
// returning: a non-terminal record whose process is actually gone is
// upgraded to a terminal state rather than left stale.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (store.JobRecord, bool, error) {
	mu := m.jobMutex(jobID)
	mu.Lock()
	defer mu.Unlock()

	rec, ok, err := m.st.Get(ctx, jobID)
	if err != nil || !ok {
		return store.JobRecord{}, ok, err
	}
	if rec.Status.Terminal() {
		return rec, true, nil
	}

	h, found := m.sv.Find(ctx, jobID)
	if found && h.DetectAlive() {
		return rec, true, nil
	}

	// The process is gone but this record never saw a terminal write; the
	// reaper may have lost the race, or the process vanished without a
	// reapable exit (foreign kill of an orphaned registry entry). Re-read
	// once: the event-consumer goroutine may have already landed the
	// terminal write concurrently with this reconciliation.
	rec2, ok2, err2 := m.st.Get(ctx, jobID)
	if err2 != nil {
		return store.JobRecord{}, false, err2
	}
	if ok2 && rec2.Status.Terminal() {
		return rec2, true, nil
	}

	rec.Status = store.StatusFailed
	if err := m.st.Upsert(ctx, rec); err != nil {
		return store.JobRecord{}, false, fmt.Errorf("jobmanager: upsert failed: %w", err)
	}
	return rec, true, nil
}

// ListStatus delegates to the store without per-row reconciliation, and
// keys the result by JobID for convenient lookup.
func (m *Manager) ListStatus(ctx context.Context, filter store.JobFilter) (map[string]store.JobRecord, error) {
	recs, err := m.st.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("jobmanager: list: %w", err)
	}
	out := make(map[string]store.JobRecord, len(recs))
	for _, r := range recs {
		out[r.JobID] = r
	}
	return out, nil
}

// JobLogs returns the captured stdout/stderr for jobID's most recent run.
func (m *Manager) JobLogs(ctx context.Context, jobID string) (stdout, stderr string, err error) {
	stdout, stderr, err = m.st.Logs(ctx, jobID)
	if err != nil && !errors.Is(err, store.ErrJobNotFound) {
		return "", "", fmt.Errorf("jobmanager: logs: %w", err)
	}
	return stdout, stderr, err
}

// consumeEvents drains the supervisor's exit events and lands the
// corresponding terminal write under each job's own mutex, refusing to
// overwrite a status that a concurrent Stop has already set to stopped.
func (m *Manager) consumeEvents() {
	defer close(m.consumerDone)
	for {
		select {
		case <-m.stopConsumer:
			return
		case ev, ok := <-m.sv.Events():
			if !ok {
				return
			}
			m.applyExitEvent(ev)
		}
	}
}

func (m *Manager) applyExitEvent(ev supervisor.Event) {
	mu := m.jobMutex(ev.JobID)
	mu.Lock()
	defer mu.Unlock()

	ctx := context.Background()
	rec, ok, err := m.st.Get(ctx, ev.JobID)
	if err != nil || !ok {
		return
	}
	if rec.Status == store.StatusStopped {
		return
	}
	// A live process for this job means a relaunch has replaced the run this
	// event belongs to; its exit must not overwrite the new run's status.
	if h, found := m.sv.Find(ctx, ev.JobID); found && h.DetectAlive() {
		return
	}

	if ev.ExitErr == nil {
		rec.Status = store.StatusFinished
	} else {
		rec.Status = store.StatusFailed
	}
	_ = m.st.Upsert(ctx, rec)
	metrics.IncExit(ev.JobID, string(rec.Status))
	metrics.SetRunningJobs(len(m.sv.List()))
}
