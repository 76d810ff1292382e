package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/loykin/jobsup/internal/store"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func newTestSupervisor(t *testing.T) (*Supervisor, store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	sv := New(st, WithReapInterval(20*time.Millisecond), WithStopGrace(500*time.Millisecond))
	t.Cleanup(sv.Shutdown)
	return sv, st
}

func TestSpawnWritesLogFilesAndRegistersHandle(t *testing.T) {
	requireUnix(t)
	sv, _ := newTestSupervisor(t)
	dir := t.TempDir()

	h, err := sv.Spawn(context.Background(), SpawnRequest{
		JobID:   "j1",
		Command: "echo hello; echo world 1>&2",
		LogDir:  dir,
		LogFile: "j1",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("expected a positive pid, got %d", h.PID())
	}

	waitForEvent(t, sv, "j1")

	out, err := os.ReadFile(filepath.Join(dir, "j1.stdout"))
	if err != nil || string(out) != "hello\n" {
		t.Fatalf("stdout = %q, err = %v", out, err)
	}
	errb, err := os.ReadFile(filepath.Join(dir, "j1.stderr"))
	if err != nil || string(errb) != "world\n" {
		t.Fatalf("stderr = %q, err = %v", errb, err)
	}
}

func TestSpawnRelaunchTruncatesPreviousLogs(t *testing.T) {
	requireUnix(t)
	sv, _ := newTestSupervisor(t)
	dir := t.TempDir()

	req := SpawnRequest{JobID: "j2", Command: "echo first", LogDir: dir, LogFile: "j2"}
	if _, err := sv.Spawn(context.Background(), req); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	waitForEvent(t, sv, "j2")

	req.Command = "echo second"
	if _, err := sv.Spawn(context.Background(), req); err != nil {
		t.Fatalf("second spawn: %v", err)
	}
	waitForEvent(t, sv, "j2")

	out, err := os.ReadFile(filepath.Join(dir, "j2.stdout"))
	if err != nil || string(out) != "second\n" {
		t.Fatalf("expected truncated log with only the second run's output, got %q (err %v)", out, err)
	}
}

func TestSpawnUnknownExecutableReportsNonZeroExit(t *testing.T) {
	requireUnix(t)
	sv, _ := newTestSupervisor(t)
	dir := t.TempDir()

	_, err := sv.Spawn(context.Background(), SpawnRequest{
		JobID:   "j3",
		Command: "/no/such/executable-at-all",
		LogDir:  dir,
		LogFile: "j3",
	})
	// The shell itself starts fine (buildCommand always succeeds at Start);
	// the missing executable surfaces as a nonzero exit observed by the
	// reaper, not as a Spawn error. Assert Spawn succeeded and the exit was
	// reported as non-nil.
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	ev := waitForEvent(t, sv, "j3")
	if ev.ExitErr == nil {
		t.Fatalf("expected a nonzero exit for a missing executable")
	}
}

func TestStopTerminatesProcessGroup(t *testing.T) {
	requireUnix(t)
	sv, _ := newTestSupervisor(t)
	dir := t.TempDir()

	_, err := sv.Spawn(context.Background(), SpawnRequest{
		JobID:   "j4",
		Command: "sleep 30",
		LogDir:  dir,
		LogFile: "j4",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	stopped, err := sv.Stop(context.Background(), "j4")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stopped {
		t.Fatalf("expected Stop to report true for a known job")
	}

	waitForEvent(t, sv, "j4")
}

func TestStopOnUnknownJobReportsFalse(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	stopped, err := sv.Stop(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped {
		t.Fatalf("expected Stop to report false for an unknown job")
	}
}

func TestListIncludesOnlyLiveProcesses(t *testing.T) {
	requireUnix(t)
	sv, _ := newTestSupervisor(t)
	dir := t.TempDir()

	if _, err := sv.Spawn(context.Background(), SpawnRequest{
		JobID:   "j5",
		Command: "sleep 30",
		LogDir:  dir,
		LogFile: "j5",
	}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	found := false
	for _, info := range sv.List() {
		if info.JobID == "j5" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected j5 in List() while running")
	}

	if _, err := sv.Stop(context.Background(), "j5"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitForEvent(t, sv, "j5")

	for _, info := range sv.List() {
		if info.JobID == "j5" {
			t.Fatalf("expected j5 to be removed from List() after being reaped")
		}
	}
}

// TestListExcludesDeadEntriesBeforeTheReaperRemovesThem spawns a job whose
// process exits almost immediately but holds the reaper off with a long
// interval, so the registry entry is still present when List is called. It
// asserts List filters by OS-level liveness itself rather than relying on
// the reaper having already pruned the registry.
func TestListExcludesDeadEntriesBeforeTheReaperRemovesThem(t *testing.T) {
	requireUnix(t)
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer func() { _ = st.Close() }()

	sv := New(st, WithReapInterval(time.Hour))
	defer sv.Shutdown()
	dir := t.TempDir()

	h, err := sv.Spawn(context.Background(), SpawnRequest{
		JobID:   "j5b",
		Command: "true",
		LogDir:  dir,
		LogFile: "j5b",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.DetectAlive() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the spawned process to exit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, info := range sv.List() {
		if info.JobID == "j5b" {
			t.Fatalf("expected a dead registry entry to be excluded from List() even before the reaper removes it")
		}
	}
}

func TestFindFallsBackToStoreWithPidVerification(t *testing.T) {
	requireUnix(t)
	sv, st := newTestSupervisor(t)
	dir := t.TempDir()

	h, err := sv.Spawn(context.Background(), SpawnRequest{
		JobID:   "j6",
		Command: "sleep 30",
		LogDir:  dir,
		LogFile: "j6",
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	pid := h.PID()

	if err := st.Upsert(context.Background(), store.JobRecord{
		JobID:   "j6",
		Status:  store.StatusRunning,
		LastPID: pid,
		Command: "sleep 30",
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Simulate this process having forgotten the in-memory handle, as if a
	// new Supervisor were constructed against the same store after a
	// restart.
	sv2 := New(st, WithReapInterval(20*time.Millisecond))
	defer sv2.Shutdown()

	found, ok := sv2.Find(context.Background(), "j6")
	if !ok {
		t.Fatalf("expected Find to recover j6 via the store")
	}
	if found.PID() != pid {
		t.Fatalf("recovered pid = %d, want %d", found.PID(), pid)
	}
	if found.Owned() {
		t.Fatalf("expected a reconstructed handle to report Owned() == false")
	}

	_, _ = sv.Stop(context.Background(), "j6")
	waitForEvent(t, sv, "j6")
}

func TestFindRejectsRecycledPid(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer func() { _ = st.Close() }()

	if err := st.Upsert(context.Background(), store.JobRecord{
		JobID:   "ghost",
		Status:  store.StatusRunning,
		LastPID: 1,
		Command: "this command never actually ran as pid 1",
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	sv := New(st)
	defer sv.Shutdown()

	_, ok := sv.Find(context.Background(), "ghost")
	if ok {
		t.Fatalf("expected Find to refuse a pid whose cmdline doesn't match the stored command")
	}
}

// TestReapOnceReportsVanishedProcess exercises the reaper's fourth case: a
// registry entry whose pid is no longer alive but whose waiter goroutine
// never reported an exit. This is unreachable through a normal Spawn (the
// waiter always eventually observes its own child's exit), so the entry is
// injected directly, white-box, the way it could arise from a registry
// repopulated without an owned *exec.Cmd.
func TestReapOnceReportsVanishedProcess(t *testing.T) {
	requireUnix(t)
	sv, _ := newTestSupervisor(t)

	cmd := exec.Command("/bin/sh", "-c", "true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadPid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	h := &Handle{
		JobID: "ghost-job",
		cmd:   cmd,
		pid:   deadPid,
		done:  make(chan struct{}), // never closed: simulates a waiter that never reported
	}

	sv.mu.Lock()
	sv.registry["ghost-job"] = h
	sv.mu.Unlock()

	sv.reapOnce()

	ev := waitForEvent(t, sv, "ghost-job")
	if !errors.Is(ev.ExitErr, ErrProcessVanished) {
		t.Fatalf("expected ErrProcessVanished, got %v", ev.ExitErr)
	}

	sv.mu.Lock()
	_, stillPresent := sv.registry["ghost-job"]
	sv.mu.Unlock()
	if stillPresent {
		t.Fatalf("expected the vanished entry to be removed from the registry")
	}
}

func waitForEvent(t *testing.T, sv *Supervisor, jobID string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sv.Events():
			if ev.JobID == jobID {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for an exit event for %q", jobID)
		}
	}
}
