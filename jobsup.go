// Package jobsup is an embedded job supervisor: it launches shell commands
// as local child processes, tracks their lifecycle in a persistent store,
// captures their stdout/stderr, and exposes Run/Stop/GetStatus/ListStatus/
// JobLogs to the embedding program. It does not daemonize and does not run
// a network-facing server; its lifetime is the embedding process's.
package jobsup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	cfg "github.com/loykin/jobsup/internal/config"
	"github.com/loykin/jobsup/internal/jobmanager"
	"github.com/loykin/jobsup/internal/logger"
	"github.com/loykin/jobsup/internal/metrics"
	"github.com/loykin/jobsup/internal/store"
	"github.com/loykin/jobsup/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers. These are aliases so
// conversions between package boundaries are zero-cost.

type JobRecord = store.JobRecord

type JobFilter = store.JobFilter

type Status = store.Status

const (
	StatusStarting    = store.StatusStarting
	StatusRunning     = store.StatusRunning
	StatusFinished    = store.StatusFinished
	StatusFailed      = store.StatusFailed
	StatusFailedStart = store.StatusFailedStart
	StatusStopped     = store.StatusStopped
)

type Config = cfg.Config

func DefaultConfig() Config { return cfg.Default() }

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// Supervisor is the embeddable handle to one running instance: a record
// store, a process supervisor, and the job manager coordinating them. Job
// logs live under Config.BaseDir; the record store lives at Config.DBPath,
// or at Config.BaseDir/jobs.db when DBPath is empty.
type Supervisor struct {
	st store.Store
	sv *supervisor.Supervisor
	jm *jobmanager.Manager
}

// New installs a slog.Logger built from cfg.LogLevel/LogColor/LogFormat as
// the process-wide slog default, registers Prometheus metrics when
// cfg.MetricsEnabled is set, and opens (creating if necessary) the record
// store at cfg.DBPath (or cfg.BaseDir/jobs.db when unset). It starts the
// supervisor's reaper and the job manager's event consumer. Callers must
// call Shutdown when done.
func New(cfg Config) (*Supervisor, error) {
	slog.SetDefault(logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Color:  cfg.LogColor,
		Format: cfg.LogFormat,
	}))

	if cfg.MetricsEnabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("jobsup: register metrics: %w", err)
		}
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.BaseDir, "jobs.db")
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("jobsup: open store: %w", err)
	}
	sv := supervisor.New(st,
		supervisor.WithReapInterval(cfg.ReapInterval),
		supervisor.WithStopGrace(cfg.StopGrace),
	)
	jm := jobmanager.New(cfg.BaseDir, st, sv)
	return &Supervisor{st: st, sv: sv, jm: jm}, nil
}

// SetEnv sets a global environment variable applied to every job this
// Supervisor runs, on top of its own process environment.
func (s *Supervisor) SetEnv(k, v string) { s.jm.SetEnv(k, v) }

// Run starts command as job jobID, relaunching it (and stopping any still-
// live prior run) if jobID already exists.
func (s *Supervisor) Run(ctx context.Context, command, jobID, cwd string) (JobRecord, error) {
	return s.jm.Run(ctx, command, jobID, cwd)
}

// Stop signals jobID's process to terminate. It returns (nil, nil) if
// jobID is unknown, and is a no-op that returns the existing record if the
// job is already in a terminal state.
func (s *Supervisor) Stop(ctx context.Context, jobID string) (*JobRecord, error) {
	return s.jm.Stop(ctx, jobID)
}

// GetStatus reads jobID's current record, reconciling it against the live
// process state first when the stored status is non-terminal.
func (s *Supervisor) GetStatus(ctx context.Context, jobID string) (JobRecord, bool, error) {
	return s.jm.GetStatus(ctx, jobID)
}

// ListStatus returns every job record matching filter, keyed by job id.
func (s *Supervisor) ListStatus(ctx context.Context, filter JobFilter) (map[string]JobRecord, error) {
	return s.jm.ListStatus(ctx, filter)
}

// JobLogs returns the captured stdout/stderr of jobID's most recent run.
func (s *Supervisor) JobLogs(ctx context.Context, jobID string) (stdout, stderr string, err error) {
	return s.jm.JobLogs(ctx, jobID)
}

// Shutdown stops the job manager's event consumer and the supervisor's
// reaper, then closes the record store. It does not stop any running job:
// a job's lifetime is independent of any one Supervisor's lifetime.
func (s *Supervisor) Shutdown() error {
	s.jm.Shutdown()
	s.sv.Shutdown()
	return s.st.Close()
}

// Metrics helpers (public facade).

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler returns an http.Handler serving Prometheus metrics for the
// default gatherer. jobsup never listens on a socket itself; the embedding
// program wires this into its own server.
func MetricsHandler() http.Handler { return metrics.Handler() }
