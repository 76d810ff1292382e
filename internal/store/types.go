package store

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a job record. Only Starting and Running
// are non-terminal; every other value is a terminal state that only an
// explicit Run moves off of.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusRunning     Status = "running"
	StatusFinished    Status = "finished"
	StatusFailed      Status = "failed"
	StatusFailedStart Status = "failed_start"
	StatusStopped     Status = "stopped"
)

// Terminal reports whether s is a state from which no further automatic
// transition occurs.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusFailedStart, StatusStopped:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the six wire-stable enum values.
func (s Status) Valid() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusFinished, StatusFailed, StatusFailedStart, StatusStopped:
		return true
	default:
		return false
	}
}

// JobRecord is the persisted metadata for one job, keyed by JobID.
type JobRecord struct {
	JobID      string
	Status     Status
	LastUpdate time.Time
	LastPID    int
	Command    string
	Cwd        string
	LogDir     string
	LogFile    string
}

// JobFilter is a partial JobRecord used as an equality predicate. A field
// left at its zero value is ignored; an empty filter matches everything.
type JobFilter struct {
	JobID   string
	Status  Status
	Command string
	Cwd     string
	LogDir  string
	LogFile string
}

var (
	// ErrInvalidRecord is returned by Upsert when JobID or Status is missing
	// or Status is not one of the six enum values.
	ErrInvalidRecord = errors.New("store: invalid job record")
	// ErrJobNotFound is returned by operations that require an existing row.
	ErrJobNotFound = errors.New("store: job not found")
)

// Store is the Record Store contract: a persistent table of job records
// keyed by job id, with insert-or-update semantics and filtered
// enumeration. Implementations must serialize concurrent writers and make
// each Upsert durable before it returns.
type Store interface {
	// Upsert inserts the record if JobID is absent, otherwise replaces every
	// field of the existing row. LastUpdate is set to the current wall
	// clock when the caller leaves it zero.
	Upsert(ctx context.Context, rec JobRecord) error

	// Get returns the record for jobID, or ok=false if no such job exists.
	Get(ctx context.Context, jobID string) (rec JobRecord, ok bool, err error)

	// List returns every record matching filter, ordered by insertion order
	// of the first Upsert for that id, ties broken lexicographically by
	// JobID.
	List(ctx context.Context, filter JobFilter) ([]JobRecord, error)

	// Logs reads the job's stdout/stderr log files in full. A missing or
	// unreadable file surfaces as a human-readable string in its position
	// in the returned tuple rather than a non-nil error; err is non-nil
	// only when the job record does not exist (ErrJobNotFound) or cannot
	// be read.
	Logs(ctx context.Context, jobID string) (stdout, stderr string, err error)

	Close() error
}
