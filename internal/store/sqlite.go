package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists JobRecords in a single SQLite file colocated with the
// job log directory, using a pure-Go driver so the store ships with no cgo
// dependency. A single *sql.DB connection plus the store's own mutex serialize
// writers; SQLite itself only ever sees one writer at a time.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates (or reuses) the SQLite-backed store at dbPath, creating its
// parent directory and schema if needed.
func Open(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("store: create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS process_status (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id      TEXT NOT NULL UNIQUE,
		status      TEXT NOT NULL,
		last_update TEXT NOT NULL,
		last_pid    INTEGER NOT NULL DEFAULT 0,
		command     TEXT NOT NULL DEFAULT '',
		cwd         TEXT NOT NULL DEFAULT '',
		logdir      TEXT NOT NULL DEFAULT '',
		logfile     TEXT NOT NULL DEFAULT ''
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces the row for rec.JobID, serialized by mu so
// callers never race each other's writes even though sql.DB would already
// queue them on the single connection.
func (s *SQLiteStore) Upsert(ctx context.Context, rec JobRecord) error {
	if rec.JobID == "" || rec.Status == "" {
		return ErrInvalidRecord
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, rec.Status)
	}
	if rec.LastUpdate.IsZero() {
		rec.LastUpdate = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const stmt = `INSERT INTO process_status
		(job_id, status, last_update, last_pid, command, cwd, logdir, logfile)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			last_update = excluded.last_update,
			last_pid = excluded.last_pid,
			command = excluded.command,
			cwd = excluded.cwd,
			logdir = excluded.logdir,
			logfile = excluded.logfile;`
	_, err := s.db.ExecContext(ctx, stmt,
		rec.JobID, string(rec.Status), rec.LastUpdate.UTC().Format(time.RFC3339Nano),
		rec.LastPID, rec.Command, rec.Cwd, rec.LogDir, rec.LogFile)
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", rec.JobID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, jobID string) (JobRecord, bool, error) {
	const q = `SELECT job_id, status, last_update, last_pid, command, cwd, logdir, logfile
		FROM process_status WHERE job_id = ?;`
	row := s.db.QueryRowContext(ctx, q, jobID)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return JobRecord{}, false, nil
	}
	if err != nil {
		return JobRecord{}, false, fmt.Errorf("store: get %s: %w", jobID, err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter JobFilter) ([]JobRecord, error) {
	q := `SELECT job_id, status, last_update, last_pid, command, cwd, logdir, logfile
		FROM process_status`
	where, args := filterClause(filter)
	q += where + " ORDER BY seq ASC, job_id ASC;"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return out, nil
}

func filterClause(f JobFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		clauses = append(clauses, col+" = ?")
		args = append(args, val)
	}
	add("job_id", f.JobID)
	add("status", string(f.Status))
	add("command", f.Command)
	add("cwd", f.Cwd)
	add("logdir", f.LogDir)
	add("logfile", f.LogFile)
	if len(clauses) == 0 {
		return "", nil
	}
	clause := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		clause += " AND " + c
	}
	return clause, args
}

func scanRecord(scan func(dest ...any) error) (JobRecord, error) {
	var rec JobRecord
	var status, lastUpdate string
	if err := scan(&rec.JobID, &status, &lastUpdate, &rec.LastPID, &rec.Command, &rec.Cwd, &rec.LogDir, &rec.LogFile); err != nil {
		return JobRecord{}, err
	}
	rec.Status = Status(status)
	if t, err := time.Parse(time.RFC3339Nano, lastUpdate); err == nil {
		rec.LastUpdate = t
	}
	return rec, nil
}

// Logs resolves logdir/logfile from the job's row and reads the two log
// files in full. Missing/unreadable files degrade to an in-band error
// string rather than failing the call.
func (s *SQLiteStore) Logs(ctx context.Context, jobID string) (string, string, error) {
	rec, ok, err := s.Get(ctx, jobID)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", ErrJobNotFound
	}
	return readLog(rec.LogDir, rec.LogFile, "stdout"), readLog(rec.LogDir, rec.LogFile, "stderr"), nil
}

func readLog(logDir, logFile, ext string) string {
	if logDir == "" || logFile == "" {
		return fmt.Sprintf("error: job has no %s log path recorded", ext)
	}
	path := filepath.Join(logDir, logFile+"."+ext)
	b, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("store: log read failed", "path", path, "error", err)
		return fmt.Sprintf("error: could not read %s: %v", path, err)
	}
	return string(b)
}
