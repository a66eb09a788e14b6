// Package cron runs scheduled jobs: cron-expression triggers persisted in
// a sqlite database, each firing a synthetic message through the agent
// loop on the "cron" channel.
package cron

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound marks an unknown job id.
var ErrNotFound = errors.New("job not found")

// Job is one scheduled trigger.
type Job struct {
	ID        string
	Name      string
	Expr      string // five-field cron expression
	Message   string // injected as the user message
	Enabled   bool
	CreatedAt time.Time
	LastRun   time.Time
	LastError string
}

// Store persists jobs in sqlite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	expr       TEXT NOT NULL,
	message    TEXT NOT NULL,
	enabled    INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	last_run   INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT ''
);`

// OpenStore opens (and if needed creates) the jobs database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open jobs db: %w", err)
	}
	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init jobs schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Add persists a new job and returns its id.
func (s *Store) Add(name, expr, message string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, name, expr, message, enabled, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		id, name, expr, message, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// Get returns one job by id.
func (s *Store) Get(id string) (*Job, error) {
	row := s.db.QueryRow(
		`SELECT id, name, expr, message, enabled, created_at, last_run, last_error FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// List returns all jobs, newest first.
func (s *Store) List() ([]*Job, error) {
	rows, err := s.db.Query(
		`SELECT id, name, expr, message, enabled, created_at, last_run, last_error FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Enabled returns only the jobs eligible to fire.
func (s *Store) Enabled() ([]*Job, error) {
	jobs, err := s.List()
	if err != nil {
		return nil, err
	}
	out := jobs[:0]
	for _, job := range jobs {
		if job.Enabled {
			out = append(out, job)
		}
	}
	return out, nil
}

// SetEnabled toggles a job.
func (s *Store) SetEnabled(id string, enabled bool) error {
	return s.update(`UPDATE jobs SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
}

// Remove deletes a job.
func (s *Store) Remove(id string) error {
	return s.update(`DELETE FROM jobs WHERE id = ?`, id)
}

// MarkRun records the outcome of a fire.
func (s *Store) MarkRun(id string, at time.Time, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return s.update(`UPDATE jobs SET last_run = ?, last_error = ? WHERE id = ?`, at.Unix(), msg, id)
}

func (s *Store) update(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var enabled int
	var created, lastRun int64
	if err := row.Scan(&job.ID, &job.Name, &job.Expr, &job.Message, &enabled, &created, &lastRun, &job.LastError); err != nil {
		return nil, err
	}
	job.Enabled = enabled != 0
	job.CreatedAt = time.Unix(created, 0)
	if lastRun > 0 {
		job.LastRun = time.Unix(lastRun, 0)
	}
	return &job, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
