// Package eventlog is the durable, append-only record of everything the
// supervisor does: task transitions, worker lifecycle, safety verdicts,
// command handling, budget updates. It is a single SQLite database in WAL
// mode; the supervisor appends through Log and external tools read
// through Reader without blocking it.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	source     TEXT NOT NULL,
	task_id    TEXT NOT NULL DEFAULT '',
	worker_id  TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_worker ON events(worker_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// Event is a single event log row.
type Event struct {
	ID        int64
	Type      string
	Source    string
	TaskID    string
	WorkerID  string
	Payload   string
	CreatedAt time.Time
}

// Log is the supervisor's append handle. Not safe for concurrent use by
// multiple supervisors; there is only ever one.
type Log struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// Open creates or opens the event database at dbPath, applying the schema
// and enabling WAL so readers never block the writer.
func Open(dbPath string) (*Log, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply event log schema: %w", err)
	}
	return &Log{db: db, nowFunc: time.Now}, nil
}

// Append records one event. Failures are returned, not fatal; the
// supervisor logs them and keeps running, since a full disk must not take
// the whole system down.
func (l *Log) Append(ctx context.Context, eventType, source, taskID, workerID, payload string) error {
	createdAt := l.nowFunc().UTC().Format(timeLayout)
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO events (type, source, task_id, worker_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		eventType, source, taskID, workerID, payload, createdAt)
	if err != nil {
		return fmt.Errorf("append event %s: %w", eventType, err)
	}
	return nil
}

// Prune deletes events older than the cutoff, returning how many rows
// went away. Called periodically so the log does not grow without bound.
func (l *Log) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		"DELETE FROM events WHERE created_at < ?", olderThan.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
