// Package sqlite is the durable SQLite-backed implementation of the store
// interfaces. Records, events, and queued tasks are committed before the
// corresponding call returns.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/voice-receptionist/internal/store"
)

// redeliverAfter is how long a claimed task may sit unacknowledged before
// it becomes claimable again.
const redeliverAfter = 30 * time.Second

// Store is a SQLite implementation of store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			key TEXT PRIMARY KEY,
			fields TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			fields TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue_tasks (
			id TEXT PRIMARY KEY,
			queue TEXT NOT NULL,
			fields TEXT NOT NULL,
			acked INTEGER NOT NULL DEFAULT 0,
			claimed_at TIMESTAMP,
			claimed_by TEXT,
			enqueued_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_key ON events(key)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_tasks_queue ON queue_tasks(queue, acked)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateRecord(ctx context.Context, key string, fields store.Record) error {
	blob, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (key, fields, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		key, string(blob), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

func (s *Store) SetRecordFields(ctx context.Context, key string, fields store.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var blob string
	err = tx.QueryRowContext(ctx, `SELECT fields FROM records WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}

	rec := make(store.Record)
	if err := json.Unmarshal([]byte(blob), &rec); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	for k, v := range fields {
		rec[k] = v
	}

	merged, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET fields = ?, updated_at = ? WHERE key = ?`,
		string(merged), time.Now().UTC(), key); err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetRecord(ctx context.Context, key string) (store.Record, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT fields FROM records WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	rec := make(store.Record)
	if err := json.Unmarshal([]byte(blob), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM records WHERE key LIKE ? || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) DeleteRecord(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, key string, fields map[string]string) error {
	blob, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO events (key, fields, created_at) VALUES (?, ?, ?)`,
		key, string(blob), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, key string) ([]store.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, created_at FROM events WHERE key = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []store.Event
	for rows.Next() {
		var (
			evt  store.Event
			blob string
		)
		if err := rows.Scan(&evt.Sequence, &blob, &evt.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(blob), &evt.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (s *Store) Enqueue(ctx context.Context, queue string, fields map[string]string) (string, error) {
	blob, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_tasks (id, queue, fields, enqueued_at) VALUES (?, ?, ?, ?)`,
		id, queue, string(blob), time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return id, nil
}

func (s *Store) Dequeue(ctx context.Context, queue, consumer string, wait time.Duration) (*store.Task, error) {
	deadline := time.Now().Add(wait)
	for {
		task, err := s.tryClaim(ctx, queue, consumer)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *Store) tryClaim(ctx context.Context, queue, consumer string) (*store.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := time.Now().Add(-redeliverAfter)
	var (
		id         string
		blob       string
		enqueuedAt time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, fields, enqueued_at FROM queue_tasks
		 WHERE queue = ? AND acked = 0 AND (claimed_at IS NULL OR claimed_at < ?)
		 ORDER BY enqueued_at LIMIT 1`,
		queue, cutoff).Scan(&id, &blob, &enqueuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE queue_tasks SET claimed_at = ?, claimed_by = ? WHERE id = ?`,
		time.Now().UTC(), consumer, id); err != nil {
		return nil, fmt.Errorf("failed to mark task claimed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task := &store.Task{ID: id, EnqueuedAt: enqueuedAt}
	if err := json.Unmarshal([]byte(blob), &task.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return task, nil
}

func (s *Store) Ack(ctx context.Context, queue, taskID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_tasks SET acked = 1 WHERE id = ? AND queue = ?`, taskID, queue)
	if err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
