// Package store defines the persistence boundary for call records, audit
// events, transcripts, and the post-call analysis queue. Backends live in
// the memory and sqlite subpackages.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists indicates a record with the same key already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// Record is a flat field map, the unit of structured storage.
type Record map[string]string

// Event is one entry in an append-only log. Sequence is monotonically
// increasing per log key.
type Event struct {
	Sequence  int64
	Fields    map[string]string
	CreatedAt time.Time
}

// Task is one unit of queued work. A dequeued task must be acknowledged
// with Ack once processed; unacknowledged tasks are redelivered.
type Task struct {
	ID         string
	Fields     map[string]string
	EnqueuedAt time.Time
}

// RecordStore is key-value storage of structured records.
type RecordStore interface {
	// CreateRecord stores a new record, failing with ErrAlreadyExists if
	// the key is taken.
	CreateRecord(ctx context.Context, key string, fields Record) error

	// SetRecordFields merges fields into an existing record.
	SetRecordFields(ctx context.Context, key string, fields Record) error

	// GetRecord returns the full record or ErrNotFound.
	GetRecord(ctx context.Context, key string) (Record, error)

	// ListKeys returns all record keys with the given prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// DeleteRecord removes a record. Deleting a missing key is a no-op.
	DeleteRecord(ctx context.Context, key string) error
}

// EventLog is append-only, ordered storage. Appends are durable before
// they return.
type EventLog interface {
	AppendEvent(ctx context.Context, key string, fields map[string]string) error
	ListEvents(ctx context.Context, key string) ([]Event, error)
}

// WorkQueue is a durable at-least-once queue with consumer acknowledgment.
type WorkQueue interface {
	// Enqueue adds a task and returns its id.
	Enqueue(ctx context.Context, queue string, fields map[string]string) (string, error)

	// Dequeue claims the oldest available task, blocking up to wait for one
	// to arrive. Returns (nil, nil) when the wait elapses with nothing to
	// claim. Claimed tasks that are never acknowledged become available
	// again after the backend's redelivery timeout.
	Dequeue(ctx context.Context, queue, consumer string, wait time.Duration) (*Task, error)

	// Ack marks a claimed task as done; it will not be redelivered.
	Ack(ctx context.Context, queue, taskID string) error
}

// Store is the full persistence surface the service wires at startup.
type Store interface {
	RecordStore
	EventLog
	WorkQueue
	Close() error
}
