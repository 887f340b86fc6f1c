// Package memory is an in-memory implementation of the store interfaces,
// used for tests and single-process demo runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/voice-receptionist/internal/store"
)

// redeliverAfter is how long a claimed task may sit unacknowledged before
// it becomes claimable again.
const redeliverAfter = 30 * time.Second

type queuedTask struct {
	task      store.Task
	claimedAt time.Time
	claimed   bool
	acked     bool
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.Record
	events  map[string][]store.Event
	seqs    map[string]int64
	queues  map[string][]*queuedTask
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]store.Record),
		events:  make(map[string][]store.Event),
		seqs:    make(map[string]int64),
		queues:  make(map[string][]*queuedTask),
	}
}

func (s *Store) CreateRecord(ctx context.Context, key string, fields store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[key]; exists {
		return store.ErrAlreadyExists
	}

	rec := make(store.Record, len(fields))
	for k, v := range fields {
		rec[k] = v
	}
	s.records[key] = rec
	return nil
}

func (s *Store) SetRecordFields(ctx context.Context, key string, fields store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return store.ErrNotFound
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, key string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[key]
	if !exists {
		return nil, store.ErrNotFound
	}

	out := make(store.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) DeleteRecord(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seqs[key]++
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.events[key] = append(s.events[key], store.Event{
		Sequence:  s.seqs[key],
		Fields:    copied,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *Store) ListEvents(ctx context.Context, key string) ([]store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evts := s.events[key]
	out := make([]store.Event, len(evts))
	copy(out, evts)
	return out, nil
}

func (s *Store) Enqueue(ctx context.Context, queue string, fields map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	id := uuid.NewString()
	s.queues[queue] = append(s.queues[queue], &queuedTask{
		task: store.Task{
			ID:         id,
			Fields:     copied,
			EnqueuedAt: time.Now().UTC(),
		},
	})
	return id, nil
}

func (s *Store) Dequeue(ctx context.Context, queue, consumer string, wait time.Duration) (*store.Task, error) {
	deadline := time.Now().Add(wait)
	for {
		if task := s.tryClaim(queue); task != nil {
			return task, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *Store) tryClaim(queue string) *store.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, qt := range s.queues[queue] {
		if qt.acked {
			continue
		}
		if qt.claimed && now.Sub(qt.claimedAt) < redeliverAfter {
			continue
		}
		qt.claimed = true
		qt.claimedAt = now
		task := qt.task
		return &task
	}
	return nil
}

func (s *Store) Ack(ctx context.Context, queue, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, qt := range s.queues[queue] {
		if qt.task.ID == taskID {
			qt.acked = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) Close() error {
	return nil
}
