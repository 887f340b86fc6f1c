package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/voice-receptionist/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRecord(ctx, "call:abc", store.Record{"state": "ringing", "provider_id": "default"}); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}

	if err := s.CreateRecord(ctx, "call:abc", store.Record{"state": "ringing"}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("CreateRecord() duplicate error = %v, want ErrAlreadyExists", err)
	}

	if err := s.SetRecordFields(ctx, "call:abc", store.Record{"state": "greeting"}); err != nil {
		t.Fatalf("SetRecordFields() error = %v", err)
	}

	rec, err := s.GetRecord(ctx, "call:abc")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if rec["state"] != "greeting" {
		t.Errorf("state = %v, want greeting", rec["state"])
	}
	if rec["provider_id"] != "default" {
		t.Errorf("provider_id = %v, want default", rec["provider_id"])
	}

	if _, err := s.GetRecord(ctx, "call:missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRecord() missing error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_EventsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	transitions := []string{"ringing", "greeting", "routing", "verified"}
	for _, to := range transitions {
		if err := s.AppendEvent(ctx, "call:abc:events", map[string]string{"to": to}); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	events, err := s.ListEvents(ctx, "call:abc:events")
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != len(transitions) {
		t.Fatalf("events count = %d, want %d", len(events), len(transitions))
	}
	for i, want := range transitions {
		if events[i].Fields["to"] != want {
			t.Errorf("event %d to = %v, want %v", i, events[i].Fields["to"], want)
		}
	}
}

func TestSQLiteStore_DeleteRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRecord(ctx, "knowledge:hours:1", store.Record{"content": "old"}); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if err := s.DeleteRecord(ctx, "knowledge:hours:1"); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}
	if _, err := s.GetRecord(ctx, "knowledge:hours:1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRecord() after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteRecord(ctx, "knowledge:hours:1"); err != nil {
		t.Errorf("DeleteRecord() on missing key error = %v, want nil", err)
	}
}

func TestSQLiteStore_QueueLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "analysis", map[string]string{"call_id": "abc"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	task, err := s.Dequeue(ctx, "analysis", "worker-1", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if task == nil || task.ID != id {
		t.Fatalf("Dequeue() task = %+v, want id %v", task, id)
	}

	if err := s.Ack(ctx, "analysis", task.ID); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}

	again, err := s.Dequeue(ctx, "analysis", "worker-1", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if again != nil {
		t.Errorf("Dequeue() returned acked task %v", again.ID)
	}
}

func TestSQLiteStore_AckUnknownTask(t *testing.T) {
	s := newTestStore(t)

	err := s.Ack(context.Background(), "analysis", "no-such-task")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Ack() error = %v, want ErrNotFound", err)
	}
}
