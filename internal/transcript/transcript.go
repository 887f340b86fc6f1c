// Package transcript records the finalized utterances of a call as an
// append-only, ordered log alongside the call record.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/voice-receptionist/internal/store"
)

// Roles attached to transcript entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Entry is one finalized utterance.
type Entry struct {
	Sequence  int64     `json:"sequence"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder appends call utterances to the event log.
type Recorder struct {
	events store.EventLog
	logger *slog.Logger
}

// NewRecorder creates a Recorder over the given event log.
func NewRecorder(events store.EventLog, logger *slog.Logger) *Recorder {
	return &Recorder{events: events, logger: logger}
}

func transcriptKey(callID string) string {
	return "call:" + callID + ":transcript"
}

// Record appends one utterance. Empty text is dropped silently; partial
// transcripts never reach this layer.
func (r *Recorder) Record(ctx context.Context, callID, role, text string) error {
	if text == "" {
		return nil
	}
	err := r.events.AppendEvent(ctx, transcriptKey(callID), map[string]string{
		"role":      role,
		"text":      text,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

// List returns the call's transcript in utterance order.
func (r *Recorder) List(ctx context.Context, callID string) ([]Entry, error) {
	events, err := r.events.ListEvents(ctx, transcriptKey(callID))
	if err != nil {
		return nil, fmt.Errorf("list transcript: %w", err)
	}

	entries := make([]Entry, 0, len(events))
	for _, ev := range events {
		e := Entry{
			Sequence: ev.Sequence,
			Role:     ev.Fields["role"],
			Text:     ev.Fields["text"],
		}
		if ts, err := time.Parse(time.RFC3339Nano, ev.Fields["timestamp"]); err == nil {
			e.Timestamp = ts
		} else {
			e.Timestamp = ev.CreatedAt
		}
		entries = append(entries, e)
	}
	return entries, nil
}
