// Package callstate is the system of record for call lifecycle. Every
// transition is validated against the transition graph and appended to a
// per-call audit log before the mutation is acknowledged.
package callstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/voice-receptionist/internal/store"
)

var (
	// ErrNotFound indicates the call does not exist.
	ErrNotFound = errors.New("call not found")

	// ErrAlreadyExists indicates a call with the same id was already created.
	ErrAlreadyExists = errors.New("call already exists")

	// ErrInvalidTransition indicates the requested transition is not in the
	// transition graph. The machine rejects these uniformly; there is no
	// permit-with-warning path.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// CallInfo is a snapshot of a call record.
type CallInfo struct {
	CallID     string            `json:"call_id"`
	State      State             `json:"state"`
	ProviderID string            `json:"provider_id"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// TransitionEvent is one immutable entry in a call's audit trail.
type TransitionEvent struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp string    `json:"timestamp"`
	CreatedAt time.Time `json:"-"`
}

// Machine manages call records and their transition audit trail.
type Machine struct {
	records store.RecordStore
	events  store.EventLog
	logger  *slog.Logger
}

// New creates a Machine backed by the given record store and event log.
func New(records store.RecordStore, events store.EventLog, logger *slog.Logger) *Machine {
	return &Machine{records: records, events: events, logger: logger}
}

func callKey(callID string) string   { return "call:" + callID }
func eventsKey(callID string) string { return "call:" + callID + ":events" }

// reservedFields are record fields owned by the machine itself; everything
// else in the record is caller metadata.
var reservedFields = map[string]bool{
	"state":       true,
	"provider_id": true,
	"created_at":  true,
	"updated_at":  true,
}

// Create initializes a new call in the ringing state and appends the
// initial audit event.
func (m *Machine) Create(ctx context.Context, callID, providerID string) (State, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := m.records.CreateRecord(ctx, callKey(callID), store.Record{
		"state":       string(StateRinging),
		"provider_id": providerID,
		"created_at":  now,
		"updated_at":  now,
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return "", fmt.Errorf("call %s: %w", callID, ErrAlreadyExists)
		}
		return "", fmt.Errorf("failed to create call %s: %w", callID, err)
	}

	if err := m.logTransition(ctx, callID, "", StateRinging); err != nil {
		return "", err
	}
	return StateRinging, nil
}

// Transition moves the call to target. The transition must be in the graph;
// invalid requests are rejected with ErrInvalidTransition and logged, the
// call record is untouched. The audit event is durable before Transition
// returns.
func (m *Machine) Transition(ctx context.Context, callID string, target State) (State, error) {
	current, err := m.GetState(ctx, callID)
	if err != nil {
		return "", err
	}

	if !current.CanTransition(target) {
		m.logger.Warn("rejected invalid call transition",
			slog.String("call_id", callID),
			slog.String("from", string(current)),
			slog.String("to", string(target)),
		)
		return "", fmt.Errorf("call %s: %s -> %s: %w", callID, current, target, ErrInvalidTransition)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = m.records.SetRecordFields(ctx, callKey(callID), store.Record{
		"state":      string(target),
		"updated_at": now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to update call %s: %w", callID, err)
	}

	if err := m.logTransition(ctx, callID, current, target); err != nil {
		return "", err
	}
	return target, nil
}

// GetState returns the call's current state or ErrNotFound.
func (m *Machine) GetState(ctx context.Context, callID string) (State, error) {
	rec, err := m.records.GetRecord(ctx, callKey(callID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("call %s: %w", callID, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read call %s: %w", callID, err)
	}
	return State(rec["state"]), nil
}

// SetMetadata merges a single metadata key into the call record without
// touching the state.
func (m *Machine) SetMetadata(ctx context.Context, callID, key, value string) error {
	if reservedFields[key] {
		return fmt.Errorf("metadata key %q is reserved", key)
	}
	err := m.records.SetRecordFields(ctx, callKey(callID), store.Record{key: value})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("call %s: %w", callID, ErrNotFound)
		}
		return fmt.Errorf("failed to set metadata on call %s: %w", callID, err)
	}
	return nil
}

// GetCallInfo returns the full call record or ErrNotFound.
func (m *Machine) GetCallInfo(ctx context.Context, callID string) (*CallInfo, error) {
	rec, err := m.records.GetRecord(ctx, callKey(callID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read call %s: %w", callID, err)
	}

	info := &CallInfo{
		CallID:     callID,
		State:      State(rec["state"]),
		ProviderID: rec["provider_id"],
		CreatedAt:  rec["created_at"],
		UpdatedAt:  rec["updated_at"],
		Metadata:   make(map[string]string),
	}
	for k, v := range rec {
		if !reservedFields[k] {
			info.Metadata[k] = v
		}
	}
	return info, nil
}

// IsVerified reports whether the call is currently in the verified state.
// Reads the record fresh every time so gating decisions never act on a
// cached answer.
func (m *Machine) IsVerified(ctx context.Context, callID string) (bool, error) {
	state, err := m.GetState(ctx, callID)
	if err != nil {
		return false, err
	}
	return state == StateVerified, nil
}

// ListEvents returns the call's audit trail in append order.
func (m *Machine) ListEvents(ctx context.Context, callID string) ([]TransitionEvent, error) {
	events, err := m.events.ListEvents(ctx, eventsKey(callID))
	if err != nil {
		return nil, fmt.Errorf("failed to list events for call %s: %w", callID, err)
	}

	out := make([]TransitionEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, TransitionEvent{
			From:      evt.Fields["from"],
			To:        evt.Fields["to"],
			Timestamp: evt.Fields["timestamp"],
			CreatedAt: evt.CreatedAt,
		})
	}
	return out, nil
}

func (m *Machine) logTransition(ctx context.Context, callID string, from, to State) error {
	fromVal := "none"
	if from != "" {
		fromVal = string(from)
	}
	err := m.events.AppendEvent(ctx, eventsKey(callID), map[string]string{
		"type":      "state_transition",
		"from":      fromVal,
		"to":        string(to),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to append audit event for call %s: %w", callID, err)
	}

	m.logger.Info("call state transition",
		slog.String("call_id", callID),
		slog.String("from", fromVal),
		slog.String("to", string(to)),
	)
	return nil
}
