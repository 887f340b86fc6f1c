package callstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/tjfontaine/voice-receptionist/internal/store/memory"
)

func newTestMachine() *Machine {
	s := memory.New()
	return New(s, s, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMachine_CreateStartsRinging(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()

	state, err := m.Create(ctx, "call-1", "default")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if state != StateRinging {
		t.Errorf("Create() state = %v, want %v", state, StateRinging)
	}

	got, err := m.GetState(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if got != StateRinging {
		t.Errorf("GetState() = %v, want %v", got, StateRinging)
	}

	events, err := m.ListEvents(ctx, "call-1")
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events count = %d, want 1", len(events))
	}
	if events[0].From != "none" || events[0].To != string(StateRinging) {
		t.Errorf("initial event = %s -> %s, want none -> ringing", events[0].From, events[0].To)
	}
}

func TestMachine_CreateDuplicate(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()

	if _, err := m.Create(ctx, "call-1", "default"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := m.Create(ctx, "call-1", "default"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("Create() duplicate error = %v, want ErrAlreadyExists", err)
	}
}

func TestMachine_ValidSequences(t *testing.T) {
	tests := []struct {
		name string
		path []State
	}{
		{"scheduled call", []State{StateGreeting, StateRouting, StateVerified, StateResolving, StateCompleted}},
		{"transferred call", []State{StateGreeting, StateRouting, StateTransferring, StateTransferred}},
		{"hangup during greeting", []State{StateGreeting, StateAbandoned}},
		{"transfer after verification", []State{StateGreeting, StateRouting, StateVerified, StateTransferring, StateTransferred}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine()
			ctx := context.Background()

			if _, err := m.Create(ctx, "call-1", "default"); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			for _, target := range tt.path {
				got, err := m.Transition(ctx, "call-1", target)
				if err != nil {
					t.Fatalf("Transition(%v) error = %v", target, err)
				}
				if got != target {
					t.Errorf("Transition() = %v, want %v", got, target)
				}
				current, err := m.GetState(ctx, "call-1")
				if err != nil {
					t.Fatalf("GetState() error = %v", err)
				}
				if current != target {
					t.Errorf("GetState() after transition = %v, want %v", current, target)
				}
			}

			events, err := m.ListEvents(ctx, "call-1")
			if err != nil {
				t.Fatalf("ListEvents() error = %v", err)
			}
			if len(events) != len(tt.path)+1 {
				t.Errorf("events count = %d, want %d", len(events), len(tt.path)+1)
			}
		})
	}
}

func TestMachine_InvalidTransitionRejected(t *testing.T) {
	tests := []struct {
		name   string
		setup  []State
		target State
	}{
		{"ringing to verified", nil, StateVerified},
		{"greeting to verified", []State{StateGreeting}, StateVerified},
		{"completed is terminal", []State{StateGreeting, StateRouting, StateVerified, StateResolving, StateCompleted}, StateGreeting},
		{"abandoned is terminal", []State{StateAbandoned}, StateGreeting},
		{"transferred is terminal", []State{StateGreeting, StateRouting, StateTransferring, StateTransferred}, StateAbandoned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine()
			ctx := context.Background()

			if _, err := m.Create(ctx, "call-1", "default"); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			var before State = StateRinging
			for _, s := range tt.setup {
				var err error
				before, err = m.Transition(ctx, "call-1", s)
				if err != nil {
					t.Fatalf("setup Transition(%v) error = %v", s, err)
				}
			}

			if _, err := m.Transition(ctx, "call-1", tt.target); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition() error = %v, want ErrInvalidTransition", err)
			}

			// Rejected transition leaves the state untouched and appends no event.
			current, err := m.GetState(ctx, "call-1")
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if current != before {
				t.Errorf("state after rejection = %v, want %v", current, before)
			}
			events, err := m.ListEvents(ctx, "call-1")
			if err != nil {
				t.Fatalf("ListEvents() error = %v", err)
			}
			if len(events) != len(tt.setup)+1 {
				t.Errorf("events count = %d, want %d", len(events), len(tt.setup)+1)
			}
		})
	}
}

func TestMachine_AbandonedReachableFromNonTerminals(t *testing.T) {
	paths := map[State][]State{
		StateRinging:      nil,
		StateGreeting:     {StateGreeting},
		StateRouting:      {StateGreeting, StateRouting},
		StateVerified:     {StateGreeting, StateRouting, StateVerified},
		StateResolving:    {StateGreeting, StateRouting, StateVerified, StateResolving},
		StateTransferring: {StateGreeting, StateRouting, StateTransferring},
	}

	for from, path := range paths {
		t.Run(string(from), func(t *testing.T) {
			m := newTestMachine()
			ctx := context.Background()

			if _, err := m.Create(ctx, "call-1", "default"); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			for _, s := range path {
				if _, err := m.Transition(ctx, "call-1", s); err != nil {
					t.Fatalf("setup Transition(%v) error = %v", s, err)
				}
			}

			if _, err := m.Transition(ctx, "call-1", StateAbandoned); err != nil {
				t.Errorf("Transition(abandoned) from %v error = %v", from, err)
			}
		})
	}
}

func TestMachine_TransitionUnknownCall(t *testing.T) {
	m := newTestMachine()

	if _, err := m.Transition(context.Background(), "nope", StateGreeting); !errors.Is(err, ErrNotFound) {
		t.Errorf("Transition() error = %v, want ErrNotFound", err)
	}
	if _, err := m.GetState(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetState() error = %v, want ErrNotFound", err)
	}
}

func TestMachine_MetadataAndVerified(t *testing.T) {
	m := newTestMachine()
	ctx := context.Background()

	if _, err := m.Create(ctx, "call-1", "default"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	verified, err := m.IsVerified(ctx, "call-1")
	if err != nil {
		t.Fatalf("IsVerified() error = %v", err)
	}
	if verified {
		t.Error("IsVerified() = true before verification")
	}

	if err := m.SetMetadata(ctx, "call-1", "patient_id", "p-123"); err != nil {
		t.Fatalf("SetMetadata() error = %v", err)
	}
	if err := m.SetMetadata(ctx, "call-1", "state", "verified"); err == nil {
		t.Error("SetMetadata() allowed overwriting the reserved state field")
	}

	info, err := m.GetCallInfo(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetCallInfo() error = %v", err)
	}
	if info.State != StateRinging {
		t.Errorf("State = %v, want ringing", info.State)
	}
	if info.Metadata["patient_id"] != "p-123" {
		t.Errorf("patient_id = %v, want p-123", info.Metadata["patient_id"])
	}

	for _, s := range []State{StateGreeting, StateRouting, StateVerified} {
		if _, err := m.Transition(ctx, "call-1", s); err != nil {
			t.Fatalf("Transition(%v) error = %v", s, err)
		}
	}
	verified, err = m.IsVerified(ctx, "call-1")
	if err != nil {
		t.Fatalf("IsVerified() error = %v", err)
	}
	if !verified {
		t.Error("IsVerified() = false after reaching verified")
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateTransferred, StateAbandoned} {
		if !s.Terminal() {
			t.Errorf("%v.Terminal() = false, want true", s)
		}
	}
	for _, s := range []State{StateRinging, StateGreeting, StateRouting, StateVerified, StateResolving, StateTransferring} {
		if s.Terminal() {
			t.Errorf("%v.Terminal() = true, want false", s)
		}
	}
}
