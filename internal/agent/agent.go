// Package agent glues the live-call event flow together: transcript events
// fan out to the prefetcher, the emergency detector, and the transcript
// recorder, and call lifecycle events drive the state machine and the
// post-call analysis queue.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tjfontaine/voice-receptionist/internal/callstate"
	"github.com/tjfontaine/voice-receptionist/internal/emergency"
	"github.com/tjfontaine/voice-receptionist/internal/knowledge"
	"github.com/tjfontaine/voice-receptionist/internal/prefetch"
	"github.com/tjfontaine/voice-receptionist/internal/store"
	"github.com/tjfontaine/voice-receptionist/internal/transcript"
	"github.com/tjfontaine/voice-receptionist/internal/worker"
)

// session is the per-call live state: one prefetcher plus any emergency
// directives waiting for the media layer to pick up.
type session struct {
	mu         sync.Mutex
	prefetcher *prefetch.Prefetcher
	directives []string
}

// Manager owns one session per active call.
type Manager struct {
	state       *callstate.Machine
	transcripts *transcript.Recorder
	kb          prefetch.Searcher
	queue       store.WorkQueue
	logger      *slog.Logger
	detector    *emergency.Detector
	prefetchOpt []prefetch.Option

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager wires a Manager. The manager itself is the emergency
// detector's directive sink.
func NewManager(state *callstate.Machine, transcripts *transcript.Recorder, kb prefetch.Searcher, queue store.WorkQueue, logger *slog.Logger, prefetchOpts ...prefetch.Option) *Manager {
	m := &Manager{
		state:       state,
		transcripts: transcripts,
		kb:          kb,
		queue:       queue,
		logger:      logger,
		prefetchOpt: prefetchOpts,
		sessions:    make(map[string]*session),
	}
	m.detector = emergency.New(m, logger)
	return m
}

var _ emergency.DirectiveSink = (*Manager)(nil)

// StartCall creates the call record and opens a live session for it.
func (m *Manager) StartCall(ctx context.Context, callID, providerID string) error {
	if _, err := m.state.Create(ctx, callID, providerID); err != nil {
		return fmt.Errorf("create call: %w", err)
	}

	m.mu.Lock()
	m.sessions[callID] = &session{
		prefetcher: prefetch.New(m.kb, m.logger.With(slog.String("call_id", callID)), m.prefetchOpt...),
	}
	m.mu.Unlock()

	m.logger.Info("call session started",
		slog.String("call_id", callID),
		slog.String("provider_id", providerID),
	)
	return nil
}

func (m *Manager) session(callID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[callID]
}

// OnUserPartial feeds an interim transcript to the call's prefetcher.
// Unknown calls are ignored; partials can race the start webhook.
func (m *Manager) OnUserPartial(callID, text string) {
	if s := m.session(callID); s != nil {
		s.prefetcher.ObservePartial(text)
	}
}

// OnUserFinal records a finalized caller utterance, runs emergency
// detection on it, and returns any directives the detector raised.
func (m *Manager) OnUserFinal(ctx context.Context, callID, text string) ([]string, error) {
	if err := m.transcripts.Record(ctx, callID, transcript.RoleUser, text); err != nil {
		return nil, err
	}
	m.detector.ObserveFinal(ctx, callID, text)
	return m.drainDirectives(callID), nil
}

// OnAssistantFinal records a finalized agent utterance.
func (m *Manager) OnAssistantFinal(ctx context.Context, callID, text string) error {
	return m.transcripts.Record(ctx, callID, transcript.RoleAssistant, text)
}

// InjectDirective buffers a high-priority directive until the media layer
// drains it with the next transcript event.
func (m *Manager) InjectDirective(ctx context.Context, callID, directive string) error {
	s := m.session(callID)
	if s == nil {
		return fmt.Errorf("no active session for call %s", callID)
	}
	s.mu.Lock()
	s.directives = append(s.directives, directive)
	s.mu.Unlock()
	return nil
}

func (m *Manager) drainDirectives(callID string) []string {
	s := m.session(callID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.directives
	s.directives = nil
	return out
}

// CachedResult serves the call's prefetched knowledge results, if a live
// session holds any for this query.
func (m *Manager) CachedResult(callID, query string) ([]knowledge.Result, bool) {
	s := m.session(callID)
	if s == nil {
		return nil, false
	}
	return s.prefetcher.GetCachedResult(query)
}

// EndCall tears down the session, finalizes the call state, and enqueues
// the call for post-call analysis. It is safe to call for a call whose
// session is gone (say, after a restart); state finalization and the
// analysis enqueue still happen.
func (m *Manager) EndCall(ctx context.Context, callID string) error {
	m.mu.Lock()
	s := m.sessions[callID]
	delete(m.sessions, callID)
	m.mu.Unlock()
	if s != nil {
		s.prefetcher.Close()
	}

	if err := m.finalizeState(ctx, callID); err != nil {
		return err
	}

	if _, err := m.queue.Enqueue(ctx, worker.AnalysisQueue, map[string]string{"call_id": callID}); err != nil {
		// The call itself ended fine; losing the analysis task is worth a
		// log line, not a failed webhook.
		m.logger.Error("failed to enqueue analysis",
			slog.String("call_id", callID),
			slog.String("error", err.Error()),
		)
	} else {
		m.logger.Info("call queued for analysis", slog.String("call_id", callID))
	}
	return nil
}

// finalizeState walks the call into a terminal state on hangup: resolving
// calls completed, transferring calls transferred, everything else
// abandoned. Calls already terminal stay put.
func (m *Manager) finalizeState(ctx context.Context, callID string) error {
	current, err := m.state.GetState(ctx, callID)
	if err != nil {
		return fmt.Errorf("finalize call %s: %w", callID, err)
	}
	if current.Terminal() {
		return nil
	}

	target := callstate.StateAbandoned
	switch current {
	case callstate.StateResolving:
		target = callstate.StateCompleted
	case callstate.StateTransferring:
		target = callstate.StateTransferred
	}
	if _, err := m.state.Transition(ctx, callID, target); err != nil {
		return fmt.Errorf("finalize call %s: %w", callID, err)
	}
	return nil
}
