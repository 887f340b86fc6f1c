// Package worker consumes the post-call analysis queue. Each ended call is
// summarized from its record and transcript into an analysis record; tasks
// are acknowledged only after the record is stored, so a crashed worker's
// claims are redelivered.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tjfontaine/voice-receptionist/internal/callstate"
	"github.com/tjfontaine/voice-receptionist/internal/emergency"
	"github.com/tjfontaine/voice-receptionist/internal/store"
	"github.com/tjfontaine/voice-receptionist/internal/transcript"
)

// AnalysisQueue is the queue ended calls are published to.
const AnalysisQueue = "analysis:calls"

// dequeueWait bounds each blocking poll so shutdown stays responsive.
const dequeueWait = time.Second

// Call outcomes, ordered from most to least specific.
const (
	OutcomeScheduled   = "scheduled"
	OutcomeEmergency   = "emergency"
	OutcomeTransferred = "transferred"
	OutcomeAnswered    = "answered"
	OutcomeAbandoned   = "abandoned"
)

// Worker is one analysis consumer.
type Worker struct {
	consumer    string
	queue       store.WorkQueue
	records     store.RecordStore
	state       *callstate.Machine
	transcripts *transcript.Recorder
	logger      *slog.Logger
}

// New creates a Worker identified by consumer for redelivery accounting.
func New(consumer string, queue store.WorkQueue, records store.RecordStore, state *callstate.Machine, transcripts *transcript.Recorder, logger *slog.Logger) *Worker {
	return &Worker{
		consumer:    consumer,
		queue:       queue,
		records:     records,
		state:       state,
		transcripts: transcripts,
		logger:      logger,
	}
}

// Run consumes tasks until ctx is cancelled. Processing errors are logged
// and the task is left unacknowledged for redelivery.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("analysis worker started", slog.String("consumer", w.consumer))
	for {
		if ctx.Err() != nil {
			w.logger.Info("analysis worker stopped", slog.String("consumer", w.consumer))
			return
		}

		task, err := w.queue.Dequeue(ctx, AnalysisQueue, w.consumer, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("dequeue failed", slog.String("error", err.Error()))
			select {
			case <-time.After(dequeueWait):
			case <-ctx.Done():
			}
			continue
		}
		if task == nil {
			continue
		}

		callID := task.Fields["call_id"]
		if callID == "" {
			// Malformed task; nothing will ever make it processable.
			if err := w.queue.Ack(ctx, AnalysisQueue, task.ID); err != nil {
				w.logger.Error("ack failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
			}
			continue
		}

		if err := w.process(ctx, callID); err != nil {
			w.logger.Error("analysis failed, leaving task for redelivery",
				slog.String("call_id", callID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := w.queue.Ack(ctx, AnalysisQueue, task.ID); err != nil {
			w.logger.Error("ack failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		}
	}
}

// process builds and stores the analysis record for one ended call.
func (w *Worker) process(ctx context.Context, callID string) error {
	info, err := w.state.GetCallInfo(ctx, callID)
	if err != nil {
		return fmt.Errorf("load call %s: %w", callID, err)
	}
	entries, err := w.transcripts.List(ctx, callID)
	if err != nil {
		return fmt.Errorf("load transcript %s: %w", callID, err)
	}

	analysis := Analyze(info, entries)
	key := "analysis:" + callID
	fields := analysis.record()

	if err := w.records.CreateRecord(ctx, key, fields); err != nil {
		// A redelivered task may have stored the record already; overwrite
		// with the fresh computation.
		if err := w.records.SetRecordFields(ctx, key, fields); err != nil {
			return fmt.Errorf("store analysis %s: %w", callID, err)
		}
	}

	w.logger.Info("analysis stored",
		slog.String("call_id", callID),
		slog.String("outcome", analysis.Outcome),
	)
	return nil
}

// Analysis is the summarized outcome of one call.
type Analysis struct {
	CallID         string `json:"call_id"`
	Outcome        string `json:"outcome"`
	FinalState     string `json:"final_state"`
	Reason         string `json:"reason,omitempty"`
	UserUtterances int    `json:"user_utterances"`
	BotUtterances  int    `json:"bot_utterances"`
}

func (a Analysis) record() store.Record {
	return store.Record{
		"call_id":         a.CallID,
		"outcome":         a.Outcome,
		"final_state":     a.FinalState,
		"reason":          a.Reason,
		"user_utterances": strconv.Itoa(a.UserUtterances),
		"bot_utterances":  strconv.Itoa(a.BotUtterances),
		"analyzed_at":     time.Now().UTC().Format(time.RFC3339),
	}
}

// Analyze classifies a call's outcome from its record and transcript.
// A booked appointment wins over everything; emergency language is next;
// then transfers, then calls that verified but never booked.
func Analyze(info *callstate.CallInfo, entries []transcript.Entry) Analysis {
	a := Analysis{
		CallID:     info.CallID,
		FinalState: string(info.State),
		Outcome:    OutcomeAbandoned,
	}

	emergencyHit := false
	for _, e := range entries {
		switch e.Role {
		case transcript.RoleUser:
			a.UserUtterances++
			if a.Reason == "" {
				a.Reason = Redact(e.Text)
			}
			if emergency.Match(e.Text) {
				emergencyHit = true
			}
		case transcript.RoleAssistant:
			a.BotUtterances++
		}
	}

	switch {
	case info.Metadata["scheduled"] == "true":
		a.Outcome = OutcomeScheduled
	case emergencyHit:
		a.Outcome = OutcomeEmergency
	case info.State == callstate.StateTransferred:
		a.Outcome = OutcomeTransferred
	case info.Metadata["patient_id"] != "":
		a.Outcome = OutcomeAnswered
	}
	return a
}
