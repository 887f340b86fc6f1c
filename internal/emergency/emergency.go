// Package emergency scans finalized caller utterances for crisis language
// and steers the agent toward emergency guidance without interrupting the
// pipeline.
package emergency

import (
	"context"
	"log/slog"
	"strings"
)

// Keywords is the crisis phrase set matched case-insensitively as
// substrings of finalized utterances.
var Keywords = []string{
	"chest pain",
	"can't breathe",
	"heart attack",
	"stroke",
	"bleeding",
	"unconscious",
	"suicide",
	"overdose",
	"911",
	"difficulty breathing",
	"allergic reaction",
	"passing out",
	"killing myself",
	"want to die",
	"self-harm",
}

// OverrideDirective is injected into the agent's instruction stream when a
// crisis phrase is detected. It steers the agent; it does not halt anything.
const OverrideDirective = "EMERGENCY DETECTED. The caller may be experiencing a medical emergency. " +
	"Immediately tell them: 'This sounds like it could be a medical emergency. " +
	"Please hang up and call 911 immediately, or go to your nearest emergency room. " +
	"If you need me to stay on the line while you call, I can do that.' " +
	"Do NOT attempt to schedule or verify identity."

// DirectiveSink receives high-priority system directives for the agent.
type DirectiveSink interface {
	InjectDirective(ctx context.Context, callID, directive string) error
}

// Detector watches finalized caller utterances for the keyword set.
type Detector struct {
	sink   DirectiveSink
	logger *slog.Logger
}

// New creates a Detector that injects directives into sink on a match.
func New(sink DirectiveSink, logger *slog.Logger) *Detector {
	return &Detector{sink: sink, logger: logger}
}

// Match reports whether text contains any crisis phrase.
func Match(text string) bool {
	lowered := strings.ToLower(text)
	for _, kw := range Keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// ObserveFinal checks one finalized caller utterance. On a match, the
// override directive is injected; a sink failure is logged and swallowed so
// detection never disrupts the live call.
func (d *Detector) ObserveFinal(ctx context.Context, callID, text string) {
	if !Match(text) {
		return
	}

	d.logger.Warn("emergency language detected",
		slog.String("call_id", callID),
	)
	if err := d.sink.InjectDirective(ctx, callID, OverrideDirective); err != nil {
		d.logger.Error("failed to inject emergency directive",
			slog.String("call_id", callID),
			slog.String("error", err.Error()),
		)
	}
}
