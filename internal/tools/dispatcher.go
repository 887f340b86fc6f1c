// Package tools maps agent-issued function calls to handlers, enforcing the
// verification gate before anything touches protected EHR operations. Every
// outcome, success or failure, resolves to a JSON payload the agent can
// read aloud; nothing propagates as an error into the pipeline.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/voice-receptionist/internal/callstate"
	"github.com/tjfontaine/voice-receptionist/internal/ehr"
	"github.com/tjfontaine/voice-receptionist/internal/knowledge"
)

// maxSlotsReturned caps the slot list handed to the agent; the full count
// is reported separately.
const maxSlotsReturned = 10

// CacheSource serves prefetched knowledge results for a call, if any.
type CacheSource interface {
	CachedResult(callID, query string) ([]knowledge.Result, bool)
}

// Searcher is the direct knowledge lookup used on a prefetch miss.
type Searcher interface {
	Query(ctx context.Context, text string, topK int, categoryFilter string) ([]knowledge.Result, error)
}

type handlerFunc func(ctx context.Context, callID string, args json.RawMessage) string

// gated lists the tools that require a verified call before executing.
var gated = map[Name]bool{
	ToolListProviders:   true,
	ToolGetAvailability: true,
	ToolBookAppointment: true,
	ToolCheckInsurance:  true,
}

// Dispatcher is the single entry point between the conversational agent and
// the rest of the system.
type Dispatcher struct {
	state            *callstate.Machine
	gateway          ehr.Gateway
	kb               Searcher
	cache            CacheSource
	logger           *slog.Logger
	tracer           trace.Tracer
	practiceLocation string
	handlers         map[Name]handlerFunc
}

// Config carries the dispatcher's dependencies. Cache may be nil when no
// prefetcher is attached (every search then goes straight to the store).
type Config struct {
	State            *callstate.Machine
	Gateway          ehr.Gateway
	Knowledge        Searcher
	Cache            CacheSource
	Logger           *slog.Logger
	PracticeLocation string
}

// New builds a dispatcher and validates the handler table against the
// published schemas; a tool with a schema but no handler (or the reverse)
// is a startup error.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.State == nil || cfg.Gateway == nil || cfg.Knowledge == nil || cfg.Logger == nil {
		return nil, errors.New("tools: state, gateway, knowledge, and logger are required")
	}

	d := &Dispatcher{
		state:            cfg.State,
		gateway:          cfg.Gateway,
		kb:               cfg.Knowledge,
		cache:            cfg.Cache,
		logger:           cfg.Logger,
		tracer:           otel.Tracer("voice-receptionist/tools"),
		practiceLocation: cfg.PracticeLocation,
	}
	d.handlers = map[Name]handlerFunc{
		ToolVerifyPatient:       d.verifyPatient,
		ToolListProviders:       d.listProviders,
		ToolGetAvailability:     d.getAvailability,
		ToolBookAppointment:     d.bookAppointment,
		ToolCheckInsurance:      d.checkInsurance,
		ToolSearchKnowledgeBase: d.searchKnowledgeBase,
	}

	schemas := Schemas()
	if len(schemas) != len(d.handlers) {
		return nil, fmt.Errorf("tools: %d schemas but %d handlers", len(schemas), len(d.handlers))
	}
	for _, s := range schemas {
		if _, ok := d.handlers[s.Name]; !ok {
			return nil, fmt.Errorf("tools: schema %q has no handler", s.Name)
		}
	}
	return d, nil
}

// Dispatch routes one tool call and returns a JSON string result. Unknown
// tools and gate violations produce structured error payloads; the
// underlying handler is never invoked in either case.
func (d *Dispatcher) Dispatch(ctx context.Context, callID string, name Name, args json.RawMessage) string {
	ctx, span := d.tracer.Start(ctx, "tools.dispatch",
		trace.WithAttributes(
			attribute.String("tool.name", string(name)),
			attribute.String("call.id", callID),
		))
	defer span.End()

	handler, ok := d.handlers[name]
	if !ok {
		d.logger.Warn("unknown tool requested",
			slog.String("call_id", callID),
			slog.String("tool", string(name)),
		)
		return errPayload("unknown_tool", fmt.Sprintf("Unknown tool: %s", name))
	}

	if gated[name] {
		// Always a fresh read; authorization is never cached across tool
		// calls.
		current, err := d.state.GetState(ctx, callID)
		if err != nil {
			d.logger.Error("verification check failed",
				slog.String("call_id", callID),
				slog.String("tool", string(name)),
				slog.String("error", err.Error()),
			)
			return errPayload("lookup_failed", "I'm having trouble with that right now. Could you give me a moment?")
		}
		if !authorized(current) {
			return errPayload("identity_not_verified", "I need to verify your identity first. Can I get your full name and date of birth?")
		}
	}

	return handler(ctx, callID, args)
}

// authorized reports whether gated tools may run in state s. Verification
// opens the gate and booking's hop to resolving must not close it; a caller
// booking a second appointment is still the same verified caller.
func authorized(s callstate.State) bool {
	return s == callstate.StateVerified || s == callstate.StateResolving
}

type verifyPatientArgs struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth"`
}

func (d *Dispatcher) verifyPatient(ctx context.Context, callID string, args json.RawMessage) string {
	var a verifyPatientArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Name == "" || a.DateOfBirth == "" {
		return errPayload("invalid_arguments", "I need both your full name and date of birth to verify you.")
	}

	patient, err := d.gateway.LookupPatient(ctx, a.Name, a.DateOfBirth)
	if err != nil {
		d.logger.Error("ehr patient lookup failed",
			slog.String("call_id", callID),
			slog.String("error", err.Error()),
		)
		return errPayload("lookup_failed", "I'm having trouble looking that up. Could you try again?")
	}
	if patient == nil {
		d.logger.Info("patient verification failed",
			slog.String("call_id", callID),
		)
		return marshal(map[string]any{
			"verified": false,
			"message":  "I couldn't find a patient matching that name and date of birth. Could you double-check the spelling or try again?",
		})
	}

	// Promote the call into the authorized state. Verification is the only
	// path to verified; patient identity metadata is stored only once the
	// promotion has landed.
	if err := d.promoteToVerified(ctx, callID); err != nil {
		d.logger.Error("verification state transition failed",
			slog.String("call_id", callID),
			slog.String("error", err.Error()),
		)
		return errPayload("lookup_failed", "Something went wrong on my end. Could you try that once more?")
	}
	if err := d.state.SetMetadata(ctx, callID, "patient_id", patient.ID); err != nil {
		d.logger.Error("failed to store patient id", slog.String("call_id", callID), slog.String("error", err.Error()))
		return errPayload("lookup_failed", "Something went wrong on my end. Could you try that once more?")
	}
	if err := d.state.SetMetadata(ctx, callID, "patient_name", patient.Name); err != nil {
		d.logger.Error("failed to store patient name", slog.String("call_id", callID), slog.String("error", err.Error()))
	}

	d.logger.Info("patient verified",
		slog.String("call_id", callID),
		slog.String("patient_id", patient.ID),
	)
	return marshal(map[string]any{
		"verified":     true,
		"patient_id":   patient.ID,
		"patient_name": patient.Name,
	})
}

// promoteToVerified walks the call to verified from greeting or routing.
// A call already verified, or past it in resolving, stays put; repeating
// verification is a no-op, not an error.
func (d *Dispatcher) promoteToVerified(ctx context.Context, callID string) error {
	current, err := d.state.GetState(ctx, callID)
	if err != nil {
		return err
	}
	switch current {
	case callstate.StateVerified, callstate.StateResolving:
		return nil
	case callstate.StateGreeting:
		if _, err := d.state.Transition(ctx, callID, callstate.StateRouting); err != nil {
			return err
		}
		fallthrough
	case callstate.StateRouting:
		_, err := d.state.Transition(ctx, callID, callstate.StateVerified)
		return err
	default:
		return fmt.Errorf("cannot verify call in state %s", current)
	}
}

func (d *Dispatcher) listProviders(ctx context.Context, callID string, _ json.RawMessage) string {
	practitioners, err := d.gateway.ListPractitioners(ctx)
	if err != nil {
		d.logger.Error("list practitioners failed", slog.String("call_id", callID), slog.String("error", err.Error()))
		return errPayload("lookup_failed", "I'm having trouble pulling up our provider list right now.")
	}

	providers := make([]map[string]string, 0, len(practitioners))
	for _, p := range practitioners {
		providers = append(providers, map[string]string{"id": p.ID, "name": p.Name})
	}
	return marshal(map[string]any{"providers": providers})
}

type availabilityArgs struct {
	ProviderID string `json:"provider_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

func (d *Dispatcher) getAvailability(ctx context.Context, callID string, args json.RawMessage) string {
	var a availabilityArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errPayload("invalid_arguments", "I didn't catch which provider and dates you wanted.")
	}

	start, err := time.Parse("2006-01-02", a.StartDate)
	if err != nil {
		return errPayload("invalid_arguments", "I couldn't make sense of that start date.")
	}
	end, err := time.Parse("2006-01-02", a.EndDate)
	if err != nil {
		return errPayload("invalid_arguments", "I couldn't make sense of that end date.")
	}

	slots, err := d.gateway.GetAvailability(ctx, a.ProviderID, start, end)
	if err != nil {
		d.logger.Error("availability lookup failed", slog.String("call_id", callID), slog.String("error", err.Error()))
		return errPayload("availability_error", "I'm having trouble checking the schedule right now.")
	}

	// The agent gets at most 10 slots to talk through; the full count rides
	// alongside so it can say how many exist.
	shown := slots
	if len(shown) > maxSlotsReturned {
		shown = shown[:maxSlotsReturned]
	}
	out := make([]map[string]string, 0, len(shown))
	for _, s := range shown {
		out = append(out, map[string]string{
			"slot_id": s.ID,
			"start":   s.Start.Format(time.RFC3339),
			"end":     s.End.Format(time.RFC3339),
		})
	}
	return marshal(map[string]any{
		"slots":           out,
		"total_available": len(slots),
	})
}

type bookArgs struct {
	SlotID    string `json:"slot_id"`
	VisitType string `json:"visit_type"`
}

func (d *Dispatcher) bookAppointment(ctx context.Context, callID string, args json.RawMessage) string {
	var a bookArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SlotID == "" {
		return errPayload("invalid_arguments", "I need a specific time slot to book.")
	}
	visitType := ehr.VisitType(a.VisitType)
	if !visitType.Valid() {
		return errPayload("booking_failed", fmt.Sprintf("I don't recognize the visit type %q.", a.VisitType))
	}

	info, err := d.state.GetCallInfo(ctx, callID)
	if err != nil {
		d.logger.Error("call info lookup failed", slog.String("call_id", callID), slog.String("error", err.Error()))
		return errPayload("booking_error", "Something went wrong on my end. Could you try that again?")
	}
	patientID := info.Metadata["patient_id"]
	if patientID == "" {
		return errPayload("no_patient", "Patient information not found.")
	}

	appt, err := d.gateway.BookAppointment(ctx, patientID, a.SlotID, visitType)
	if err != nil {
		switch {
		case errors.Is(err, ehr.ErrSlotNotFree):
			return errPayload("slot_not_free", "I'm sorry, that time was just taken. Can I offer you a different slot?")
		case errors.Is(err, ehr.ErrSlotNotFound):
			return errPayload("booking_failed", "I couldn't find that time slot. Let's look at the availability again.")
		default:
			d.logger.Error("booking failed", slog.String("call_id", callID), slog.String("error", err.Error()))
			return errPayload("booking_error", "I'm having trouble booking that right now. Could you try again?")
		}
	}

	// The appointment record is authoritative; metadata and the state hop
	// come after it exists.
	if err := d.state.SetMetadata(ctx, callID, "scheduled", "true"); err != nil {
		d.logger.Error("failed to record scheduled flag", slog.String("call_id", callID), slog.String("error", err.Error()))
	}
	if err := d.state.SetMetadata(ctx, callID, "appointment_details", appt.Start.Format(time.RFC3339)); err != nil {
		d.logger.Error("failed to record appointment details", slog.String("call_id", callID), slog.String("error", err.Error()))
	}

	// A missed transition here (say the call was already resolving) is
	// logged, not surfaced; the booking stands regardless.
	if current, err := d.state.GetState(ctx, callID); err == nil && current == callstate.StateVerified {
		if _, err := d.state.Transition(ctx, callID, callstate.StateResolving); err != nil {
			d.logger.Warn("post-booking transition skipped",
				slog.String("call_id", callID),
				slog.String("error", err.Error()),
			)
		}
	}

	return marshal(map[string]any{
		"status":         "booked",
		"appointment_id": appt.ID,
		"start":          appt.Start.Format(time.RFC3339),
		"end":            appt.End.Format(time.RFC3339),
		"visit_type":     string(appt.VisitType),
		"location":       d.practiceLocation,
	})
}

type insuranceArgs struct {
	PlanID string `json:"plan_id"`
}

func (d *Dispatcher) checkInsurance(ctx context.Context, callID string, args json.RawMessage) string {
	var a insuranceArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errPayload("invalid_arguments", "Which insurance plan should I check?")
	}

	info, err := d.state.GetCallInfo(ctx, callID)
	if err != nil {
		d.logger.Error("call info lookup failed", slog.String("call_id", callID), slog.String("error", err.Error()))
		return errPayload("insurance_error", "Something went wrong on my end. Could you try that again?")
	}
	patientID := info.Metadata["patient_id"]
	if patientID == "" {
		return errPayload("no_patient", "Patient information not found.")
	}

	coverage, err := d.gateway.CheckInsurance(ctx, patientID, a.PlanID)
	if err != nil {
		if errors.Is(err, ehr.ErrCoverageNotFound) {
			return errPayload("insurance_error", "I don't see any coverage on file for you. You may want to bring your insurance card to your visit.")
		}
		d.logger.Error("insurance check failed", slog.String("call_id", callID), slog.String("error", err.Error()))
		return errPayload("insurance_error", "I'm having trouble checking your coverage right now.")
	}

	return marshal(map[string]any{
		"status": coverage.Status,
		"payor":  coverage.Payors,
		"plan":   coverage.PlanName,
	})
}

type searchArgs struct {
	Query string `json:"query"`
}

func (d *Dispatcher) searchKnowledgeBase(ctx context.Context, callID string, args json.RawMessage) string {
	var a searchArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Query == "" {
		return errPayload("invalid_arguments", "What would you like to know about the practice?")
	}

	var results []knowledge.Result
	if d.cache != nil {
		if cached, ok := d.cache.CachedResult(callID, a.Query); ok {
			results = cached
		}
	}
	if results == nil {
		var err error
		results, err = d.kb.Query(ctx, a.Query, knowledge.DefaultTopK, "")
		if err != nil {
			d.logger.Error("knowledge query failed", slog.String("call_id", callID), slog.String("error", err.Error()))
			return errPayload("kb_error", "I'm having trouble accessing my information database.")
		}
	}

	if len(results) == 0 {
		// An expected conversational outcome, not an error.
		return marshal(map[string]any{
			"found":   false,
			"message": "I don't have that information handy. I can transfer you to the front desk if you like.",
		})
	}

	formatted := make([]map[string]any, 0, len(results))
	for _, r := range results {
		formatted = append(formatted, map[string]any{
			"content": r.Content,
			"source":  r.SourceKey,
			"score":   fmt.Sprintf("%.2f", r.Score),
		})
	}
	return marshal(map[string]any{
		"found":   true,
		"answer":  results[0].Content,
		"results": formatted,
	})
}

func errPayload(kind, message string) string {
	return marshal(map[string]any{"error": kind, "message": message})
}

func marshal(v map[string]any) string {
	blob, err := json.Marshal(v)
	if err != nil {
		// Payloads are maps of strings and slices; this cannot fail in
		// practice, but the agent still needs something parseable.
		return `{"error":"internal","message":"Something went wrong on my end."}`
	}
	return string(blob)
}
