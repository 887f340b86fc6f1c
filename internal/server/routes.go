package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/voice-receptionist/internal/callstate"
	"github.com/tjfontaine/voice-receptionist/internal/store"
	"github.com/tjfontaine/voice-receptionist/internal/tools"
	"github.com/tjfontaine/voice-receptionist/internal/transcript"
)

type handlers struct {
	deps Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// toolSchemas publishes the function-calling contracts so the media layer
// can register them with its LLM service.
func (h *handlers) toolSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools.Schemas()})
}

type startCallRequest struct {
	ProviderID string `json:"provider_id"`
}

func (h *handlers) startCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	AddLogField(r.Context(), "call_id", callID)

	// An empty body means no overrides; some media layers send none.
	var req startCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProviderID == "" {
		req.ProviderID = "default"
	}

	if err := h.deps.Agent.StartCall(r.Context(), callID, req.ProviderID); err != nil {
		AddError(r.Context(), err)
		if errors.Is(err, callstate.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "call already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start call")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"call_id": callID, "state": "ringing"})
}

func (h *handlers) endCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	AddLogField(r.Context(), "call_id", callID)

	if err := h.deps.Agent.EndCall(r.Context(), callID); err != nil {
		AddError(r.Context(), err)
		if errors.Is(err, callstate.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown call")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to end call")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"call_id": callID})
}

type transcriptEventRequest struct {
	Role  string `json:"role"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// transcriptEvent ingests one transcript frame. Interim caller frames feed
// the prefetcher; finalized frames are recorded, and finalized caller
// frames may return emergency directives for the media layer to inject.
func (h *handlers) transcriptEvent(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	AddLogField(r.Context(), "call_id", callID)

	var req transcriptEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch {
	case req.Role == transcript.RoleUser && !req.Final:
		h.deps.Agent.OnUserPartial(callID, req.Text)
		writeJSON(w, http.StatusAccepted, map[string]any{})
	case req.Role == transcript.RoleUser:
		directives, err := h.deps.Agent.OnUserFinal(r.Context(), callID, req.Text)
		if err != nil {
			AddError(r.Context(), err)
			writeError(w, http.StatusInternalServerError, "failed to record utterance")
			return
		}
		resp := map[string]any{}
		if len(directives) > 0 {
			resp["directives"] = directives
		}
		writeJSON(w, http.StatusOK, resp)
	case req.Role == transcript.RoleAssistant && req.Final:
		if err := h.deps.Agent.OnAssistantFinal(r.Context(), callID, req.Text); err != nil {
			AddError(r.Context(), err)
			writeError(w, http.StatusInternalServerError, "failed to record utterance")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	default:
		writeError(w, http.StatusBadRequest, "unsupported transcript event")
	}
}

// dispatchTool executes one tool call on behalf of the agent. The result is
// always a 200 with a structured payload; tool-level failures ride inside
// the payload, never as HTTP errors.
func (h *handlers) dispatchTool(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	tool := chi.URLParam(r, "tool")
	AddLogField(r.Context(), "call_id", callID)
	AddLogField(r.Context(), "tool", tool)

	var args json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		args = json.RawMessage("{}")
	}

	result := h.deps.Dispatcher.Dispatch(r.Context(), callID, tools.Name(tool), args)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(result)); err != nil {
		h.deps.Logger.Error("failed to write tool result", slog.String("error", err.Error()))
	}
}

func (h *handlers) getCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	info, err := h.deps.State.GetCallInfo(r.Context(), callID)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) getEvents(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	events, err := h.deps.State.ListEvents(r.Context(), callID)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"call_id": callID, "events": events})
}

func (h *handlers) getTranscript(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	entries, err := h.deps.Transcripts.List(r.Context(), callID)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"call_id": callID, "transcript": entries})
}

func (h *handlers) getAnalysis(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	rec, err := h.deps.Records.GetRecord(r.Context(), "analysis:"+callID)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	if errors.Is(err, callstate.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
