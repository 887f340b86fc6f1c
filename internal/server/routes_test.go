package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/voice-receptionist/internal/agent"
	"github.com/tjfontaine/voice-receptionist/internal/callstate"
	"github.com/tjfontaine/voice-receptionist/internal/ehr"
	"github.com/tjfontaine/voice-receptionist/internal/knowledge"
	"github.com/tjfontaine/voice-receptionist/internal/prefetch"
	"github.com/tjfontaine/voice-receptionist/internal/store/memory"
	"github.com/tjfontaine/voice-receptionist/internal/tools"
	"github.com/tjfontaine/voice-receptionist/internal/transcript"
)

type staticKB struct {
	results []knowledge.Result
}

func (s *staticKB) Query(ctx context.Context, text string, topK int, categoryFilter string) ([]knowledge.Result, error) {
	return s.results, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.New()
	machine := callstate.New(s, s, logger)
	recorder := transcript.NewRecorder(s, logger)
	kb := &staticKB{results: []knowledge.Result{{Content: "We open at 8am.", SourceKey: "hours", Score: 0.9}}}
	mgr := agent.NewManager(machine, recorder, kb, s, logger, prefetch.WithDebounce(5*time.Millisecond))

	dispatcher, err := tools.New(tools.Config{
		State:            machine,
		Gateway:          ehr.NewMemory(),
		Knowledge:        kb,
		Cache:            mgr,
		Logger:           logger,
		PracticeLocation: "123 Valley Road",
	})
	if err != nil {
		t.Fatalf("tools.New() error = %v", err)
	}

	return New(0, Deps{
		Agent:       mgr,
		Dispatcher:  dispatcher,
		State:       machine,
		Transcripts: recorder,
		Records:     s,
		Logger:      logger,
	})
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid JSON body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec, out := doJSON(t, srv, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if out["status"] != "ok" {
		t.Errorf("status field = %v, want ok", out["status"])
	}
}

func TestToolSchemasPublished(t *testing.T) {
	srv := newTestServer(t)
	rec, out := doJSON(t, srv, "GET", "/tools", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	list, ok := out["tools"].([]any)
	if !ok || len(list) != 6 {
		t.Errorf("tools = %v, want 6 schemas", out["tools"])
	}
}

func TestCallLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec, out := doJSON(t, srv, "POST", "/calls/call-1/start", `{"provider_id":"default"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201 (%v)", rec.Code, out)
	}

	// Starting the same call again conflicts.
	rec, _ = doJSON(t, srv, "POST", "/calls/call-1/start", `{"provider_id":"default"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate start status = %d, want 409", rec.Code)
	}

	rec, out = doJSON(t, srv, "GET", "/calls/call-1/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	if out["state"] != "ringing" {
		t.Errorf("state = %v, want ringing", out["state"])
	}

	rec, _ = doJSON(t, srv, "POST", "/calls/call-1/end", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d, want 200", rec.Code)
	}

	rec, out = doJSON(t, srv, "GET", "/calls/call-1/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	if out["state"] != "abandoned" {
		t.Errorf("state after end = %v, want abandoned", out["state"])
	}

	rec, out = doJSON(t, srv, "GET", "/calls/call-1/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d, want 200", rec.Code)
	}
	events, ok := out["events"].([]any)
	if !ok || len(events) != 2 {
		t.Errorf("events = %v, want creation + abandon", out["events"])
	}
}

func TestStartCall_EmptyBody(t *testing.T) {
	srv := newTestServer(t)

	// Some media layers POST the start webhook with no body at all; that
	// means no overrides, not a malformed request.
	rec, out := doJSON(t, srv, "POST", "/calls/call-2/start", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201 (%v)", rec.Code, out)
	}

	rec, out = doJSON(t, srv, "GET", "/calls/call-2/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	if out["provider_id"] != "default" {
		t.Errorf("provider_id = %v, want default", out["provider_id"])
	}

	// Garbage is still rejected.
	rec, _ = doJSON(t, srv, "POST", "/calls/call-3/start", `{"provider_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed start status = %d, want 400", rec.Code)
	}
}

func TestCallLifecycle_UnknownCall(t *testing.T) {
	srv := newTestServer(t)

	rec, _ := doJSON(t, srv, "POST", "/calls/ghost/end", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("end status = %d, want 404", rec.Code)
	}
	rec, _ = doJSON(t, srv, "GET", "/calls/ghost/", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get status = %d, want 404", rec.Code)
	}
	rec, _ = doJSON(t, srv, "GET", "/calls/ghost/analysis", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("analysis status = %d, want 404", rec.Code)
	}
}

func TestTranscriptIngestion(t *testing.T) {
	srv := newTestServer(t)

	if rec, _ := doJSON(t, srv, "POST", "/calls/call-1/start", `{}`); rec.Code != http.StatusCreated {
		t.Fatalf("start failed: %d", rec.Code)
	}

	rec, _ := doJSON(t, srv, "POST", "/calls/call-1/transcript", `{"role":"user","text":"what are your","final":false}`)
	if rec.Code != http.StatusAccepted {
		t.Errorf("partial status = %d, want 202", rec.Code)
	}

	rec, out := doJSON(t, srv, "POST", "/calls/call-1/transcript", `{"role":"user","text":"I'd like to book a visit","final":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("final status = %d, want 200", rec.Code)
	}
	if _, ok := out["directives"]; ok {
		t.Errorf("benign utterance produced directives: %v", out)
	}

	rec, _ = doJSON(t, srv, "POST", "/calls/call-1/transcript", `{"role":"assistant","text":"Of course, let me check.","final":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("assistant final status = %d, want 200", rec.Code)
	}

	// An emergency utterance returns the directive in-band.
	rec, out = doJSON(t, srv, "POST", "/calls/call-1/transcript", `{"role":"user","text":"wait, I have chest pain","final":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("final status = %d, want 200", rec.Code)
	}
	directives, ok := out["directives"].([]any)
	if !ok || len(directives) != 1 {
		t.Fatalf("directives = %v, want one", out["directives"])
	}

	rec, out = doJSON(t, srv, "GET", "/calls/call-1/transcript", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript status = %d, want 200", rec.Code)
	}
	entries, ok := out["transcript"].([]any)
	if !ok || len(entries) != 3 {
		t.Errorf("transcript = %v, want 3 finalized entries", out["transcript"])
	}
}

func TestDispatchToolOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	if rec, _ := doJSON(t, srv, "POST", "/calls/call-1/start", `{}`); rec.Code != http.StatusCreated {
		t.Fatalf("start failed: %d", rec.Code)
	}

	// Gated tool before verification: HTTP 200, error inside the payload.
	rec, out := doJSON(t, srv, "POST", "/calls/call-1/tools/list_providers", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if out["error"] != "identity_not_verified" {
		t.Errorf("error = %v, want identity_not_verified", out["error"])
	}

	// Ungated knowledge search works immediately.
	rec, out = doJSON(t, srv, "POST", "/calls/call-1/tools/search_knowledge_base", `{"query":"when do you open"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if out["found"] != true {
		t.Errorf("found = %v, want true (%v)", out["found"], out)
	}
}
