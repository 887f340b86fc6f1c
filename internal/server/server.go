// Package server exposes the receptionist's HTTP surface: call lifecycle
// webhooks from the media layer, transcript event ingestion, tool dispatch,
// and read-only dashboard endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/voice-receptionist/internal/agent"
	"github.com/tjfontaine/voice-receptionist/internal/callstate"
	"github.com/tjfontaine/voice-receptionist/internal/store"
	"github.com/tjfontaine/voice-receptionist/internal/tools"
	"github.com/tjfontaine/voice-receptionist/internal/transcript"
)

// Deps are the collaborators the HTTP layer fronts.
type Deps struct {
	Agent       *agent.Manager
	Dispatcher  *tools.Dispatcher
	State       *callstate.Machine
	Transcripts *transcript.Recorder
	Records     store.RecordStore
	Logger      *slog.Logger
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	srv    *http.Server
}

func New(port int, deps Deps) *Server {
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(deps.Logger))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "voice-receptionist")
	})

	h := &handlers{deps: deps}
	r.Get("/health", h.health)
	r.Get("/tools", h.toolSchemas)
	r.Route("/calls/{callID}", func(r chi.Router) {
		r.Post("/start", h.startCall)
		r.Post("/end", h.endCall)
		r.Post("/transcript", h.transcriptEvent)
		r.Post("/tools/{tool}", h.dispatchTool)
		r.Get("/", h.getCall)
		r.Get("/events", h.getEvents)
		r.Get("/transcript", h.getTranscript)
		r.Get("/analysis", h.getAnalysis)
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: deps.Logger,
	}
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
