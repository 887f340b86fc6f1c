package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/voice-receptionist/internal/agent"
	"github.com/tjfontaine/voice-receptionist/internal/callstate"
	"github.com/tjfontaine/voice-receptionist/internal/config"
	"github.com/tjfontaine/voice-receptionist/internal/ehr"
	"github.com/tjfontaine/voice-receptionist/internal/knowledge"
	"github.com/tjfontaine/voice-receptionist/internal/server"
	"github.com/tjfontaine/voice-receptionist/internal/store"
	memorystore "github.com/tjfontaine/voice-receptionist/internal/store/memory"
	sqlitestore "github.com/tjfontaine/voice-receptionist/internal/store/sqlite"
	"github.com/tjfontaine/voice-receptionist/internal/telemetry"
	"github.com/tjfontaine/voice-receptionist/internal/tools"
	"github.com/tjfontaine/voice-receptionist/internal/transcript"
	"github.com/tjfontaine/voice-receptionist/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to optional YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.InitTracer("voice-receptionist", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	gateway, err := ehr.Open(cfg.EHR.Adapter, "")
	if err != nil {
		log.Fatalf("Failed to open EHR adapter: %v", err)
	}

	embedder, err := knowledge.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel)
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}
	kb, err := knowledge.New(embedder, st, logger)
	if err != nil {
		log.Fatalf("Failed to load knowledge base: %v", err)
	}

	machine := callstate.New(st, st, logger)
	recorder := transcript.NewRecorder(st, logger)
	manager := agent.NewManager(machine, recorder, kb, st, logger)

	dispatcher, err := tools.New(tools.Config{
		State:            machine,
		Gateway:          gateway,
		Knowledge:        kb,
		Cache:            manager,
		Logger:           logger,
		PracticeLocation: cfg.Practice.Location,
	})
	if err != nil {
		log.Fatalf("Failed to create tool dispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostname, _ := os.Hostname()
	analysisWorker := worker.New("worker-"+hostname, st, st, machine, recorder, logger)
	go analysisWorker.Run(ctx)

	srv := server.New(cfg.Server.Port, server.Deps{
		Agent:       manager,
		Dispatcher:  dispatcher,
		State:       machine,
		Transcripts: recorder,
		Records:     st,
		Logger:      logger,
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("receptionist started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("ehr_adapter", cfg.EHR.Adapter),
		slog.String("practice", cfg.Practice.Name),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("receptionist stopped")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memorystore.New(), nil
	default:
		return sqlitestore.New(cfg.Storage.Path)
	}
}
