// Command seed-kb loads FAQ content into the knowledge store. With no seed
// file it loads the built-in practice FAQ; re-running against unchanged
// content is a no-op thanks to the embedding cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/voice-receptionist/internal/config"
	"github.com/tjfontaine/voice-receptionist/internal/knowledge"
	sqlitestore "github.com/tjfontaine/voice-receptionist/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to optional YAML config file")
	seedFile := flag.String("file", "", "YAML file of key: content entries (built-in FAQ when empty)")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	path := *seedFile
	if path == "" {
		path = cfg.Knowledge.SeedFile
	}

	entries := knowledge.DefaultFAQ
	if path != "" {
		entries, err = loadSeedFile(path)
		if err != nil {
			log.Fatalf("Failed to load seed file: %v", err)
		}
	}

	st, err := sqlitestore.New(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	embedder, err := knowledge.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel)
	if err != nil {
		log.Fatalf("Failed to create embedder: %v", err)
	}
	kb, err := knowledge.New(embedder, st, logger)
	if err != nil {
		log.Fatalf("Failed to load knowledge base: %v", err)
	}

	if err := kb.Seed(context.Background(), entries); err != nil {
		log.Fatalf("Failed to seed knowledge base: %v", err)
	}
	logger.Info("knowledge base seeded", slog.Int("entries", len(entries)))
}

// loadSeedFile reads a flat YAML map of key: content.
func loadSeedFile(path string) (map[string]string, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}

	entries := make(map[string]string)
	for key, v := range k.Raw() {
		content, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("entry %q: content must be a string", key)
		}
		entries[key] = content
	}
	return entries, nil
}
