package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	EHR       EHRConfig       `koanf:"ehr"`
	Knowledge KnowledgeConfig `koanf:"knowledge"`
	Practice  PracticeConfig  `koanf:"practice"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

// StorageConfig selects the persistence backend. Driver is "sqlite" or
// "memory"; Path is the sqlite database file.
type StorageConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

type OpenAIConfig struct {
	APIKey         string `koanf:"api_key"`
	EmbeddingModel string `koanf:"embedding_model"`
}

// EHRConfig selects the registered EHR adapter.
type EHRConfig struct {
	Adapter string `koanf:"adapter"`
}

type KnowledgeConfig struct {
	// SeedFile is an optional YAML file of FAQ entries; the built-in seed
	// set is used when empty.
	SeedFile string `koanf:"seed_file"`
}

type PracticeConfig struct {
	Name     string `koanf:"name"`
	Location string `koanf:"location"`
}

// Load reads configuration from an optional YAML file (path, skipped when
// empty or missing) and RCPT_-prefixed environment variables, env winning.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// Load environment variables
	if err := k.Load(env.Provider("RCPT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RCPT_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.driver") {
		k.Set("storage.driver", "sqlite")
	}
	if !k.Exists("storage.path") {
		k.Set("storage.path", "./data/receptionist.db")
	}
	if !k.Exists("ehr.adapter") {
		k.Set("ehr.adapter", "memory")
	}
	if !k.Exists("practice.name") {
		k.Set("practice.name", "Valley Family Medicine")
	}
	if !k.Exists("practice.location") {
		k.Set("practice.location", "123 Valley Road, Suite 200, Springfield")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
