package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tjfontaine/voice-receptionist/internal/store"
)

// Embedder produces a fixed-dimension vector for a text span.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder generates embeddings via the OpenAI API with retry.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIEmbedder creates an embedder using the given API key and model.
// An empty model selects text-embedding-3-small.
func NewOpenAIEmbedder(apiKey string, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	m := openai.EmbeddingModel(model)
	if model == "" {
		m = openai.SmallEmbedding3
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(apiKey),
		model:      m,
		maxRetries: 3,
		retryDelay: 2 * time.Second,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: []string{text},
			Model: e.model,
		})
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			continue
		}
		if len(resp.Data) == 0 {
			lastErr = fmt.Errorf("attempt %d: no embeddings returned", attempt+1)
			continue
		}
		return resp.Data[0].Embedding, nil
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", e.maxRetries+1, lastErr)
}

// CachedEmbedder caches embeddings by content hash in the record store, so
// re-seeding unchanged text never re-invokes the provider. Entries never
// expire; seed content is static.
type CachedEmbedder struct {
	inner   Embedder
	records store.RecordStore
	logger  *slog.Logger
}

// NewCachedEmbedder wraps inner with a persistent content-hash cache.
func NewCachedEmbedder(inner Embedder, records store.RecordStore, logger *slog.Logger) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, records: records, logger: logger}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embcache:" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	rec, err := c.records.GetRecord(ctx, key)
	if err == nil {
		var vec []float32
		if err := json.Unmarshal([]byte(rec["vector"]), &vec); err == nil {
			return vec, nil
		}
		c.logger.Warn("discarding corrupt embedding cache entry", slog.String("key", key))
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("embedding cache read failed: %w", err)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	blob, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if err := c.records.CreateRecord(ctx, key, store.Record{"vector": string(blob)}); err != nil {
		// A concurrent seeder may have written the same hash; either copy
		// of the vector is identical.
		if !errors.Is(err, store.ErrAlreadyExists) {
			c.logger.Warn("failed to cache embedding", slog.String("error", err.Error()))
		}
	}
	return vec, nil
}
