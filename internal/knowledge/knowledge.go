// Package knowledge stores the practice FAQ as embedded, chunked documents
// and answers similarity queries against them.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/tjfontaine/voice-receptionist/internal/store"
)

// DefaultThreshold is the minimum similarity a result must clear.
const DefaultThreshold = 0.6

// DefaultTopK is the default number of results returned by a query.
const DefaultTopK = 3

// Result is one scored answer from the knowledge base.
type Result struct {
	Content   string  `json:"content"`
	Category  string  `json:"category"`
	SourceKey string  `json:"source_key"`
	Score     float64 `json:"score"`
}

// Base embeds, chunks, persists, and indexes FAQ content. Seeded content is
// embedded through a content-hash cache; query embeddings bypass the cache
// because query text is dynamic.
type Base struct {
	embedder  Embedder
	cached    *CachedEmbedder
	index     *vectorIndex
	records   store.RecordStore
	logger    *slog.Logger
	threshold float64
}

// New creates a knowledge base and loads any previously persisted documents
// from the record store into the index.
func New(embedder Embedder, records store.RecordStore, logger *slog.Logger) (*Base, error) {
	b := &Base{
		embedder:  embedder,
		cached:    NewCachedEmbedder(embedder, records, logger),
		index:     newVectorIndex(),
		records:   records,
		logger:    logger,
		threshold: DefaultThreshold,
	}
	if err := b.loadPersisted(context.Background()); err != nil {
		return nil, err
	}
	return b, nil
}

func docKey(sourceKey string, chunkIdx int) string {
	return fmt.Sprintf("knowledge:%s:%d", sourceKey, chunkIdx)
}

func (b *Base) loadPersisted(ctx context.Context) error {
	keys, err := b.records.ListKeys(ctx, "knowledge:")
	if err != nil {
		return fmt.Errorf("failed to list knowledge records: %w", err)
	}
	for _, key := range keys {
		rec, err := b.records.GetRecord(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load knowledge record %s: %w", key, err)
		}
		var vec []float32
		if err := json.Unmarshal([]byte(rec["vector"]), &vec); err != nil {
			b.logger.Warn("skipping knowledge record with corrupt vector", slog.String("key", key))
			continue
		}
		doc := Document{
			ID:        key,
			Content:   rec["content"],
			Category:  rec["category"],
			SourceKey: rec["source_key"],
			Embedding: vec,
		}
		if err := b.index.upsert(doc); err != nil {
			b.logger.Warn("skipping knowledge record", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	if n := b.index.size(); n > 0 {
		b.logger.Info("loaded knowledge index", slog.Int("documents", n))
	}
	return nil
}

// Seed embeds and indexes each entry, chunking long text. A chunk whose
// embedding fails is skipped and logged; the rest of the seed proceeds.
// Identical content seeds are a no-op apart from cache lookups. Re-seeding
// a key with shorter content drops the chunks the new content no longer
// fills, so stale text cannot keep answering queries.
func (b *Base) Seed(ctx context.Context, entries map[string]string) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seeded := 0
	for _, key := range keys {
		chunks := splitChunks(entries[key], chunkSize, chunkOverlap)
		for i, chunk := range chunks {
			vec, err := b.cached.Embed(ctx, chunk)
			if err != nil {
				b.logger.Warn("skipping chunk, embedding failed",
					slog.String("source_key", key),
					slog.Int("chunk", i),
					slog.String("error", err.Error()),
				)
				continue
			}

			id := docKey(key, i)
			doc := Document{
				ID:        id,
				Content:   chunk,
				Category:  key,
				SourceKey: key,
				Embedding: vec,
			}
			if err := b.index.upsert(doc); err != nil {
				return fmt.Errorf("failed to index %s: %w", id, err)
			}
			if err := b.persist(ctx, doc); err != nil {
				return err
			}
			seeded++
		}
		if err := b.pruneStaleChunks(ctx, key, len(chunks)); err != nil {
			return err
		}
	}

	b.logger.Info("seeded knowledge base", slog.Int("entries", len(entries)), slog.Int("chunks", seeded))
	return nil
}

// pruneStaleChunks deletes persisted and indexed chunks of sourceKey at or
// beyond index keep, left over from a previous longer seed.
func (b *Base) pruneStaleChunks(ctx context.Context, sourceKey string, keep int) error {
	prefix := fmt.Sprintf("knowledge:%s:", sourceKey)
	keys, err := b.records.ListKeys(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list chunks for %s: %w", sourceKey, err)
	}
	for _, k := range keys {
		idx, err := strconv.Atoi(strings.TrimPrefix(k, prefix))
		if err != nil || idx < keep {
			continue
		}
		if err := b.records.DeleteRecord(ctx, k); err != nil {
			return fmt.Errorf("failed to delete stale chunk %s: %w", k, err)
		}
		b.index.remove(k)
		b.logger.Info("pruned stale knowledge chunk", slog.String("key", k))
	}
	return nil
}

func (b *Base) persist(ctx context.Context, doc Document) error {
	blob, err := json.Marshal(doc.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding for %s: %w", doc.ID, err)
	}
	fields := store.Record{
		"content":    doc.Content,
		"category":   doc.Category,
		"source_key": doc.SourceKey,
		"vector":     string(blob),
	}
	err = b.records.CreateRecord(ctx, doc.ID, fields)
	if errors.Is(err, store.ErrAlreadyExists) {
		err = b.records.SetRecordFields(ctx, doc.ID, fields)
	}
	if err != nil {
		return fmt.Errorf("failed to persist knowledge record %s: %w", doc.ID, err)
	}
	return nil
}

// Query embeds the text and returns results above the similarity threshold,
// sorted by descending score. An empty result set is a normal outcome, not
// an error. categoryFilter restricts the search when non-empty.
func (b *Base) Query(ctx context.Context, text string, topK int, categoryFilter string) ([]Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vec, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := b.index.search(vec, topK, categoryFilter)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, m := range matches {
		if m.similarity <= b.threshold {
			continue
		}
		results = append(results, Result{
			Content:   m.doc.Content,
			Category:  m.doc.Category,
			SourceKey: m.doc.SourceKey,
			Score:     m.similarity,
		})
	}
	return results, nil
}
