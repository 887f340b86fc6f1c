package knowledge

import (
	"context"
	"hash/fnv"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tjfontaine/voice-receptionist/internal/store/memory"
)

// wordHashEmbedder is a deterministic embedder for tests: each word is
// hashed into one of 64 dimensions, so identical text embeds identically
// and disjoint vocabulary embeds near-orthogonally.
type wordHashEmbedder struct {
	calls atomic.Int64
}

func (e *wordHashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	vec := make([]float32, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,!?")))
		vec[h.Sum32()%64]++
	}
	return vec, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBase(t *testing.T) (*Base, *wordHashEmbedder) {
	t.Helper()
	emb := &wordHashEmbedder{}
	b, err := New(emb, memory.New(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b, emb
}

func TestBase_SeedAndQueryVerbatim(t *testing.T) {
	b, _ := newTestBase(t)
	ctx := context.Background()

	if err := b.Seed(ctx, DefaultFAQ); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	results, err := b.Query(ctx, DefaultFAQ["parking"], 3, "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Query() returned no results for verbatim seeded text")
	}
	if results[0].Content != DefaultFAQ["parking"] {
		t.Errorf("top result content = %q, want the parking entry", results[0].Content)
	}
	if results[0].SourceKey != "parking" {
		t.Errorf("top result source_key = %q, want parking", results[0].SourceKey)
	}
	if results[0].Score <= DefaultThreshold {
		t.Errorf("top result score = %v, want > %v", results[0].Score, DefaultThreshold)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by descending score at %d", i)
		}
	}
}

func TestBase_QueryUnrelatedIsEmpty(t *testing.T) {
	b, _ := newTestBase(t)
	ctx := context.Background()

	if err := b.Seed(ctx, DefaultFAQ); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	results, err := b.Query(ctx, "quantum flux capacitor warp drive manifold", 3, "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Query() for unrelated text = %d results, want 0", len(results))
	}
}

func TestBase_QueryCategoryFilter(t *testing.T) {
	b, _ := newTestBase(t)
	ctx := context.Background()

	if err := b.Seed(ctx, DefaultFAQ); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	results, err := b.Query(ctx, DefaultFAQ["parking"], 3, "hours")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	for _, r := range results {
		if r.Category != "hours" {
			t.Errorf("result category = %q, want hours", r.Category)
		}
	}
}

func TestBase_ReseedUsesEmbeddingCache(t *testing.T) {
	b, emb := newTestBase(t)
	ctx := context.Background()

	if err := b.Seed(ctx, DefaultFAQ); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	firstRound := emb.calls.Load()
	if firstRound == 0 {
		t.Fatal("no embedding calls during initial seed")
	}

	if err := b.Seed(ctx, DefaultFAQ); err != nil {
		t.Fatalf("re-Seed() error = %v", err)
	}
	if got := emb.calls.Load(); got != firstRound {
		t.Errorf("embedding calls after re-seed = %d, want %d (cache hits only)", got, firstRound)
	}
}

func TestBase_ReseedShorterContentDropsStaleChunks(t *testing.T) {
	emb := &wordHashEmbedder{}
	records := memory.New()
	ctx := context.Background()

	b, err := New(emb, records, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Long enough for two chunks; the tail vocabulary only appears in the
	// second one.
	long := strings.Repeat("alpha ", 84) + strings.Repeat("solstice zeppelin quartz ", 10)
	if err := b.Seed(ctx, map[string]string{"policies": long}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	results, err := b.Query(ctx, "solstice zeppelin quartz", 3, "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("tail chunk not queryable after initial seed")
	}

	if err := b.Seed(ctx, map[string]string{"policies": "Cancellations require a full business day of notice."}); err != nil {
		t.Fatalf("re-Seed() error = %v", err)
	}

	keys, err := records.ListKeys(ctx, "knowledge:policies:")
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "knowledge:policies:0" {
		t.Errorf("persisted chunks after shrink = %v, want only knowledge:policies:0", keys)
	}

	results, err = b.Query(ctx, "solstice zeppelin quartz", 3, "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("stale chunk still answers queries: %+v", results)
	}

	// A restart over the same store must not resurrect it either.
	b2, err := New(emb, records, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	results, err = b2.Query(ctx, "solstice zeppelin quartz", 3, "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("stale chunk reloaded after restart: %+v", results)
	}
}

func TestBase_PersistedDocsSurviveRestart(t *testing.T) {
	emb := &wordHashEmbedder{}
	records := memory.New()
	ctx := context.Background()

	b, err := New(emb, records, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Seed(ctx, DefaultFAQ); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	// A fresh Base over the same store sees the seeded index without
	// re-seeding.
	b2, err := New(emb, records, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	results, err := b2.Query(ctx, DefaultFAQ["hours"], 3, "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) == 0 || results[0].SourceKey != "hours" {
		t.Errorf("Query() after reload = %+v, want hours entry", results)
	}
}

func TestBase_QueryEmptyText(t *testing.T) {
	b, emb := newTestBase(t)

	results, err := b.Query(context.Background(), "   ", 3, "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if results != nil {
		t.Errorf("Query() = %v, want nil", results)
	}
	if emb.calls.Load() != 0 {
		t.Error("Query() embedded blank text")
	}
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name       string
		textLen    int
		wantChunks int
	}{
		{"short text single chunk", 120, 1},
		{"exactly chunk size", 500, 1},
		{"just over chunk size", 501, 2},
		{"two full steps", 950, 2},
		{"three chunks", 1300, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Repeat("a", tt.textLen)
			chunks := splitChunks(text, chunkSize, chunkOverlap)
			if len(chunks) != tt.wantChunks {
				t.Fatalf("splitChunks() = %d chunks, want %d", len(chunks), tt.wantChunks)
			}
			for i, c := range chunks {
				if len(c) > chunkSize {
					t.Errorf("chunk %d length = %d, exceeds %d", i, len(c), chunkSize)
				}
			}
			// Adjacent chunks overlap by chunkOverlap characters.
			if len(chunks) > 1 && len(chunks[0]) != chunkSize {
				t.Errorf("first chunk length = %d, want %d", len(chunks[0]), chunkSize)
			}
		})
	}
}

func TestVectorIndex_DimensionMismatch(t *testing.T) {
	idx := newVectorIndex()

	if err := idx.upsert(Document{ID: "a", Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("upsert() error = %v", err)
	}
	if err := idx.upsert(Document{ID: "b", Embedding: []float32{1, 0}}); err == nil {
		t.Error("upsert() with mismatched dimension expected an error")
	}
	if _, err := idx.search([]float32{1, 0}, 3, ""); err == nil {
		t.Error("search() with mismatched dimension expected an error")
	}
}
