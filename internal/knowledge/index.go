package knowledge

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Document is one indexed chunk of seeded content.
type Document struct {
	ID        string
	Content   string
	Category  string
	SourceKey string
	Embedding []float32
}

// match pairs a document with its similarity to a query vector.
type match struct {
	doc        Document
	similarity float64
}

// vectorIndex is an in-memory cosine-similarity index. The document set is
// small (seeded FAQ chunks) and effectively immutable between seeds, so a
// linear scan is the whole search strategy.
type vectorIndex struct {
	mu        sync.RWMutex
	docs      map[string]Document
	dimension int
}

func newVectorIndex() *vectorIndex {
	return &vectorIndex{docs: make(map[string]Document)}
}

// upsert adds or replaces a document. The first document fixes the index
// dimension; later documents must match it.
func (idx *vectorIndex) upsert(doc Document) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dimension == 0 {
		idx.dimension = len(doc.Embedding)
	} else if len(doc.Embedding) != idx.dimension {
		return fmt.Errorf("embedding dimension %d does not match index dimension %d", len(doc.Embedding), idx.dimension)
	}
	idx.docs[doc.ID] = doc
	return nil
}

// search returns the topK most similar documents, optionally restricted to
// a category, sorted by descending similarity.
func (idx *vectorIndex) search(query []float32, topK int, category string) ([]match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.docs) == 0 {
		return nil, nil
	}
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), idx.dimension)
	}

	var matches []match
	for _, doc := range idx.docs {
		if category != "" && doc.Category != category {
			continue
		}
		matches = append(matches, match{doc: doc, similarity: cosineSimilarity(query, doc.Embedding)})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].similarity > matches[j].similarity })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// remove drops a document; a missing id is a no-op.
func (idx *vectorIndex) remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.docs, id)
}

func (idx *vectorIndex) size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
