// Package prefetch speculatively runs knowledge lookups while the caller is
// still speaking. Partial transcripts are debounced; once the text holds
// still, a background query warms a short-lived cache the tool handler
// checks before doing its own lookup.
package prefetch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/voice-receptionist/internal/knowledge"
)

// Defaults from the production tuning: a partial must be at least MinWords
// long, must hold still for Debounce, and a cached result is served for TTL.
const (
	DefaultMinWords = 4
	DefaultDebounce = 300 * time.Millisecond
	DefaultTTL      = 10 * time.Second
	prefetchTopK    = 3
)

// Searcher is the knowledge lookup the prefetcher runs in the background.
type Searcher interface {
	Query(ctx context.Context, text string, topK int, categoryFilter string) ([]knowledge.Result, error)
}

type cacheEntry struct {
	results  []knowledge.Result
	cachedAt time.Time
}

// Prefetcher watches one call's partial transcripts and maintains that
// call's cache. It is owned by a single call session; Close releases its
// background work when the call ends.
type Prefetcher struct {
	kb     Searcher
	logger *slog.Logger

	minWords int
	debounce time.Duration
	ttl      time.Duration
	now      func() time.Time

	mu             sync.Mutex
	lastPartial    string
	debounceTimer  *time.Timer
	inflightCancel context.CancelFunc
	cache          map[string]cacheEntry
	closed         bool
}

// Option adjusts prefetcher tuning, mainly for tests.
type Option func(*Prefetcher)

// WithDebounce overrides the debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(p *Prefetcher) { p.debounce = d }
}

// WithTTL overrides the cache TTL.
func WithTTL(d time.Duration) Option {
	return func(p *Prefetcher) { p.ttl = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Prefetcher) { p.now = now }
}

// New creates a prefetcher for one call.
func New(kb Searcher, logger *slog.Logger, opts ...Option) *Prefetcher {
	p := &Prefetcher{
		kb:       kb,
		logger:   logger,
		minWords: DefaultMinWords,
		debounce: DefaultDebounce,
		ttl:      DefaultTTL,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// ObservePartial handles a new stabilized partial transcript. Short
// partials are ignored; otherwise the debounce timer restarts on the new
// text. A partial arriving before the timer fires supersedes the pending
// lookup entirely.
func (p *Prefetcher) ObservePartial(text string) {
	text = strings.TrimSpace(text)
	if text == "" || len(strings.Fields(text)) < p.minWords {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.lastPartial = text
	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
	}
	p.debounceTimer = time.AfterFunc(p.debounce, func() { p.debounceFired(text) })
}

func (p *Prefetcher) debounceFired(text string) {
	p.mu.Lock()
	if p.closed || text != p.lastPartial {
		// Superseded while the timer was pending.
		p.mu.Unlock()
		return
	}

	if p.freshEntryLocked(normalize(text)) {
		p.mu.Unlock()
		p.logger.Debug("prefetch cache already warm", slog.String("query", text))
		return
	}

	// Only the newest utterance direction matters; abandon any older
	// in-flight lookup.
	if p.inflightCancel != nil {
		p.inflightCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.inflightCancel = cancel
	p.mu.Unlock()

	go p.lookup(ctx, text)
}

func (p *Prefetcher) lookup(ctx context.Context, query string) {
	start := time.Now()
	results, err := p.kb.Query(ctx, query, prefetchTopK, "")
	if err != nil {
		// Cancelled or failed lookups leave no cache entry and never
		// surface into the conversation.
		if ctx.Err() != nil {
			p.logger.Debug("prefetch lookup cancelled", slog.String("query", query))
		} else {
			p.logger.Warn("prefetch lookup failed", slog.String("query", query), slog.String("error", err.Error()))
		}
		return
	}
	if ctx.Err() != nil {
		p.logger.Debug("prefetch lookup cancelled", slog.String("query", query))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.cache[normalize(query)] = cacheEntry{results: results, cachedAt: p.now()}
	p.logger.Info("prefetched knowledge results",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// freshEntryLocked reports whether a live cache entry exists for key.
func (p *Prefetcher) freshEntryLocked(key string) bool {
	entry, ok := p.cache[key]
	return ok && p.now().Sub(entry.cachedAt) < p.ttl
}

// GetCachedResult returns prefetched results for the query if a live entry
// exists. Exact key match wins; otherwise a substring-containment match
// against live keys covers the drift between the streamed partial and the
// agent-composed tool query. Expired entries found along the way are
// evicted. Returns (nil, false) on a miss.
func (p *Prefetcher) GetCachedResult(query string) ([]knowledge.Result, bool) {
	key := normalize(query)
	if key == "" {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.cache[key]; ok {
		age := p.now().Sub(entry.cachedAt)
		if age < p.ttl {
			p.logger.Info("prefetch cache hit",
				slog.String("query", key),
				slog.Duration("age", age),
				slog.Int("results", len(entry.results)),
			)
			return entry.results, true
		}
		delete(p.cache, key)
	}

	for cachedKey, entry := range p.cache {
		if p.now().Sub(entry.cachedAt) >= p.ttl {
			delete(p.cache, cachedKey)
			continue
		}
		if strings.Contains(key, cachedKey) || strings.Contains(cachedKey, key) {
			p.logger.Info("prefetch fuzzy cache hit",
				slog.String("query", key),
				slog.String("cached", cachedKey),
			)
			return entry.results, true
		}
	}
	return nil, false
}

// Clear drops all cached entries.
func (p *Prefetcher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]cacheEntry)
}

// Close cancels pending and in-flight work and drops the cache. The
// prefetcher ignores all input afterwards.
func (p *Prefetcher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
	}
	if p.inflightCancel != nil {
		p.inflightCancel()
	}
	p.cache = make(map[string]cacheEntry)
}
