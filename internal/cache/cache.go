// Package cache implements the response cache: answers keyed by normalized
// question and provider, valid while younger than the TTL and produced from
// the current corpus version.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/rag"
)

// Defaults
const (
	DefaultTTL        = 600 * time.Second
	DefaultMaxEntries = 500
)

const keyLockStripes = 64

// Entry is a cached answer with the time and corpus version it was produced at.
type Entry struct {
	Answer    *rag.Answer `json:"answer"`
	CreatedAt time.Time   `json:"created_at"`
	Version   string      `json:"version"`
}

// Backend stores entries with least-recently-used eviction.
type Backend interface {
	// Peek returns an entry without marking it recently used.
	Peek(ctx context.Context, key string) (*Entry, bool, error)
	// Touch marks an entry recently used.
	Touch(ctx context.Context, key string) error
	// Set stores an entry, evicting the least recently used entries beyond
	// capacity. It returns how many were evicted.
	Set(ctx context.Context, key string, entry *Entry) (int, error)
	Remove(ctx context.Context, key string) error
	Purge(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// VersionSource reports the current corpus version marker.
type VersionSource interface {
	LatestModificationMarker(ctx context.Context) (string, error)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	Invalidations int64   `json:"invalidations"`
	Size          int     `json:"size"`
	MaxSize       int     `json:"max_size"`
	TTLSeconds    float64 `json:"ttl_seconds"`
	HitRate       float64 `json:"hit_rate"`
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ResponseCache) { c.logger = logger }
}

// ResponseCache is the answer cache. The read-check-remove/touch sequence
// of a Lookup and the write of a Store hold the lock stripe of their key,
// so questions with different keys never wait on each other. Backend and
// version failures are logged and reported as misses.
type ResponseCache struct {
	locks      [keyLockStripes]sync.Mutex
	backend    Backend
	versions   VersionSource
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger

	hits, misses, evictions, invalidations atomic.Int64
}

// New creates a response cache. maxEntries is informational here; the
// backend enforces it.
func New(backend Backend, versions VersionSource, ttl time.Duration, maxEntries int, opts ...Option) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &ResponseCache{
		backend:    backend,
		versions:   versions,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "response_cache")
	return c
}

// Lookup returns a valid cached answer. It also returns the corpus version
// read for the check so the caller can store a freshly computed answer
// under the version it was computed from. An expired or stale entry is
// removed. Only a valid read marks the entry recently used. The returned
// answer is a copy with CacheHit set.
func (c *ResponseCache) Lookup(ctx context.Context, query, provider string) (answer *rag.Answer, version string, ok bool) {
	key := Key(query, provider)

	version, err := c.versions.LatestModificationMarker(ctx)
	if err != nil {
		c.logFailure("version", key, err)
		c.misses.Add(1)
		return nil, "", false
	}

	mu := c.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	entry, found, err := c.backend.Peek(ctx, key)
	if err != nil {
		c.logFailure("peek", key, err)
		c.misses.Add(1)
		return nil, version, false
	}
	if !found {
		c.misses.Add(1)
		return nil, version, false
	}

	if !c.valid(entry, version) {
		if err := c.backend.Remove(ctx, key); err != nil {
			c.logFailure("remove", key, err)
		}
		c.invalidations.Add(1)
		c.misses.Add(1)
		c.logger.Debug("cache_entry_invalidated", "key", key, "entry_version", entry.Version, "current_version", version)
		return nil, version, false
	}

	if err := c.backend.Touch(ctx, key); err != nil {
		c.logFailure("touch", key, err)
	}
	c.hits.Add(1)

	cp := *entry.Answer
	cp.CacheHit = true
	return &cp, version, true
}

// Store caches an answer produced from the given corpus version. An empty
// version means the version was unknown and nothing is stored.
func (c *ResponseCache) Store(ctx context.Context, query, provider, version string, answer *rag.Answer) {
	if version == "" || answer == nil {
		return
	}
	key := Key(query, provider)

	mu := c.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	evicted, err := c.backend.Set(ctx, key, &Entry{Answer: answer, CreatedAt: c.now(), Version: version})
	if err != nil {
		c.logFailure("set", key, err)
		return
	}
	c.evictions.Add(int64(evicted))
}

// Clear drops every entry.
func (c *ResponseCache) Clear(ctx context.Context) error {
	if err := c.backend.Purge(ctx); err != nil {
		return fmt.Errorf("%w: purge: %w", rag.ErrCacheFailure, err)
	}
	c.logger.Info("cache_cleared")
	return nil
}

// Stats returns counters and the current size.
func (c *ResponseCache) Stats(ctx context.Context) Stats {
	size, err := c.backend.Len(ctx)
	if err != nil {
		c.logFailure("len", "", err)
	}

	s := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Invalidations: c.invalidations.Load(),
		Size:          size,
		MaxSize:       c.maxEntries,
		TTLSeconds:    c.ttl.Seconds(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// TTL returns the configured time-to-live.
func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

func (c *ResponseCache) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.locks[h.Sum32()%keyLockStripes]
}

func (c *ResponseCache) valid(entry *Entry, version string) bool {
	if entry.Answer == nil {
		return false
	}
	return c.now().Sub(entry.CreatedAt) < c.ttl && entry.Version == version
}

func (c *ResponseCache) logFailure(op, key string, err error) {
	c.logger.Warn("cache_operation_failed",
		"op", op,
		"key", key,
		"error", fmt.Errorf("%w: %w", rag.ErrCacheFailure, err))
}

// NormalizeQuery lowercases q, removes punctuation (including connector
// punctuation such as '_') and symbols, collapses whitespace and trims. Applying it twice gives the same result as applying it once.
func NormalizeQuery(q string) string {
	var sb strings.Builder
	sb.Grow(len(q))
	for _, r := range strings.ToLower(q) {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// Key derives the cache key from the normalized query and provider name.
func Key(query, provider string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(query) + "\x00" + provider))
	return hex.EncodeToString(sum[:16])
}
