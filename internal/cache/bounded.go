package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/complyark/pii-sentinel/internal/pii"
)

// DefaultMaxEntries bounds the in-memory detection cache.
const DefaultMaxEntries = 1000

// BoundedCache is a size-capped in-memory cache of detection results
// keyed by a composite content/context hash. When a new entry would
// exceed the bound, the single oldest-inserted entry is evicted. The
// check-evict-insert sequence is serialized so the bound stays exact.
type BoundedCache struct {
	mu         sync.Mutex
	entries    map[string][]pii.Finding
	order      []string
	maxEntries int

	hits   int64
	misses int64
}

// NewBoundedCache creates a cache holding at most maxEntries results.
// A non-positive bound falls back to DefaultMaxEntries.
func NewBoundedCache(maxEntries int) *BoundedCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &BoundedCache{
		entries:    make(map[string][]pii.Finding),
		maxEntries: maxEntries,
	}
}

// Get returns the cached findings for key, if present.
func (c *BoundedCache) Get(key string) ([]pii.Finding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	findings, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return findings, ok
}

// Set stores findings under key, evicting the oldest entry first when
// the bound would otherwise be exceeded. Updating an existing key
// keeps its original insertion position.
func (c *BoundedCache) Set(key string, findings []pii.Finding) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = findings
		return
	}

	if len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = findings
	c.order = append(c.order, key)
}

// Len returns the number of cached entries.
func (c *BoundedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every cached entry but keeps hit/miss counters.
func (c *BoundedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]pii.Finding)
	c.order = nil
}

// Stats reports cache effectiveness counters.
func (c *BoundedCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		TotalKeys: int64(len(c.entries)),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// Key builds the composite cache key for a piece of content and its
// scan context. The context portion is canonicalized (sorted field
// names) so equivalent contexts hash identically.
func Key(content string, sc pii.ScanContext) string {
	fields := append([]string(nil), scFieldNames(sc)...)
	sort.Strings(fields)

	canonical := strings.Join([]string{
		sc.ConnectorType,
		sc.DataSource,
		strings.Join(fields, ","),
	}, "|")

	return hashString(content) + "_" + hashString(canonical)
}

func scFieldNames(sc pii.ScanContext) []string {
	if len(sc.FieldNames) > 0 {
		return sc.FieldNames
	}
	if sc.FieldName == "" {
		return nil
	}
	return []string{sc.FieldName}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
