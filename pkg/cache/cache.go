// Package cache provides a bounded in-memory cache of search results.
package cache

import (
	"strings"
	"sync"

	"github.com/fruitsalade/docnav/pkg/models"
)

// entry is one cached result set.
type entry struct {
	results    []*models.Node
	lastAccess uint64
}

// Cache holds external search results keyed by normalized query. When full,
// the least recently used entry is evicted.
type Cache struct {
	maxEntries int

	mu      sync.Mutex
	entries map[string]*entry
	tick    uint64
}

// New creates a cache holding at most maxEntries result sets. A non-positive
// size disables caching.
func New(maxEntries int) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

// Key normalizes a query the way lookups compare them.
func Key(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Get returns the cached results for query.
func (c *Cache) Get(query string) ([]*models.Node, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[Key(query)]
	if !ok {
		return nil, false
	}
	c.tick++
	e.lastAccess = c.tick
	return e.results, true
}

// Put stores results for query.
func (c *Cache) Put(query string, results []*models.Node) {
	if c == nil || c.maxEntries <= 0 {
		return
	}
	key := Key(query)
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	if e, ok := c.entries[key]; ok {
		e.results = results
		e.lastAccess = c.tick
		return
	}
	for len(c.entries) >= c.maxEntries {
		if !c.evictOldest() {
			break
		}
	}
	c.entries[key] = &entry{results: results, lastAccess: c.tick}
}

// Len returns the number of cached queries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// evictOldest removes the least recently used entry. Must hold mu.
func (c *Cache) evictOldest() bool {
	var oldestKey string
	var oldest uint64
	found := false
	for k, e := range c.entries {
		if !found || e.lastAccess < oldest {
			oldestKey, oldest, found = k, e.lastAccess, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
	return found
}
