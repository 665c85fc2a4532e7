// Package cache holds the bounded parse cache used during a localization run.
package cache

import (
	"sync"

	"kicad-bakery/internal/sexpr"
	"kicad-bakery/internal/textutil"

	"github.com/rs/zerolog/log"
)

// DefaultCapacity is the number of parsed files kept when no size is configured.
const DefaultCapacity = 100

// Identity binds a cached tree to the exact content it was parsed from, so a
// file edited on disk never hits its old entry.
type Identity struct {
	Path   string
	Digest string
}

// IdentityOf computes the identity of a file's content.
func IdentityOf(path, text string) Identity {
	return Identity{Path: path, Digest: textutil.Hash(text)}
}

// ParseCache provides bounded in-memory caching of parsed design files.
type ParseCache struct {
	mu     sync.Mutex
	lru    *LRU[Identity, *sexpr.Node]
	latest map[string]Identity // path -> identity of its newest cached content
	hits   int
	misses int
}

// NewParseCache creates a cache holding at most capacity trees.
func NewParseCache(capacity int) *ParseCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ParseCache{
		lru:    NewLRU[Identity, *sexpr.Node](capacity),
		latest: make(map[string]Identity),
	}
}

// Get returns a private copy of the cached tree for id.
func (c *ParseCache) Get(id Identity) (*sexpr.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tree, ok := c.lru.Get(id)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return tree.Clone(), true
}

// Put stores a copy of tree under id, replacing any older content cached for
// the same path and evicting the least recently used entry when full.
func (c *ParseCache) Put(id Identity, tree *sexpr.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.latest[id.Path]; ok && old != id {
		c.lru.Remove(old)
		log.Debug().Str("path", id.Path).Msg("Dropped stale parse cache entry")
	}
	c.latest[id.Path] = id

	if evicted, ok := c.lru.Put(id, tree.Clone()); ok {
		if c.latest[evicted.Path] == evicted {
			delete(c.latest, evicted.Path)
		}
		log.Debug().Str("path", evicted.Path).Msg("Evicted parse cache entry")
	}
}

// Parse returns the tree for text, parsing it only when the same content is not
// already cached. The returned tree may be edited freely.
func (c *ParseCache) Parse(path, text string) (*sexpr.Node, error) {
	id := IdentityOf(path, text)
	if tree, ok := c.Get(id); ok {
		return tree, nil
	}
	tree, err := sexpr.Parse(text)
	if err != nil {
		return nil, err
	}
	c.Put(id, tree)
	return tree, nil
}

// Len returns the number of cached trees.
func (c *ParseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns hit and miss counts since creation.
func (c *ParseCache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
