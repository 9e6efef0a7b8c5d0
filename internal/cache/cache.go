// Package cache stores resolved resource URLs for the lifetime of a process.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 10000

// Key identifies a resolution: the resource path plus the options that can
// change its answer.
type Key struct {
	Path          string
	Fallback      bool
	LocalBasePath string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|fallback=%t|base=%s", k.Path, k.Fallback, k.LocalBasePath)
}

// Cache maps keys to resolved values. There is no expiry: entries leave only
// through ResetAll, or by eviction once maxEntries distinct keys are held.
// It is safe for concurrent use.
type Cache[V any] struct {
	entries *lru.Cache[Key, V]
}

// New creates a Cache holding at most maxEntries keys. Non-positive sizes
// select DefaultMaxEntries.
func New[V any](maxEntries int) (*Cache[V], error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[Key, V](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("creating resolution cache: %w", err)
	}
	return &Cache[V]{entries: entries}, nil
}

// Get returns the value stored for key.
func (c *Cache[V]) Get(key Key) (V, bool) {
	return c.entries.Get(key)
}

// Put stores value for key, replacing any previous value.
func (c *Cache[V]) Put(key Key, value V) {
	c.entries.Add(key, value)
}

// ResetAll drops every entry.
func (c *Cache[V]) ResetAll() {
	c.entries.Purge()
}

// Len returns the number of cached keys.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}
