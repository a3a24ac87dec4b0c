// Package replay remembers recently accepted knock nonces so each one is
// accepted at most once.
//
// The cache is bounded: once full, inserting a new nonce evicts the least
// recently used one. An attacker would need the shared secret to mint enough
// valid nonces to push an old one out, so the bound is kept rather than
// letting the cache grow without limit.
package replay

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity is the number of nonces remembered when no capacity is
// configured.
const DefaultCapacity = 100

// Cache is a fixed-capacity LRU set of nonce strings, safe for concurrent use.
type Cache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, struct{}]
}

// New returns a Cache holding up to capacity nonces. A capacity <= 0 selects
// DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	lru, err := simplelru.NewLRU[string, struct{}](capacity, nil)
	if err != nil {
		// NewLRU only fails for non-positive sizes.
		panic(fmt.Sprintf("replay: %v", err))
	}
	return &Cache{lru: lru}
}

// Contains reports whether nonce has been inserted and not yet evicted. It
// does not refresh the entry's recency.
func (c *Cache) Contains(nonce string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(nonce)
}

// Insert records nonce as seen. It reports whether an older entry was
// evicted to make room.
func (c *Cache) Insert(nonce string) (evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Add(nonce, struct{}{})
}

// Len returns the number of nonces currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
