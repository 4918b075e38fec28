package api

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vietddude/marketindexer/internal/indexing/metrics"
)

// Cache holds encoded responses of read routes. It is purged on every
// ingestion commit, so a hit is never older than the last committed run.
type Cache struct {
	lru *expirable.LRU[string, []byte]

	// gen advances on every purge. A read that started before a purge must
	// not repopulate the cache with pre-commit data.
	mu  sync.Mutex
	gen uint64
}

// NewCache creates a cache of size entries. A size of zero disables caching.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		return &Cache{}
	}
	return &Cache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *Cache) Get(key string) ([]byte, bool) {
	if c.lru == nil {
		return nil, false
	}
	body, ok := c.lru.Get(key)
	if ok {
		metrics.APICacheHits.WithLabelValues("hit").Inc()
	} else {
		metrics.APICacheHits.WithLabelValues("miss").Inc()
	}
	return body, ok
}

// Generation returns the current purge generation.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Add stores body unless the cache was purged since gen was read.
func (c *Cache) Add(key string, body []byte, gen uint64) bool {
	if c.lru == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.lru.Add(key, body)
	return true
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.lru != nil {
		c.lru.Purge()
	}
}

func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
