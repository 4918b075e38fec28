package throttle

import (
	"context"
	logger "log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// HeadSource reads the chain head.
type HeadSource interface {
	GetHeadBlock(ctx context.Context) (uint64, error)
}

// HeadCache serves the chain head to read paths without hitting the RPC on
// every request. Lookups are best effort: a failed refresh reports ok=false.
type HeadCache struct {
	source  HeadSource
	ttl     time.Duration
	timeout time.Duration
	log     *logger.Logger
	group   singleflight.Group

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache creates a head cache. timeout bounds each refresh
// independently of the caller's deadline.
func NewHeadCache(source HeadSource, ttl, timeout time.Duration) *HeadCache {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HeadCache{
		source:  source,
		ttl:     ttl,
		timeout: timeout,
		log:     logger.Default().With("component", "head_cache"),
	}
}

// Head returns the chain head, refreshing it when the cached value is older
// than the TTL. Concurrent callers share one refresh.
func (c *HeadCache) Head(ctx context.Context) (uint64, bool) {
	c.mu.RLock()
	if c.cached > 0 && time.Since(c.cachedAt) < c.ttl {
		cached := c.cached
		c.mu.RUnlock()
		return cached, true
	}
	c.mu.RUnlock()

	// The shared refresh must outlive any single caller's cancellation.
	refreshCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("head", func() (any, error) {
		ctx, cancel := context.WithTimeout(refreshCtx, c.timeout)
		defer cancel()

		head, err := c.source.GetHeadBlock(ctx)
		if err != nil {
			return uint64(0), err
		}
		c.Observe(head)
		return head, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.log.Debug("Head refresh failed", "error", res.Err)
			return 0, false
		}
		return res.Val.(uint64), true
	case <-ctx.Done():
		return 0, false
	}
}

// Observe records a head seen elsewhere, e.g. by an ingestion run.
func (c *HeadCache) Observe(head uint64) {
	if head == 0 {
		return
	}
	c.mu.Lock()
	if head >= c.cached || time.Since(c.cachedAt) >= c.ttl {
		c.cached = head
		c.cachedAt = time.Now()
	}
	c.mu.Unlock()
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}
