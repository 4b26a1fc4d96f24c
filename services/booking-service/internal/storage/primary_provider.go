package storage

import (
	"context"
	"sync"
	"time"
)

// PrimaryProviderCache memoises a PrimaryProviderSource lookup for ttl.
// Each owner holds its own cache; there is no package-level state.
type PrimaryProviderCache struct {
	source PrimaryProviderSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	id      string
	expires time.Time
}

func NewPrimaryProviderCache(source PrimaryProviderSource, ttl time.Duration) *PrimaryProviderCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PrimaryProviderCache{source: source, ttl: ttl, now: time.Now}
}

// Resolve returns the cached provider id, refreshing it once the entry has
// expired. Errors are not cached.
func (c *PrimaryProviderCache) Resolve(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.id != "" && now.Before(c.expires) {
		return c.id, nil
	}
	id, err := c.source.PrimaryProviderID(ctx)
	if err != nil {
		return "", err
	}
	c.id = id
	c.expires = now.Add(c.ttl)
	return id, nil
}

// Invalidate drops the cached entry.
func (c *PrimaryProviderCache) Invalidate() {
	c.mu.Lock()
	c.id = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}
