package thread

import (
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/robfig/cron/v3"

	"github.com/zulandar/cosense-bridge/internal/metrics"
)

// NameCache maps Slack user IDs to resolved display names. Implementations
// must be safe for concurrent use; concurrent Sets for the same ID carry the
// same value.
type NameCache interface {
	Get(userID string) (string, bool)
	Set(userID, name string)
}

// TTLCache is a bounded NameCache whose entries expire after a fixed TTL.
type TTLCache struct {
	cache *ttlcache.Cache[string, string]
}

// NewTTLCache creates a cache holding at most capacity names for ttl each.
func NewTTLCache(ttl time.Duration, capacity uint64) *TTLCache {
	return &TTLCache{
		cache: ttlcache.New(
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithCapacity[string, string](capacity),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
}

// Get returns the cached name for userID.
func (c *TTLCache) Get(userID string) (string, bool) {
	item := c.cache.Get(userID)
	if item == nil {
		metrics.AuthorCacheLookupsTotal.WithLabelValues("miss").Inc()
		return "", false
	}
	metrics.AuthorCacheLookupsTotal.WithLabelValues("hit").Inc()
	return item.Value(), true
}

// Set stores name for userID with the cache's default TTL.
func (c *TTLCache) Set(userID, name string) {
	c.cache.Set(userID, name, ttlcache.DefaultTTL)
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *TTLCache) Len() int {
	return c.cache.Len()
}

// Purge drops expired entries.
func (c *TTLCache) Purge() {
	c.cache.DeleteExpired()
}

// SchedulePurge runs Purge on a cron schedule (5-field expression or a
// descriptor such as "@every 1h"). The caller stops the returned scheduler.
func (c *TTLCache) SchedulePurge(schedule string) (*cron.Cron, error) {
	sched := cron.New()
	if _, err := sched.AddFunc(schedule, c.Purge); err != nil {
		return nil, fmt.Errorf("thread: purge schedule %q: %w", schedule, err)
	}
	sched.Start()
	return sched, nil
}
