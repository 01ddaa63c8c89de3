package entitlement

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/models"
	"golang.org/x/sync/singleflight"
)

// cachedSubscription wraps a lookup result; a nil record means "no subscription"
type cachedSubscription struct {
	record *models.SubscriptionRecord
}

// subscriptionCache keeps recent subscription lookups for a short TTL and
// coalesces concurrent misses for the same key. Failed lookups are never stored.
type subscriptionCache struct {
	entries *lru.LRU[string, cachedSubscription]
	group   singleflight.Group
	metrics *observability.Metrics
}

func newSubscriptionCache(size int, ttl time.Duration, metrics *observability.Metrics) *subscriptionCache {
	if ttl <= 0 {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	return &subscriptionCache{
		entries: lru.NewLRU[string, cachedSubscription](size, nil, ttl),
		metrics: metrics,
	}
}

// get returns the cached record for key or loads it with fetch. A nil cache
// calls fetch directly.
func (c *subscriptionCache) get(ctx context.Context, key string, fetch func(context.Context) (*models.SubscriptionRecord, error)) (*models.SubscriptionRecord, error) {
	if c == nil {
		return fetch(ctx)
	}

	if hit, ok := c.entries.Get(key); ok {
		c.metrics.SubscriptionCache(true)
		return hit.record, nil
	}
	c.metrics.SubscriptionCache(false)

	// The shared fetch outlives any single caller's cancellation
	fetchCtx := context.WithoutCancel(ctx)
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		rec, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, cachedSubscription{record: rec})
		return rec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		rec, _ := res.Val.(*models.SubscriptionRecord)
		return rec, nil
	}
}

// purge drops every entry
func (c *subscriptionCache) purge() {
	if c == nil {
		return
	}
	c.entries.Purge()
}
