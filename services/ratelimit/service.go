package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/upb/enforcement-gate/config"
	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/models"
	"go.uber.org/zap"
)

// Scope identifies which budget a bucket counts against
type Scope string

const (
	ScopeActor  Scope = "actor"
	ScopeTenant Scope = "tenant"
)

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when allowed
	Scope      Scope
	Limit      config.TierLimit
}

// bucket holds the timestamps of recent actions inside the trailing window
type bucket struct {
	mu      sync.Mutex
	hits    []time.Time
	window  time.Duration
	evicted bool
}

// RateLimitService is a sliding-window limiter keyed by scope and id.
// State is process-local; every replica keeps its own buckets.
type RateLimitService struct {
	actorLimits  map[models.Tier]config.TierLimit
	tenantLimits map[models.Tier]config.TierLimit
	baseTier     models.Tier

	buckets map[string]*bucket
	mu      sync.Mutex

	now     func() time.Time
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Option configures a RateLimitService
type Option func(*RateLimitService)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *RateLimitService) { s.now = now }
}

// WithMetrics publishes rejections and bucket counts
func WithMetrics(m *observability.Metrics) Option {
	return func(s *RateLimitService) { s.metrics = m }
}

// NewRateLimitService creates a new RateLimitService instance. baseTier is the
// fallback for tiers missing from a limit map.
func NewRateLimitService(cfg config.RateLimitConfig, baseTier models.Tier, logger *zap.Logger, opts ...Option) *RateLimitService {
	s := &RateLimitService{
		actorLimits:  cfg.ActorLimits,
		tenantLimits: cfg.TenantLimits,
		baseTier:     baseTier,
		buckets:      make(map[string]*bucket),
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LimitFor returns the budget for a scope and tier, falling back to the base tier
func (s *RateLimitService) LimitFor(scope Scope, tier models.Tier) config.TierLimit {
	limits := s.actorLimits
	if scope == ScopeTenant {
		limits = s.tenantLimits
	}
	if l, ok := limits[tier]; ok {
		return l
	}
	return limits[s.baseTier]
}

// Check consumes one slot from the bucket for (scope, id) when the budget allows it
func (s *RateLimitService) Check(scope Scope, id string, tier models.Tier) RateLimitResult {
	limit := s.LimitFor(scope, tier)
	result := RateLimitResult{Scope: scope, Limit: limit}

	if limit.Max <= 0 || limit.Window <= 0 {
		// An unconfigured scope never throttles
		result.Allowed = true
		return result
	}

	key := buildScopeKey(scope, id)
	for {
		b := s.getBucket(key, limit.Window)

		b.mu.Lock()
		if b.evicted {
			// Swept between lookup and lock; take the fresh bucket
			b.mu.Unlock()
			continue
		}

		now := s.now()
		b.window = limit.Window
		b.prune(now)

		if len(b.hits) >= limit.Max {
			result.RetryAfter = limit.Window - now.Sub(b.hits[0])
			if result.RetryAfter <= 0 {
				result.RetryAfter = time.Nanosecond
			}
			b.mu.Unlock()

			s.metrics.RateLimited(string(scope))
			s.logger.Debug("rate limit exceeded",
				zap.String("scope", string(scope)),
				zap.String("id", id),
				zap.Int("max", limit.Max),
				zap.Duration("retry_after", result.RetryAfter))
			return result
		}

		b.hits = append(b.hits, now)
		result.Allowed = true
		result.Remaining = limit.Max - len(b.hits)
		b.mu.Unlock()
		return result
	}
}

// CheckBoth applies the actor budget and then the tenant budget. The tenant
// bucket is only touched when the actor check passed.
func (s *RateLimitService) CheckBoth(actorID, tenantID string, tier models.Tier) RateLimitResult {
	actor := s.Check(ScopeActor, actorID, tier)
	if !actor.Allowed {
		return actor
	}
	return s.Check(ScopeTenant, tenantID, tier)
}

// Sweep drops buckets whose every timestamp has left the window
func (s *RateLimitService) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, b := range s.buckets {
		b.mu.Lock()
		b.prune(now)
		if len(b.hits) == 0 {
			b.evicted = true
			delete(s.buckets, key)
			removed++
		}
		b.mu.Unlock()
	}

	s.metrics.SetRateLimitBuckets(len(s.buckets))
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled
func (s *RateLimitService) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					s.logger.Debug("swept idle rate limit buckets", zap.Int("removed", removed))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Len returns the number of live buckets
func (s *RateLimitService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *RateLimitService) getBucket(key string, window time.Duration) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{window: window}
		s.buckets[key] = b
	}
	return b
}

// prune removes timestamps with now - ts >= window. Caller holds b.mu.
func (b *bucket) prune(now time.Time) {
	i := 0
	for i < len(b.hits) && now.Sub(b.hits[i]) >= b.window {
		i++
	}
	if i > 0 {
		b.hits = append(b.hits[:0], b.hits[i:]...)
	}
}

// buildScopeKey builds the bucket key for a scope
func buildScopeKey(scope Scope, id string) string {
	return string(scope) + ":" + id
}
