package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/enforcement-gate/config"
	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/models"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		ActorLimits: map[models.Tier]config.TierLimit{
			models.TierFree: {Max: 10, Window: time.Minute},
			models.TierPro:  {Max: 80, Window: time.Minute},
		},
		TenantLimits: map[models.Tier]config.TierLimit{
			models.TierFree: {Max: 3, Window: 10 * time.Second},
		},
	}
}

func newTestService(t *testing.T, opts ...Option) (*RateLimitService, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewRateLimitService(testConfig(), models.TierFree, zap.NewNop(), opts...), clock
}

func TestBuildScopeKey(t *testing.T) {
	assert.Equal(t, "actor:u-1", buildScopeKey(ScopeActor, "u-1"))
	assert.Equal(t, "tenant:g-1", buildScopeKey(ScopeTenant, "g-1"))
}

func TestRateLimitService_LimitFor(t *testing.T) {
	service, _ := newTestService(t)

	assert.Equal(t, config.TierLimit{Max: 80, Window: time.Minute}, service.LimitFor(ScopeActor, models.TierPro))
	assert.Equal(t, config.TierLimit{Max: 10, Window: time.Minute}, service.LimitFor(ScopeActor, "PLATINUM"), "unknown tier falls back to base tier")
	assert.Equal(t, config.TierLimit{Max: 3, Window: 10 * time.Second}, service.LimitFor(ScopeTenant, models.TierElite))
}

func TestRateLimitService_Check(t *testing.T) {
	t.Run("allows up to max then denies with retry", func(t *testing.T) {
		service, clock := newTestService(t)

		for i := 0; i < 10; i++ {
			res := service.Check(ScopeActor, "u-1", models.TierFree)
			require.True(t, res.Allowed, "action %d", i+1)
			assert.Equal(t, 10-(i+1), res.Remaining)
			clock.Advance(time.Second)
		}

		res := service.Check(ScopeActor, "u-1", models.TierFree)
		assert.False(t, res.Allowed)
		assert.Equal(t, ScopeActor, res.Scope)
		// First hit was 10s ago, so it leaves the window in 50s
		assert.Equal(t, 50*time.Second, res.RetryAfter)
	})

	t.Run("allows again once the oldest hit leaves the window", func(t *testing.T) {
		service, clock := newTestService(t)

		for i := 0; i < 10; i++ {
			require.True(t, service.Check(ScopeActor, "u-1", models.TierFree).Allowed)
		}
		denied := service.Check(ScopeActor, "u-1", models.TierFree)
		require.False(t, denied.Allowed)
		assert.Equal(t, time.Minute, denied.RetryAfter)

		clock.Advance(denied.RetryAfter)
		assert.True(t, service.Check(ScopeActor, "u-1", models.TierFree).Allowed)
	})

	t.Run("keys are independent", func(t *testing.T) {
		service, _ := newTestService(t)

		for i := 0; i < 10; i++ {
			service.Check(ScopeActor, "u-1", models.TierFree)
		}
		assert.False(t, service.Check(ScopeActor, "u-1", models.TierFree).Allowed)
		assert.True(t, service.Check(ScopeActor, "u-2", models.TierFree).Allowed)
	})

	t.Run("denied checks do not consume slots", func(t *testing.T) {
		service, clock := newTestService(t)

		for i := 0; i < 3; i++ {
			service.Check(ScopeTenant, "g-1", models.TierFree)
		}
		for i := 0; i < 5; i++ {
			assert.False(t, service.Check(ScopeTenant, "g-1", models.TierFree).Allowed)
		}
		clock.Advance(10 * time.Second)
		res := service.Check(ScopeTenant, "g-1", models.TierFree)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2, res.Remaining)
	})

	t.Run("unconfigured scope never throttles", func(t *testing.T) {
		service := NewRateLimitService(config.RateLimitConfig{}, models.TierFree, zap.NewNop())
		for i := 0; i < 100; i++ {
			assert.True(t, service.Check(ScopeActor, "u-1", models.TierFree).Allowed)
		}
		assert.Equal(t, 0, service.Len())
	})
}

func TestRateLimitService_CheckBoth(t *testing.T) {
	t.Run("tenant budget applies across actors", func(t *testing.T) {
		service, _ := newTestService(t)

		assert.True(t, service.CheckBoth("u-1", "g-1", models.TierFree).Allowed)
		assert.True(t, service.CheckBoth("u-2", "g-1", models.TierFree).Allowed)
		assert.True(t, service.CheckBoth("u-3", "g-1", models.TierFree).Allowed)

		res := service.CheckBoth("u-4", "g-1", models.TierFree)
		assert.False(t, res.Allowed)
		assert.Equal(t, ScopeTenant, res.Scope)
	})

	t.Run("actor denial leaves tenant bucket untouched", func(t *testing.T) {
		service, _ := newTestService(t)

		for i := 0; i < 10; i++ {
			service.Check(ScopeActor, "u-1", models.TierFree)
		}
		res := service.CheckBoth("u-1", "g-1", models.TierFree)
		assert.False(t, res.Allowed)
		assert.Equal(t, ScopeActor, res.Scope)

		tenant := service.Check(ScopeTenant, "g-1", models.TierFree)
		assert.Equal(t, 2, tenant.Remaining)
	})
}

func TestRateLimitService_Sweep(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	service, clock := newTestService(t, WithMetrics(metrics))

	service.Check(ScopeActor, "u-1", models.TierFree)
	service.Check(ScopeTenant, "g-1", models.TierFree)
	assert.Equal(t, 2, service.Len())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, service.Sweep(), "tenant bucket has a 10s window")
	assert.Equal(t, 1, service.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitBuckets))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, service.Sweep())
	assert.Equal(t, 0, service.Len())

	res := service.Check(ScopeActor, "u-1", models.TierFree)
	assert.True(t, res.Allowed)
	assert.Equal(t, 9, res.Remaining)
}

func TestRateLimitService_RejectionMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	service, _ := newTestService(t, WithMetrics(metrics))

	for i := 0; i < 4; i++ {
		service.Check(ScopeTenant, "g-1", models.TierFree)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitRejectionsTotal.WithLabelValues("tenant")))
}

func TestRateLimitService_Concurrent(t *testing.T) {
	service := NewRateLimitService(config.RateLimitConfig{
		ActorLimits: map[models.Tier]config.TierLimit{
			models.TierFree: {Max: 50, Window: time.Hour},
		},
	}, models.TierFree, zap.NewNop())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if service.Check(ScopeActor, "u-1", models.TierFree).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
			service.Sweep()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestRateLimitService_StartSweeper(t *testing.T) {
	service, clock := newTestService(t)
	service.Check(ScopeTenant, "g-1", models.TierFree)
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.StartSweeper(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return service.Len() == 0 }, time.Second, 5*time.Millisecond)
}
