package entitlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/enforcement-gate/config"
	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/models"
	"go.uber.org/zap"
)

// MockSubscriptionSource is a mock implementation of SubscriptionSource
type MockSubscriptionSource struct {
	mock.Mock
}

func (m *MockSubscriptionSource) GetTenantSubscription(ctx context.Context, tenantID string) (*models.SubscriptionRecord, error) {
	args := m.Called(ctx, tenantID)
	if rec := args.Get(0); rec != nil {
		return rec.(*models.SubscriptionRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSubscriptionSource) GetActorSubscription(ctx context.Context, actorID string) (*models.SubscriptionRecord, error) {
	args := m.Called(ctx, actorID)
	if rec := args.Get(0); rec != nil {
		return rec.(*models.SubscriptionRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

const (
	tenant = "guild-1"
	actor  = "user-1"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func gateConfig() config.GateConfig {
	return config.GateConfig{
		LookupTimeout: time.Second,
		GracePeriod:   72 * time.Hour,
		TierLadder:    models.DefaultTierLadder,
	}
}

func newEvaluator(src SubscriptionSource, clock func() time.Time, opts ...Option) *Evaluator {
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewEvaluator(src, gateConfig(), zap.NewNop(), opts...)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func subscription(scope models.SubscriptionScope, owner string, tier models.Tier, active bool, expiresAt *time.Time) *models.SubscriptionRecord {
	return &models.SubscriptionRecord{
		ID:        uuid.New(),
		Scope:     scope,
		OwnerID:   owner,
		Tier:      tier,
		Active:    active,
		ExpiresAt: expiresAt,
		UpdatedAt: now,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluator_BaseTier(t *testing.T) {
	t.Run("covered without any record", func(t *testing.T) {
		src := new(MockSubscriptionSource)
		src.On("GetTenantSubscription", mock.Anything, tenant).Return(nil, nil)
		src.On("GetActorSubscription", mock.Anything, actor).Return(nil, nil)
		e := newEvaluator(src, fixedClock(now))

		d := e.Evaluate(context.Background(), tenant, actor, models.TierFree)
		assert.True(t, d.Allowed)
		assert.Equal(t, models.TierFree, d.Tier)
		assert.Equal(t, "FREE features are included in every plan", d.Reason)

		d = e.Evaluate(context.Background(), tenant, actor, "")
		assert.True(t, d.Allowed)
		assert.Equal(t, models.TierFree, d.Tier)
	})

	t.Run("covered when lookups fail", func(t *testing.T) {
		src := new(MockSubscriptionSource)
		src.On("GetTenantSubscription", mock.Anything, tenant).Return(nil, errors.New("connection refused"))
		src.On("GetActorSubscription", mock.Anything, actor).Return(nil, errors.New("connection refused"))

		d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierFree)
		assert.True(t, d.Allowed)
	})

	t.Run("expired record is still evaluated", func(t *testing.T) {
		expired := now.Add(-10 * 24 * time.Hour)
		src := new(MockSubscriptionSource)
		src.On("GetTenantSubscription", mock.Anything, tenant).
			Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierPro, false, &expired), nil)
		src.On("GetActorSubscription", mock.Anything, actor).Return(nil, nil)

		d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierFree)
		assert.False(t, d.Allowed)
		assert.Equal(t, "tenant subscription expired, upgrade to continue", d.Reason)
		assert.Equal(t, models.SubscriptionScopeTenant, d.Source)
	})

	t.Run("active record reports its scope", func(t *testing.T) {
		src := new(MockSubscriptionSource)
		src.On("GetTenantSubscription", mock.Anything, tenant).
			Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierFree, true, nil), nil)

		d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierFree)
		assert.True(t, d.Allowed)
		assert.Equal(t, "tenant subscription active", d.Reason)
		src.AssertNotCalled(t, "GetActorSubscription", mock.Anything, mock.Anything)
	})
}

func TestEvaluator_NoSubscription(t *testing.T) {
	src := new(MockSubscriptionSource)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(nil, nil)
	src.On("GetActorSubscription", mock.Anything, actor).Return(nil, nil)

	d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierPro)

	assert.False(t, d.Allowed)
	assert.Equal(t, "feature requires PRO plan", d.Reason)
	assert.Equal(t, models.TierFree, d.Tier)
}

func TestEvaluator_TenantFreeRequiredPro(t *testing.T) {
	src := new(MockSubscriptionSource)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierFree, true, nil), nil)
	src.On("GetActorSubscription", mock.Anything, actor).Return(nil, nil)

	d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierPro)

	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "PRO")
	assert.Equal(t, "tenant subscription tier FREE does not include PRO features", d.Reason)
	assert.Equal(t, models.SubscriptionScopeTenant, d.Source)
}

func TestEvaluator_TenantTakesPriority(t *testing.T) {
	src := new(MockSubscriptionSource)
	expiry := now.Add(30 * 24 * time.Hour)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierElite, true, &expiry), nil)

	d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierPro)

	assert.True(t, d.Allowed)
	assert.Equal(t, "tenant subscription active", d.Reason)
	assert.Equal(t, models.TierElite, d.Tier)
	require.NotNil(t, d.ExpiresAt)
	assert.Equal(t, expiry, *d.ExpiresAt)
	src.AssertNotCalled(t, "GetActorSubscription", mock.Anything, mock.Anything)
}

func TestEvaluator_ActorFallback(t *testing.T) {
	src := new(MockSubscriptionSource)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierFree, true, nil), nil)
	src.On("GetActorSubscription", mock.Anything, actor).Return(subscription(models.SubscriptionScopeActor, actor, models.TierPro, true, nil), nil)

	d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierPro)

	assert.True(t, d.Allowed)
	assert.Equal(t, "actor subscription active", d.Reason)
	assert.Equal(t, models.SubscriptionScopeActor, d.Source)
}

func TestEvaluator_ActorDecisionReplacesTenantDenial(t *testing.T) {
	src := new(MockSubscriptionSource)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierFree, true, nil), nil)
	src.On("GetActorSubscription", mock.Anything, actor).Return(subscription(models.SubscriptionScopeActor, actor, models.TierElite, false, timePtr(now.Add(-10*24*time.Hour))), nil)

	d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierPro)

	assert.False(t, d.Allowed)
	assert.Equal(t, "actor subscription expired, upgrade to continue", d.Reason)
}

func TestEvaluator_GracePeriod(t *testing.T) {
	expiry := now.Add(-24 * time.Hour)
	graceEnd := expiry.Add(72 * time.Hour)

	tests := []struct {
		name        string
		clock       time.Time
		wantAllowed bool
		wantReason  string
	}{
		{"inside grace", now, true, "tenant subscription in grace period"},
		{"at grace end", graceEnd, true, "tenant subscription in grace period"},
		{"one nanosecond after grace end", graceEnd.Add(time.Nanosecond), false, "tenant subscription expired, upgrade to continue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := new(MockSubscriptionSource)
			src.On("GetTenantSubscription", mock.Anything, tenant).Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierPro, false, &expiry), nil)
			src.On("GetActorSubscription", mock.Anything, actor).Return(nil, nil)

			d := newEvaluator(src, fixedClock(tt.clock)).Evaluate(context.Background(), tenant, actor, models.TierPro)

			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantReason, d.Reason)
			if tt.wantAllowed {
				require.NotNil(t, d.ExpiresAt)
				assert.Equal(t, graceEnd, *d.ExpiresAt)
			}
		})
	}
}

func TestEvaluator_InactiveWithoutExpiry(t *testing.T) {
	src := new(MockSubscriptionSource)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierElite, false, nil), nil)
	src.On("GetActorSubscription", mock.Anything, actor).Return(nil, nil)

	d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierPro)
	assert.False(t, d.Allowed)
	assert.Equal(t, "tenant subscription expired, upgrade to continue", d.Reason)
}

func TestEvaluator_UnknownTiers(t *testing.T) {
	src := new(MockSubscriptionSource)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierEnterprise, true, nil), nil)
	src.On("GetActorSubscription", mock.Anything, actor).Return(nil, nil)

	e := newEvaluator(src, fixedClock(now))

	d := e.Evaluate(context.Background(), tenant, actor, models.TierPro)
	assert.False(t, d.Allowed, "tier missing from the ladder never satisfies")

	d = e.Evaluate(context.Background(), tenant, actor, "PLATINUM")
	assert.False(t, d.Allowed, "unknown required tier is never satisfied")
}

func TestEvaluator_AlternativeLadder(t *testing.T) {
	src := new(MockSubscriptionSource)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierEnterprise, true, nil), nil)

	gate := gateConfig()
	gate.TierLadder = models.TierLadder{models.TierFree, models.TierBasic, models.TierPro, models.TierEnterprise}
	e := NewEvaluator(src, gate, zap.NewNop(), WithClock(fixedClock(now)))

	d := e.Evaluate(context.Background(), tenant, actor, models.TierPro)
	assert.True(t, d.Allowed)
}

func TestEvaluator_LookupFailureCountsAsAbsent(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	src := new(MockSubscriptionSource)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(nil, errors.New("connection refused"))
	src.On("GetActorSubscription", mock.Anything, actor).Return(subscription(models.SubscriptionScopeActor, actor, models.TierPro, true, nil), nil)

	d := newEvaluator(src, fixedClock(now), WithMetrics(metrics)).Evaluate(context.Background(), tenant, actor, models.TierPro)

	assert.True(t, d.Allowed)
	assert.Equal(t, models.SubscriptionScopeActor, d.Source)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LookupFailuresTotal.WithLabelValues("tenant_subscription")))
}

func TestEvaluator_AllLookupsFailDenies(t *testing.T) {
	src := new(MockSubscriptionSource)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(nil, errors.New("timeout"))
	src.On("GetActorSubscription", mock.Anything, actor).Return(nil, errors.New("timeout"))

	d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierElite)

	assert.False(t, d.Allowed)
	assert.Equal(t, "feature requires ELITE plan", d.Reason)
}

func TestEvaluator_MissingScopeFillsFromLookup(t *testing.T) {
	rec := subscription("", tenant, models.TierPro, true, nil)
	src := new(MockSubscriptionSource)
	src.On("GetTenantSubscription", mock.Anything, tenant).Return(rec, nil)

	d := newEvaluator(src, fixedClock(now)).Evaluate(context.Background(), tenant, actor, models.TierPro)

	assert.Equal(t, "tenant subscription active", d.Reason)
	assert.Empty(t, rec.Scope, "source record is not mutated")
}

func TestEvaluator_Cache(t *testing.T) {
	cacheCfg := config.CacheConfig{SubscriptionTTL: time.Minute, SubscriptionSize: 100}

	t.Run("hits avoid lookups", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		metrics := observability.NewMetrics(registry)

		src := new(MockSubscriptionSource)
		src.On("GetTenantSubscription", mock.Anything, tenant).Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierPro, true, nil), nil).Once()

		e := newEvaluator(src, fixedClock(now), WithMetrics(metrics), WithCache(cacheCfg))
		for i := 0; i < 3; i++ {
			assert.True(t, e.Evaluate(context.Background(), tenant, actor, models.TierPro).Allowed)
		}
		src.AssertNumberOfCalls(t, "GetTenantSubscription", 1)
		assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SubscriptionCacheTotal.WithLabelValues("hit")))
	})

	t.Run("absence is cached", func(t *testing.T) {
		src := new(MockSubscriptionSource)
		src.On("GetTenantSubscription", mock.Anything, tenant).Return(nil, nil)
		src.On("GetActorSubscription", mock.Anything, actor).Return(nil, nil)

		e := newEvaluator(src, fixedClock(now), WithCache(cacheCfg))
		e.Evaluate(context.Background(), tenant, actor, models.TierPro)
		e.Evaluate(context.Background(), tenant, actor, models.TierPro)
		src.AssertNumberOfCalls(t, "GetTenantSubscription", 1)
		src.AssertNumberOfCalls(t, "GetActorSubscription", 1)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		src := new(MockSubscriptionSource)
		src.On("GetTenantSubscription", mock.Anything, tenant).Return(nil, errors.New("boom"))
		src.On("GetActorSubscription", mock.Anything, actor).Return(nil, nil)

		e := newEvaluator(src, fixedClock(now), WithCache(cacheCfg))
		e.Evaluate(context.Background(), tenant, actor, models.TierPro)
		e.Evaluate(context.Background(), tenant, actor, models.TierPro)
		src.AssertNumberOfCalls(t, "GetTenantSubscription", 2)
	})

	t.Run("invalidate forces a reload", func(t *testing.T) {
		src := new(MockSubscriptionSource)
		src.On("GetTenantSubscription", mock.Anything, tenant).Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierPro, true, nil), nil)

		e := newEvaluator(src, fixedClock(now), WithCache(cacheCfg))
		e.Evaluate(context.Background(), tenant, actor, models.TierPro)
		e.Invalidate()
		e.Evaluate(context.Background(), tenant, actor, models.TierPro)
		src.AssertNumberOfCalls(t, "GetTenantSubscription", 2)
	})

	t.Run("concurrent misses coalesce", func(t *testing.T) {
		release := make(chan struct{})
		src := new(MockSubscriptionSource)
		src.On("GetTenantSubscription", mock.Anything, tenant).
			Run(func(mock.Arguments) { <-release }).
			Return(subscription(models.SubscriptionScopeTenant, tenant, models.TierPro, true, nil), nil)

		e := newEvaluator(src, fixedClock(now), WithCache(cacheCfg))

		var wg sync.WaitGroup
		results := make([]bool, 10)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = e.Evaluate(context.Background(), tenant, actor, models.TierPro).Allowed
			}(i)
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		for _, allowed := range results {
			assert.True(t, allowed)
		}
		assert.LessOrEqual(t, len(src.Calls), 10)
	})
}
