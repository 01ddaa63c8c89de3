package app

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/enforcement-gate/config"
	"github.com/upb/enforcement-gate/middleware"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/repositories/postgres"
	"go.uber.org/zap/zaptest"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Auth:        config.AuthConfig{JWTSecret: "test-secret", Issuer: "enforcement-gate"},
		Gate: config.GateConfig{
			LookupTimeout: time.Second,
			GracePeriod:   72 * time.Hour,
			TierLadder:    models.DefaultTierLadder,
		},
		RateLimit: config.RateLimitConfig{
			ActorLimits:  map[models.Tier]config.TierLimit{models.TierFree: {Max: 10, Window: time.Minute}},
			TenantLimits: map[models.Tier]config.TierLimit{models.TierFree: {Max: 50, Window: 10 * time.Second}},
		},
		Audit: config.AuditConfig{
			BufferSize:   16,
			WorkerCount:  2,
			WriteTimeout: time.Second,
			StopTimeout:  time.Second,
		},
		Cache:         config.CacheConfig{SubscriptionTTL: time.Minute, SubscriptionSize: 64},
		Observability: config.ObservabilityConfig{LogLevel: "debug", LogFormat: "console", MetricsEnabled: true},
	}
}

func newTestDependencies(t *testing.T, cfg *config.Config) (*Dependencies, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	factory := postgres.NewRepositoryFactoryWithDB(postgres.Wrap(db, logger), nil, logger)
	return NewDependenciesWithFactory(cfg, factory, logger), mock
}

func TestNewDependenciesWithFactory(t *testing.T) {
	t.Run("wires every component", func(t *testing.T) {
		deps, _ := newTestDependencies(t, testConfig())

		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.DB)
		assert.Same(t, deps.DB, deps.AuditDB)
		assert.NotNil(t, deps.Metrics)

		require.NotNil(t, deps.Repos)
		assert.NotNil(t, deps.Repos.GlobalRoles)
		assert.NotNil(t, deps.Repos.Tenants)
		assert.NotNil(t, deps.Repos.Members)
		assert.NotNil(t, deps.Repos.RoleAssignments)
		assert.NotNil(t, deps.Repos.Subscriptions)
		assert.NotNil(t, deps.Repos.AuditRecords)
		assert.NotNil(t, deps.TxManager)

		assert.NotNil(t, deps.RateLimiter)
		assert.NotNil(t, deps.Resolver)
		assert.NotNil(t, deps.Evaluator)
		assert.NotNil(t, deps.AuditService)
		assert.NotNil(t, deps.AuditReader)
		assert.NotNil(t, deps.Orchestrator)
		assert.NotNil(t, deps.RoleService)
		assert.NotNil(t, deps.AuthMiddleware)
	})

	t.Run("metrics disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.Observability.MetricsEnabled = false

		deps, _ := newTestDependencies(t, cfg)

		assert.Nil(t, deps.Metrics)
		assert.NotNil(t, deps.Orchestrator)
	})

	t.Run("audit pipeline is not started", func(t *testing.T) {
		deps, _ := newTestDependencies(t, testConfig())

		stats := deps.AuditService.GetStats()
		assert.False(t, stats.Started)
		assert.Equal(t, 2, stats.WorkerCount)
		assert.Equal(t, 16, stats.BufferSize)
	})
}

func TestDependenciesClose(t *testing.T) {
	t.Run("stops audit and closes the pool", func(t *testing.T) {
		deps, mock := newTestDependencies(t, testConfig())
		require.NoError(t, deps.AuditService.Start())
		mock.ExpectClose()

		err := deps.Close(context.Background())

		require.NoError(t, err)
		assert.False(t, deps.AuditService.GetStats().Started)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("close without start", func(t *testing.T) {
		deps, mock := newTestDependencies(t, testConfig())
		mock.ExpectClose()

		assert.NoError(t, deps.Close(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRejectAll(t *testing.T) {
	claims, err := rejectAll{}.ValidateToken(context.Background(), "anything")

	assert.Nil(t, claims)
	assert.ErrorIs(t, err, middleware.ErrInvalidToken)
}
