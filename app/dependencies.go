package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/upb/enforcement-gate/config"
	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/middleware"
	"github.com/upb/enforcement-gate/repositories"
	"github.com/upb/enforcement-gate/repositories/postgres"
	"github.com/upb/enforcement-gate/services/audit"
	"github.com/upb/enforcement-gate/services/authority"
	"github.com/upb/enforcement-gate/services/enforcement"
	"github.com/upb/enforcement-gate/services/entitlement"
	"github.com/upb/enforcement-gate/services/ratelimit"
	"github.com/upb/enforcement-gate/services/roles"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	AuditDB *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics // nil when metrics are disabled

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Decision chain
	RateLimiter  *ratelimit.RateLimitService
	Resolver     *authority.Resolver
	Evaluator    *entitlement.Evaluator
	AuditService *audit.AuditService
	AuditReader  *audit.Reader
	Orchestrator *enforcement.Orchestrator

	// Administration
	RoleService *roles.RoleService

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies connects to PostgreSQL, prepares the schema, and wires up
// every service.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return NewDependenciesWithFactory(cfg, factory, logger), nil
}

// NewDependenciesWithFactory wires every service on top of an existing factory.
// The audit pipeline is created but not started.
func NewDependenciesWithFactory(cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger) *Dependencies {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
		AuditDB:     factory.AuditDB(),
	}

	deps.initMetrics(cfg)
	deps.initRepositories()
	deps.initServices(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps
}

// initMetrics creates a dedicated registry with the process collectors
func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = observability.NewMetrics(registry)
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initServices builds the decision chain and role administration
func (d *Dependencies) initServices(cfg *config.Config) {
	d.RateLimiter = ratelimit.NewRateLimitService(
		cfg.RateLimit,
		cfg.Gate.TierLadder.Base(),
		d.Logger.Named("ratelimit"),
		ratelimit.WithMetrics(d.Metrics),
	)

	d.Resolver = authority.NewResolver(authority.Sources{
		GlobalRoles:      d.Repos.GlobalRoles,
		Tenants:          d.Repos.Tenants,
		Members:          d.Repos.Members,
		RoleAssignments:  d.Repos.RoleAssignments,
		PlatformOwnerIDs: cfg.Gate.PlatformOwnerIDs,
	}, cfg.Gate.LookupTimeout, d.Logger.Named("authority"), d.Metrics)

	d.Evaluator = entitlement.NewEvaluator(
		d.Repos.Subscriptions,
		cfg.Gate,
		d.Logger.Named("entitlement"),
		entitlement.WithMetrics(d.Metrics),
		entitlement.WithCache(cfg.Cache),
	)

	d.AuditService = audit.NewAuditService(d.Repos.AuditRecords, d.Logger.Named("audit"), audit.Config{
		BufferSize:   cfg.Audit.BufferSize,
		WorkerCount:  cfg.Audit.WorkerCount,
		WriteTimeout: cfg.Audit.WriteTimeout,
	}, d.Metrics)
	d.AuditReader = audit.NewReader(d.Repos.AuditRecords, d.Logger.Named("audit"))

	d.Orchestrator = enforcement.NewOrchestrator(
		d.RateLimiter,
		d.Resolver,
		d.Evaluator,
		d.AuditService,
		d.Logger.Named("enforcement"),
		d.Metrics,
	)

	d.RoleService = roles.NewRoleService(
		d.Repos.RoleAssignments,
		d.TxManager,
		d.Resolver,
		d.AuditService,
		d.Logger.Named("roles"),
	)

	d.Logger.Info("services initialized",
		zap.Int("audit_workers", cfg.Audit.WorkerCount),
		zap.Strings("tiers", tierNames(cfg)),
		zap.Bool("metrics", d.Metrics != nil))
}

// initAuth sets up service token validation. Without a secret every token is rejected.
func (d *Dependencies) initAuth(cfg *config.Config) {
	var validator middleware.TokenValidator = rejectAll{}
	if cfg.Auth.JWTSecret != "" {
		validator = middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	} else {
		d.Logger.Warn("JWT_SECRET not configured, API routes will reject all tokens")
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger.Named("auth"))
}

// Close stops the audit pipeline and closes all connections
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("closing dependencies")

	var errs []error

	if d.AuditService != nil && d.AuditService.GetStats().Started {
		if err := d.AuditService.Stop(d.Config.Audit.StopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	d.Logger.Info("all dependencies closed successfully")
	return nil
}

type rejectAll struct{}

func (rejectAll) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	return nil, middleware.ErrInvalidToken
}

func tierNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Gate.TierLadder))
	for _, t := range cfg.Gate.TierLadder {
		names = append(names, string(t))
	}
	return names
}
