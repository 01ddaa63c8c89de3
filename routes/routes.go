package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/upb/enforcement-gate/app"
	"github.com/upb/enforcement-gate/handlers"
	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/middleware"
	"github.com/upb/enforcement-gate/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(observability.HTTPMetricsMiddleware(deps.Metrics))

	// CORS middleware
	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := handlers.NewHealthHandler(deps.DB.DB, deps.Logger).
		WithAuditStats(deps.AuditService.GetStats)
	if deps.AuditDB != deps.DB {
		health = health.WithAuditDatabase(deps.AuditDB.DB)
	}
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	enforce := handlers.NewEnforceHandler(deps.Orchestrator, cfg.Gate.TierLadder, deps.Logger)
	authority := handlers.NewAuthorityHandler(deps.Logger)
	entitlements := handlers.NewEntitlementHandler(deps.Evaluator, deps.Logger)
	auditLogs := handlers.NewAuditHandler(deps.AuditReader, deps.Logger)
	roles := handlers.NewRoleHandler(deps.RoleService, deps.Logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Per-IP guard in front of token validation
		if cfg.Server.RequestsPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.Server.RequestsPerMinute, time.Minute))
		}
		r.Use(deps.AuthMiddleware.RequireAuth)

		// Decision chain
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireScope(middleware.ScopeEnforce))
			r.Post("/enforce", enforce.HandleEnforce)
			r.Post("/authority/can-act-on", authority.HandleCanActOn)
			r.Get("/entitlements", entitlements.HandleEvaluate)
		})

		// Audit logs
		r.Route("/audit", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireScope(middleware.ScopeAuditRead))
			r.Get("/logs", auditLogs.HandleListLogs)
			r.Get("/logs/{id}", auditLogs.HandleGetLog)
		})

		// Role administration
		r.Route("/roles", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireScope(middleware.ScopeRoles))
			r.Post("/grant", roles.HandleGrant)
			r.Post("/revoke", roles.HandleRevoke)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
