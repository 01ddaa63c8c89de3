package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/enforcement-gate/services/audit"
	"github.com/upb/enforcement-gate/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Audit     *audit.Stats      `json:"audit,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db         *sql.DB
	auditDB    *sql.DB
	auditStats func() audit.Stats
	logger     *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db *sql.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		logger: logger,
	}
}

// WithAuditDatabase adds a readiness check for a separate audit database
func (h *HealthHandler) WithAuditDatabase(db *sql.DB) *HealthHandler {
	h.auditDB = db
	return h
}

// WithAuditStats reports audit pipeline stats in readiness responses
func (h *HealthHandler) WithAuditStats(stats func() audit.Stats) *HealthHandler {
	h.auditStats = stats
	return h
}

// HandleHealth handles GET /healthz
// Liveness only; always 200 while the process serves requests
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Checks the databases the decision chain and the audit trail depend on
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := checkDatabase(ctx, h.db); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.auditDB != nil {
		if err := checkDatabase(ctx, h.auditDB); err != nil {
			h.logger.Warn("audit database health check failed", zap.Error(err))
			checks["audit_database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["audit_database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	if h.auditStats != nil {
		stats := h.auditStats()
		response.Audit = &stats
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase pings db and runs a trivial query
func checkDatabase(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return nil
	}

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
