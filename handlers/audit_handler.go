package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/enforcement-gate/middleware"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/services/audit"
	"github.com/upb/enforcement-gate/utils"
	"go.uber.org/zap"
)

// AuditListResponse is one page of audit records
type AuditListResponse struct {
	Records []*models.AuditRecord `json:"records"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// AuditReader reads the audit trail
type AuditReader interface {
	List(ctx context.Context, q models.AuditQuery) ([]*models.AuditRecord, error)
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.AuditRecord, error)
	ByRequest(ctx context.Context, tenantID, requestID string) ([]*models.AuditRecord, error)
}

// AuditHandler serves the audit read path
type AuditHandler struct {
	reader AuditReader
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(reader AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		reader: reader,
		logger: logger,
	}
}

// HandleListLogs handles GET /api/v1/audit/logs
func (h *AuditHandler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if requestID := q.Get("request_id"); requestID != "" {
		records, err := h.reader.ByRequest(ctx, q.Get("tenant_id"), requestID)
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		_ = utils.WriteOK(w, AuditListResponse{Records: records, Limit: len(records)})
		return
	}

	limit, err := utils.QueryInt(r, "limit", audit.DefaultListLimit)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	offset, err := utils.QueryInt(r, "offset", 0)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	query := models.AuditQuery{
		TenantID: q.Get("tenant_id"),
		ActorID:  q.Get("actor_id"),
		Action:   models.AuditAction(q.Get("action")),
		Limit:    limit,
		Offset:   offset,
	}

	h.logger.Debug("listing audit records",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("tenant_id", query.TenantID))

	records, err := h.reader.List(ctx, query)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if limit <= 0 {
		limit = audit.DefaultListLimit
	} else if limit > audit.MaxListLimit {
		limit = audit.MaxListLimit
	}
	_ = utils.WriteOK(w, AuditListResponse{Records: records, Limit: limit, Offset: offset})
}

// HandleGetLog handles GET /api/v1/audit/logs/{id}?tenant_id=
func (h *AuditHandler) HandleGetLog(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseUUID(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid audit record id", nil)
		return
	}

	record, err := h.reader.Get(r.Context(), r.URL.Query().Get("tenant_id"), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, record)
}
