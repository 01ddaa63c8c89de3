package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/repositories"
	"github.com/upb/enforcement-gate/services"
	"go.uber.org/zap"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Reader is the read-only view of the audit trail
type Reader struct {
	auditRepo repositories.AuditRepository
	logger    *zap.Logger
}

// NewReader creates a new Reader instance
func NewReader(auditRepo repositories.AuditRepository, logger *zap.Logger) *Reader {
	return &Reader{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// List returns a tenant's records newest first. ActorID, when set, matches
// records where the actor is either the initiator or the target.
func (r *Reader) List(ctx context.Context, q models.AuditQuery) ([]*models.AuditRecord, error) {
	tenantID, err := requireTenant(q.TenantID)
	if err != nil {
		return nil, err
	}
	q.TenantID = tenantID
	if q.Offset < 0 {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "offset must not be negative", nil).
			WithDetail("field", "offset")
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultListLimit
	case q.Limit > MaxListLimit:
		q.Limit = MaxListLimit
	}

	records, err := r.auditRepo.Query(ctx, q)
	if err != nil {
		r.logger.Error("failed to query audit records", zap.Error(err), zap.String("tenant_id", q.TenantID))
		return nil, services.WrapInternal("failed to query audit records", err)
	}
	if records == nil {
		records = []*models.AuditRecord{}
	}
	return records, nil
}

// Get returns a single record of the tenant. Records of other tenants are not found.
func (r *Reader) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.AuditRecord, error) {
	tenantID, err := requireTenant(tenantID)
	if err != nil {
		return nil, err
	}

	rec, err := r.auditRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "audit record not found", err).
				WithDetail("id", id.String())
		}
		r.logger.Error("failed to get audit record", zap.Error(err), zap.String("id", id.String()))
		return nil, services.WrapInternal("failed to get audit record", err)
	}
	return rec, nil
}

// ByRequest returns the tenant's records written while serving one request
func (r *Reader) ByRequest(ctx context.Context, tenantID, requestID string) ([]*models.AuditRecord, error) {
	tenantID, err := requireTenant(tenantID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(requestID) == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "request_id is required", nil)
	}

	records, err := r.auditRepo.GetByRequestID(ctx, tenantID, requestID)
	if err != nil {
		r.logger.Error("failed to get audit records by request", zap.Error(err),
			zap.String("tenant_id", tenantID), zap.String("request_id", requestID))
		return nil, services.WrapInternal("failed to get audit records by request", err)
	}
	if records == nil {
		records = []*models.AuditRecord{}
	}
	return records, nil
}

func requireTenant(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", services.NewDomainError(services.ErrorTypeValidation, "tenant_id is required", nil).
			WithDetail("field", "tenant_id")
	}
	return tenantID, nil
}
