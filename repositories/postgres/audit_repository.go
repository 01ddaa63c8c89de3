package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/repositories"
	"go.uber.org/zap"
)

const auditColumns = `id, tenant_id, actor_id, target_id, action, subject, outcome, reason,
		       metadata, request_id, ip_address, user_agent, corrects_id, timestamp`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts a new audit record
func (r *AuditRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	query := `
		INSERT INTO audit_records (
			id, tenant_id, actor_id, target_id, action, subject, outcome, reason,
			metadata, request_id, ip_address, user_agent, corrects_id, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	var metadata interface{}
	if len(record.Metadata) > 0 {
		metadata = []byte(record.Metadata)
	}

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		record.ID,
		record.TenantID,
		record.ActorID,
		record.TargetID,
		record.Action,
		record.Subject,
		record.Outcome,
		record.Reason,
		metadata,
		record.RequestID,
		record.IPAddress,
		record.UserAgent,
		record.CorrectsID,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	r.logger.Debug("audit record appended",
		zap.String("id", record.ID.String()),
		zap.String("action", string(record.Action)),
	)
	return nil
}

// GetByID retrieves an audit record of the tenant by ID
func (r *AuditRepository) GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*models.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE id = $1 AND tenant_id = $2`

	records, err := r.queryAuditRecords(ctx, query, id, tenantID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("audit record %s: %w", id, repositories.ErrNotFound)
	}
	return records[0], nil
}

// Query returns the tenant's records newest first. An actor filter matches
// records where the actor is either the initiator or the target.
func (r *AuditRepository) Query(ctx context.Context, q models.AuditQuery) ([]*models.AuditRecord, error) {
	var (
		where = []string{"tenant_id = $1"}
		args  = []interface{}{q.TenantID}
	)
	if q.ActorID != "" {
		args = append(args, q.ActorID)
		where = append(where, fmt.Sprintf("(actor_id = $%d OR target_id = $%d)", len(args), len(args)))
	}
	if q.Action != "" {
		args = append(args, q.Action)
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	args = append(args, q.Limit, q.Offset)

	query := fmt.Sprintf(`SELECT %s FROM audit_records WHERE %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		auditColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	return r.queryAuditRecords(ctx, query, args...)
}

// GetByRequestID retrieves the tenant's audit records by request ID
func (r *AuditRepository) GetByRequestID(ctx context.Context, tenantID, requestID string) ([]*models.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE request_id = $1 AND tenant_id = $2 ORDER BY timestamp DESC`

	return r.queryAuditRecords(ctx, query, requestID, tenantID)
}

// queryAuditRecords is a helper method to query multiple audit records
func (r *AuditRepository) queryAuditRecords(ctx context.Context, query string, args ...interface{}) ([]*models.AuditRecord, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		rec := &models.AuditRecord{}
		var metadata []byte
		err := rows.Scan(
			&rec.ID,
			&rec.TenantID,
			&rec.ActorID,
			&rec.TargetID,
			&rec.Action,
			&rec.Subject,
			&rec.Outcome,
			&rec.Reason,
			&metadata,
			&rec.RequestID,
			&rec.IPAddress,
			&rec.UserAgent,
			&rec.CorrectsID,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if len(metadata) > 0 {
			rec.Metadata = metadata
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit record rows: %w", err)
	}

	return records, nil
}
