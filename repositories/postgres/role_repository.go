package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/repositories"
	"go.uber.org/zap"
)

// RoleAssignmentRepository implements the repositories.RoleAssignmentRepository interface
type RoleAssignmentRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewRoleAssignmentRepository creates a new role assignment repository
func NewRoleAssignmentRepository(db *DB, logger *zap.Logger) repositories.RoleAssignmentRepository {
	return &RoleAssignmentRepository{
		db:     db,
		logger: logger,
	}
}

// GetRoleAssignments returns every role the actor holds in the tenant
func (r *RoleAssignmentRepository) GetRoleAssignments(ctx context.Context, actorID, tenantID string) ([]*models.RoleAssignment, error) {
	query := `
		SELECT ra.id, ra.tenant_id, ra.actor_id, ra.assigned_by, ra.assigned_at,
		       tr.id, tr.tenant_id, tr.name, tr.class, tr.capabilities
		FROM role_assignments ra
		JOIN tenant_roles tr ON tr.id = ra.role_id
		WHERE ra.tenant_id = $1 AND ra.actor_id = $2
		ORDER BY ra.assigned_at ASC
	`

	rows, err := executorFor(ctx, r.db, r.tx).QueryContext(ctx, query, tenantID, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*models.RoleAssignment
	for rows.Next() {
		a := &models.RoleAssignment{}
		var caps []string
		if err := rows.Scan(
			&a.ID,
			&a.TenantID,
			&a.ActorID,
			&a.AssignedBy,
			&a.AssignedAt,
			&a.Role.ID,
			&a.Role.TenantID,
			&a.Role.Name,
			&a.Role.Class,
			pq.Array(&caps),
		); err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}
		a.Role.Capabilities = toCapabilities(caps)
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role assignment rows: %w", err)
	}

	return assignments, nil
}

// GetRole returns a role definition of the tenant
func (r *RoleAssignmentRepository) GetRole(ctx context.Context, tenantID string, roleID uuid.UUID) (*models.RoleDefinition, error) {
	query := `
		SELECT id, tenant_id, name, class, capabilities
		FROM tenant_roles
		WHERE tenant_id = $1 AND id = $2
	`

	role := &models.RoleDefinition{}
	var caps []string
	err := executorFor(ctx, r.db, r.tx).QueryRowContext(ctx, query, tenantID, roleID).Scan(
		&role.ID,
		&role.TenantID,
		&role.Name,
		&role.Class,
		pq.Array(&caps),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get role %s: %w", roleID, translateError(err))
	}

	role.Capabilities = toCapabilities(caps)
	return role, nil
}

// Create inserts a role assignment
func (r *RoleAssignmentRepository) Create(ctx context.Context, assignment *models.RoleAssignment) error {
	query := `
		INSERT INTO role_assignments (id, tenant_id, actor_id, role_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := executorFor(ctx, r.db, r.tx).ExecContext(ctx, query,
		assignment.ID,
		assignment.TenantID,
		assignment.ActorID,
		assignment.Role.ID,
		assignment.AssignedBy,
		assignment.AssignedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create role assignment: %w", translateError(err))
	}

	r.logger.Debug("role assignment created",
		zap.String("tenant_id", assignment.TenantID),
		zap.String("actor_id", assignment.ActorID),
		zap.String("role", assignment.Role.Name),
	)
	return nil
}

// Delete removes the actor's assignment of the role
func (r *RoleAssignmentRepository) Delete(ctx context.Context, tenantID, actorID string, roleID uuid.UUID) error {
	query := `DELETE FROM role_assignments WHERE tenant_id = $1 AND actor_id = $2 AND role_id = $3`

	result, err := executorFor(ctx, r.db, r.tx).ExecContext(ctx, query, tenantID, actorID, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role assignment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("role assignment for %s: %w", actorID, repositories.ErrNotFound)
	}

	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *RoleAssignmentRepository) WithTx(tx repositories.Transaction) repositories.RoleAssignmentRepository {
	pgTx, _ := tx.(*Transaction)
	return &RoleAssignmentRepository{
		db:     r.db,
		tx:     pgTx,
		logger: r.logger,
	}
}

func toCapabilities(raw []string) []models.Capability {
	caps := make([]models.Capability, 0, len(raw))
	for _, c := range raw {
		caps = append(caps, models.Capability(c))
	}
	return caps
}
