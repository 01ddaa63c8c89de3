package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/repositories"
	"go.uber.org/zap"
)

// PlatformRoleRepository implements repositories.GlobalRoleRepository
type PlatformRoleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPlatformRoleRepository creates a new platform role repository
func NewPlatformRoleRepository(db *DB, logger *zap.Logger) repositories.GlobalRoleRepository {
	return &PlatformRoleRepository{
		db:     db,
		logger: logger,
	}
}

// GetGlobalRole returns the actor's platform role, or nil when it holds none
func (r *PlatformRoleRepository) GetGlobalRole(ctx context.Context, actorID string) (*models.GlobalRole, error) {
	query := `SELECT role FROM platform_roles WHERE actor_id = $1`

	var role models.GlobalRole
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, actorID).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get platform role: %w", err)
	}

	return &role, nil
}

// TenantRepository implements repositories.TenantRepository and
// repositories.MemberPermissionRepository
type TenantRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB, logger *zap.Logger) *TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger,
	}
}

// GetTenantOwner returns the owner of the tenant, or "" for an unknown tenant
func (r *TenantRepository) GetTenantOwner(ctx context.Context, tenantID string) (string, error) {
	query := `SELECT owner_id FROM tenants WHERE id = $1`

	var ownerID string
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tenantID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get tenant owner: %w", err)
	}

	return ownerID, nil
}

// HasNativePermission reports whether the member holds the native permission.
// Non-members hold none.
func (r *TenantRepository) HasNativePermission(ctx context.Context, actorID, tenantID string, permission models.NativePermission) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM tenant_members
			WHERE tenant_id = $1 AND actor_id = $2 AND $3 = ANY(permissions)
		)
	`

	var held bool
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, tenantID, actorID, string(permission)).Scan(&held)
	if err != nil {
		return false, fmt.Errorf("failed to check native permission: %w", err)
	}

	return held, nil
}
