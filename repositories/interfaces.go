package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/enforcement-gate/models"
)

// ErrNotFound is returned by lookups that address a single row which does not exist
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a unique constraint rejects a write
var ErrDuplicate = errors.New("duplicate record")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// GlobalRoleRepository reads platform-wide roles.
// A nil role with a nil error means the actor holds no global role.
type GlobalRoleRepository interface {
	GetGlobalRole(ctx context.Context, actorID string) (*models.GlobalRole, error)
}

// TenantRepository reads tenant ownership.
// An empty owner with a nil error means the tenant is unknown.
type TenantRepository interface {
	GetTenantOwner(ctx context.Context, tenantID string) (string, error)
}

// MemberPermissionRepository reads native permissions of tenant members
type MemberPermissionRepository interface {
	HasNativePermission(ctx context.Context, actorID, tenantID string, permission models.NativePermission) (bool, error)
}

// RoleAssignmentRepository handles tenant role data
type RoleAssignmentRepository interface {
	// GetRoleAssignments returns every role assignment of the actor in the tenant
	GetRoleAssignments(ctx context.Context, actorID, tenantID string) ([]*models.RoleAssignment, error)

	// GetRole returns a role definition of the tenant, or ErrNotFound
	GetRole(ctx context.Context, tenantID string, roleID uuid.UUID) (*models.RoleDefinition, error)

	// Create inserts an assignment; ErrDuplicate when the actor already holds the role
	Create(ctx context.Context, assignment *models.RoleAssignment) error

	// Delete removes the actor's assignment of the role; ErrNotFound when absent
	Delete(ctx context.Context, tenantID, actorID string, roleID uuid.UUID) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) RoleAssignmentRepository
}

// SubscriptionRepository reads billing-owned subscription records.
// A nil record with a nil error means no subscription exists for the scope.
type SubscriptionRepository interface {
	GetTenantSubscription(ctx context.Context, tenantID string) (*models.SubscriptionRecord, error)
	GetActorSubscription(ctx context.Context, actorID string) (*models.SubscriptionRecord, error)
}

// AuditRepository is the durable append-only audit sink.
// Records are never updated or deleted.
type AuditRepository interface {
	// Append inserts a new audit record
	Append(ctx context.Context, record *models.AuditRecord) error

	// GetByID retrieves an audit record of the tenant by ID, or ErrNotFound
	GetByID(ctx context.Context, tenantID string, id uuid.UUID) (*models.AuditRecord, error)

	// Query returns records of a tenant newest first
	Query(ctx context.Context, q models.AuditQuery) ([]*models.AuditRecord, error)

	// GetByRequestID retrieves the tenant's audit records by request ID
	GetByRequestID(ctx context.Context, tenantID, requestID string) ([]*models.AuditRecord, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	GlobalRoles     GlobalRoleRepository
	Tenants         TenantRepository
	Members         MemberPermissionRepository
	RoleAssignments RoleAssignmentRepository
	Subscriptions   SubscriptionRepository
	AuditRecords    AuditRepository
}
