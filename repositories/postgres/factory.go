package postgres

import (
	"context"

	"github.com/upb/enforcement-gate/config"
	"github.com/upb/enforcement-gate/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for audit records
	logger  *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger.With(zap.String("db", "audit")))
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// NewRepositoryFactoryWithDB builds a factory over pools the caller already opened.
// auditDB may be nil.
func NewRepositoryFactoryWithDB(db, auditDB *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, auditDB: auditDB, logger: logger}
}

// InitSchema creates the gate tables and the audit table on whichever database holds it
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	if err := f.db.InitSchema(ctx); err != nil {
		return err
	}
	return f.AuditDB().InitAuditSchema(ctx)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	tenants := NewTenantRepository(f.db, f.logger)
	return &repositories.Repositories{
		GlobalRoles:     NewPlatformRoleRepository(f.db, f.logger),
		Tenants:         tenants,
		Members:         tenants,
		RoleAssignments: NewRoleAssignmentRepository(f.db, f.logger),
		Subscriptions:   NewSubscriptionRepository(f.db, f.logger),
		AuditRecords:    NewAuditRepository(f.AuditDB(), f.logger),
	}
}

// GetTransactionManager returns a transaction manager
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// AuditDB returns the database holding audit records
func (f *RepositoryFactory) AuditDB() *DB {
	if f.auditDB != nil {
		return f.auditDB
	}
	return f.db
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}
