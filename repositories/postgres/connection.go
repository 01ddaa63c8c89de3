package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/enforcement-gate/config"
	"github.com/upb/enforcement-gate/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the SQLSTATE for unique_violation
const uniqueViolation = "23505"

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Wrap adapts an existing pool, used by tests and by callers that manage the pool themselves
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema initializes the authority and subscription tables
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Platform-wide roles
		CREATE TABLE IF NOT EXISTS platform_roles (
			actor_id VARCHAR(255) PRIMARY KEY,
			role VARCHAR(50) NOT NULL,
			granted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Tenants and their immutable owner
		CREATE TABLE IF NOT EXISTS tenants (
			id VARCHAR(255) PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Native permissions held by tenant members
		CREATE TABLE IF NOT EXISTS tenant_members (
			tenant_id VARCHAR(255) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			actor_id VARCHAR(255) NOT NULL,
			permissions TEXT[] NOT NULL DEFAULT '{}',
			PRIMARY KEY (tenant_id, actor_id)
		);

		-- Tenant-defined roles
		CREATE TABLE IF NOT EXISTS tenant_roles (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			name VARCHAR(100) NOT NULL,
			class VARCHAR(20) NOT NULL,
			capabilities TEXT[] NOT NULL DEFAULT '{}',
			UNIQUE(tenant_id, name)
		);

		CREATE TABLE IF NOT EXISTS role_assignments (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			actor_id VARCHAR(255) NOT NULL,
			role_id UUID NOT NULL REFERENCES tenant_roles(id) ON DELETE CASCADE,
			assigned_by VARCHAR(255) NOT NULL,
			assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(tenant_id, actor_id, role_id)
		);

		-- Subscriptions are written by billing; the gate only reads them
		CREATE TABLE IF NOT EXISTS subscriptions (
			id UUID PRIMARY KEY,
			scope VARCHAR(10) NOT NULL,
			owner_id VARCHAR(255) NOT NULL,
			tier VARCHAR(50) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			expires_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(scope, owner_id)
		);

		CREATE INDEX IF NOT EXISTS idx_role_assignments_member ON role_assignments(tenant_id, actor_id);
		CREATE INDEX IF NOT EXISTS idx_tenant_roles_tenant_id ON tenant_roles(tenant_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes the audit table. It carries no foreign keys so it
// can live in a separate database (DATABASE_URL_AUDIT).
func (db *DB) InitAuditSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_records (
			id UUID PRIMARY KEY,
			tenant_id VARCHAR(255) NOT NULL,
			actor_id VARCHAR(255) NOT NULL,
			target_id VARCHAR(255),
			action VARCHAR(50) NOT NULL,
			subject VARCHAR(255),
			outcome VARCHAR(10) NOT NULL,
			reason TEXT,
			metadata JSONB,
			request_id VARCHAR(255),
			ip_address VARCHAR(45),
			user_agent TEXT,
			corrects_id UUID,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_records_tenant_id ON audit_records(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_audit_records_actor_id ON audit_records(actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_records_target_id ON audit_records(target_id);
		CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_records_request_id ON audit_records(request_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}

// translateError maps driver errors onto repository sentinels
func translateError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return repositories.ErrDuplicate
	}
	return err
}
