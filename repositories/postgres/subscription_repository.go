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

// SubscriptionRepository implements the repositories.SubscriptionRepository interface
type SubscriptionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB, logger *zap.Logger) repositories.SubscriptionRepository {
	return &SubscriptionRepository{
		db:     db,
		logger: logger,
	}
}

// GetTenantSubscription returns the tenant's subscription or nil
func (r *SubscriptionRepository) GetTenantSubscription(ctx context.Context, tenantID string) (*models.SubscriptionRecord, error) {
	return r.get(ctx, models.SubscriptionScopeTenant, tenantID)
}

// GetActorSubscription returns the actor's personal subscription or nil
func (r *SubscriptionRepository) GetActorSubscription(ctx context.Context, actorID string) (*models.SubscriptionRecord, error) {
	return r.get(ctx, models.SubscriptionScopeActor, actorID)
}

func (r *SubscriptionRepository) get(ctx context.Context, scope models.SubscriptionScope, ownerID string) (*models.SubscriptionRecord, error) {
	query := `
		SELECT id, scope, owner_id, tier, active, expires_at, updated_at
		FROM subscriptions
		WHERE scope = $1 AND owner_id = $2
	`

	sub := &models.SubscriptionRecord{}
	var expiresAt sql.NullTime
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, scope, ownerID).Scan(
		&sub.ID,
		&sub.Scope,
		&sub.OwnerID,
		&sub.Tier,
		&sub.Active,
		&expiresAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s subscription: %w", scope, err)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		sub.ExpiresAt = &t
	}
	return sub, nil
}
