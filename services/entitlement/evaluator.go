package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/enforcement-gate/config"
	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/services"
	"go.uber.org/zap"
)

// SubscriptionSource reads billing-owned subscription records.
// A nil record with a nil error means none exists.
type SubscriptionSource interface {
	GetTenantSubscription(ctx context.Context, tenantID string) (*models.SubscriptionRecord, error)
	GetActorSubscription(ctx context.Context, actorID string) (*models.SubscriptionRecord, error)
}

// Decision is an explainable entitlement result
type Decision struct {
	Allowed   bool
	Tier      models.Tier
	Reason    string
	Source    models.SubscriptionScope // empty when no record decided
	ExpiresAt *time.Time
}

// Evaluator decides whether a tenant or actor subscription covers a required
// tier. It has no side effects and is safe to call speculatively.
type Evaluator struct {
	subs          SubscriptionSource
	ladder        models.TierLadder
	gracePeriod   time.Duration
	lookupTimeout time.Duration
	cache         *subscriptionCache
	now           func() time.Time
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithCache enables the subscription lookup cache
func WithCache(cfg config.CacheConfig) Option {
	return func(e *Evaluator) {
		e.cache = newSubscriptionCache(cfg.SubscriptionSize, cfg.SubscriptionTTL, e.metrics)
	}
}

// WithMetrics records lookup failures and cache results
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator creates a new Evaluator instance
func NewEvaluator(subs SubscriptionSource, gate config.GateConfig, logger *zap.Logger, opts ...Option) *Evaluator {
	ladder := gate.TierLadder
	if len(ladder) == 0 {
		ladder = models.DefaultTierLadder
	}
	e := &Evaluator{
		subs:          subs,
		ladder:        ladder,
		gracePeriod:   gate.GracePeriod,
		lookupTimeout: gate.LookupTimeout,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache != nil {
		e.cache.metrics = e.metrics
	}
	return e
}

// Ladder returns the configured tier ordering
func (e *Evaluator) Ladder() models.TierLadder {
	return e.ladder
}

// Evaluate checks the tenant subscription first and falls back to the actor's
// personal subscription. A failed lookup counts as an absent record. With no
// record at either scope only the base tier is covered.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID, actorID string, required models.Tier) Decision {
	if required == "" {
		required = e.ladder.Base()
	}

	var tenantDecision *Decision
	if tenantID != "" {
		if rec := e.lookup(ctx, models.SubscriptionScopeTenant, tenantID); rec != nil {
			d := e.evaluateRecord(rec, required)
			if d.Allowed {
				return d
			}
			tenantDecision = &d
		}
	}

	if actorID != "" {
		if rec := e.lookup(ctx, models.SubscriptionScopeActor, actorID); rec != nil {
			return e.evaluateRecord(rec, required)
		}
	}

	if tenantDecision != nil {
		return *tenantDecision
	}

	if required == e.ladder.Base() {
		return Decision{
			Allowed: true,
			Tier:    required,
			Reason:  fmt.Sprintf("%s features are included in every plan", required),
		}
	}

	return Decision{
		Allowed: false,
		Tier:    e.ladder.Base(),
		Reason:  fmt.Sprintf("feature requires %s plan", required),
	}
}

// Invalidate drops cached subscription records
func (e *Evaluator) Invalidate() {
	e.cache.purge()
}

func (e *Evaluator) evaluateRecord(rec *models.SubscriptionRecord, required models.Tier) Decision {
	scope := rec.Scope
	d := Decision{Tier: rec.Tier, Source: scope}

	if !e.ladder.Covers(rec.Tier, required) {
		d.Reason = fmt.Sprintf("%s subscription tier %s does not include %s features", scope, rec.Tier, required)
		return d
	}

	if rec.Active {
		d.Allowed = true
		d.Reason = fmt.Sprintf("%s subscription active", scope)
		d.ExpiresAt = rec.ExpiresAt
		return d
	}

	if rec.ExpiresAt != nil {
		graceUntil := rec.ExpiresAt.Add(e.gracePeriod)
		if !e.now().After(graceUntil) {
			d.Allowed = true
			d.Reason = fmt.Sprintf("%s subscription in grace period", scope)
			d.ExpiresAt = &graceUntil
			return d
		}
	}

	d.Reason = fmt.Sprintf("%s subscription expired, upgrade to continue", scope)
	return d
}

// lookup fetches one scope's record, returning nil on absence or failure
func (e *Evaluator) lookup(ctx context.Context, scope models.SubscriptionScope, ownerID string) *models.SubscriptionRecord {
	fetch := func(ctx context.Context) (*models.SubscriptionRecord, error) {
		if e.lookupTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.lookupTimeout)
			defer cancel()
		}
		var (
			rec *models.SubscriptionRecord
			err error
		)
		if scope == models.SubscriptionScopeTenant {
			rec, err = e.subs.GetTenantSubscription(ctx, ownerID)
		} else {
			rec, err = e.subs.GetActorSubscription(ctx, ownerID)
		}
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		return rec, err
	}

	rec, err := e.cache.get(ctx, string(scope)+":"+ownerID, fetch)
	if err != nil {
		source := string(scope) + "_subscription"
		e.metrics.LookupFailed(source)
		e.logger.Warn("LookupFailure",
			zap.String("source", source),
			zap.String("owner_id", ownerID),
			zap.Error(services.WrapLookup(source, err)))
		return nil
	}
	if rec != nil && rec.Scope == "" {
		scoped := *rec
		scoped.Scope = scope
		rec = &scoped
	}
	return rec
}
