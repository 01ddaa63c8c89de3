package enforcement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/services/audit"
	"github.com/upb/enforcement-gate/services/authority"
	"github.com/upb/enforcement-gate/services/entitlement"
	"github.com/upb/enforcement-gate/services/ratelimit"
	"go.uber.org/zap"
)

// Stage is a state of the decision chain
type Stage string

const (
	StageStart        Stage = "start"
	StageRateLimit    Stage = "rate_limit_check"
	StageAuthority    Stage = "authority_check"
	StageEntitlement  Stage = "entitlement_check"
	StageAuditSuccess Stage = "audit_success"
	StageAuditFailure Stage = "audit_failure"
	StageAllowed      Stage = "allowed"
	StageDenied       Stage = "denied"
)

// RateChecker consumes rate limit slots
type RateChecker interface {
	CheckBoth(actorID, tenantID string, tier models.Tier) ratelimit.RateLimitResult
}

// AuthorityResolver resolves an actor's authority level
type AuthorityResolver interface {
	Resolve(ctx context.Context, req authority.Request) authority.Decision
}

// EntitlementEvaluator checks subscription coverage
type EntitlementEvaluator interface {
	Evaluate(ctx context.Context, tenantID, actorID string, required models.Tier) entitlement.Decision
}

// AuditRecorder appends audit records
type AuditRecorder interface {
	Record(ctx context.Context, rec *models.AuditRecord) audit.WriteResult
}

// Request is one action submitted to the gate
type Request struct {
	ActorID            string
	TenantID           string
	TargetID           string
	Action             string
	RequiredCapability *models.Capability
	RequiredTier       models.Tier
	RequiredLevel      models.AuthorityLevel // minimum resolved level, 0 for none
	RateTier           models.Tier           // budget tier, defaults to RequiredTier
	Membership         *models.MembershipContext
	RequestID          string
	IPAddress          string
	UserAgent          string
	Metadata           map[string]interface{}
}

// Decision is the gate's verdict. Denials always carry a reason naming the cause.
type Decision struct {
	Allowed       bool
	Reason        string
	ResolvedLevel models.AuthorityLevel
	Stage         Stage  // the check that decided, or StageAllowed
	Kind          string // denial code, empty when allowed
	RetryAfter    time.Duration
	Tier          models.Tier
	ExpiresAt     *time.Time
	Trace         []Stage
}

// Orchestrator runs rate limit, authority, and entitlement checks in order,
// stopping at the first denial, and writes exactly one audit record per request.
type Orchestrator struct {
	limiter     RateChecker
	resolver    AuthorityResolver
	entitlement EntitlementEvaluator
	recorder    AuditRecorder
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewOrchestrator creates a new Orchestrator instance
func NewOrchestrator(
	limiter RateChecker,
	resolver AuthorityResolver,
	entitlement EntitlementEvaluator,
	recorder AuditRecorder,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		limiter:     limiter,
		resolver:    resolver,
		entitlement: entitlement,
		recorder:    recorder,
		metrics:     metrics,
		logger:      logger,
	}
}

// CanActOn reports whether actorLevel strictly outranks targetLevel
func (o *Orchestrator) CanActOn(actorLevel, targetLevel models.AuthorityLevel) bool {
	return authority.CanActOn(actorLevel, targetLevel)
}

// Enforce runs the decision chain. Any failure inside the chain, including a
// panic, ends in a denial.
func (o *Orchestrator) Enforce(ctx context.Context, req Request) (decision Decision) {
	started := time.Now()
	trace := []Stage{StageStart}
	stage := StageStart
	audited := false

	finish := func(d Decision) Decision {
		if d.Allowed {
			trace = append(trace, StageAuditSuccess, StageAllowed)
			d.Stage = StageAllowed
		} else {
			trace = append(trace, StageAuditFailure, StageDenied)
			d.Stage = stage
		}
		d.Trace = trace

		if !audited {
			audited = true
			// Audit failures are reported by the recorder and never alter the decision
			_ = o.recorder.Record(ctx, o.auditRecord(req, d))
		}

		o.metrics.ObserveDecision(d.Allowed, string(d.Stage), time.Since(started))
		o.log(req, d)
		return d
	}

	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("enforcement chain panicked",
				zap.Any("panic", rec),
				zap.String("stage", string(stage)),
				zap.String("request_id", req.RequestID))
			if audited {
				decision = Decision{Allowed: false, Reason: "internal error", Kind: models.DenialInternal, Stage: stage, Trace: trace}
				return
			}
			decision = finish(Decision{Allowed: false, Reason: "internal error", Kind: models.DenialInternal})
		}
	}()

	if req.ActorID == "" || req.TenantID == "" {
		return finish(Decision{
			Reason: "invalid context: actor and tenant are required",
			Kind:   models.DenialInvalidContext,
		})
	}

	// Rate limit
	stage = StageRateLimit
	trace = append(trace, stage)
	rateTier := req.RateTier
	if rateTier == "" {
		rateTier = req.RequiredTier
	}
	rate := o.limiter.CheckBoth(req.ActorID, req.TenantID, rateTier)
	if !rate.Allowed {
		return finish(Decision{
			Reason:     fmt.Sprintf("rate limit exceeded, try again in %ds", ceilSeconds(rate.RetryAfter)),
			Kind:       models.DenialRateLimit,
			RetryAfter: rate.RetryAfter,
		})
	}

	// Authority
	stage = StageAuthority
	trace = append(trace, stage)
	auth := o.resolver.Resolve(ctx, authority.Request{
		ActorID:            req.ActorID,
		TenantID:           req.TenantID,
		Membership:         req.Membership,
		RequiredCapability: req.RequiredCapability,
	})
	if !auth.Allowed {
		return finish(Decision{
			Reason:        auth.Reason,
			Kind:          models.DenialInsufficientAuthority,
			ResolvedLevel: auth.Level,
		})
	}
	if auth.Level < req.RequiredLevel {
		return finish(Decision{
			Reason:        fmt.Sprintf("requires authority %s, resolved %s (%s)", req.RequiredLevel, auth.Level, auth.Reason),
			Kind:          models.DenialInsufficientAuthority,
			ResolvedLevel: auth.Level,
		})
	}

	// Entitlement
	stage = StageEntitlement
	trace = append(trace, stage)
	ent := o.entitlement.Evaluate(ctx, req.TenantID, req.ActorID, req.RequiredTier)
	if !ent.Allowed {
		return finish(Decision{
			Reason:        ent.Reason,
			Kind:          models.DenialSubscriptionRequired,
			ResolvedLevel: auth.Level,
			Tier:          ent.Tier,
		})
	}

	return finish(Decision{
		Allowed:       true,
		Reason:        auth.Reason,
		ResolvedLevel: auth.Level,
		Tier:          ent.Tier,
		ExpiresAt:     ent.ExpiresAt,
	})
}

func (o *Orchestrator) auditRecord(req Request, d Decision) *models.AuditRecord {
	action, outcome := models.AuditActionExecuted, models.AuditOutcomeAllowed
	if !d.Allowed {
		action, outcome = models.AuditActionFailedPermissionCheck, models.AuditOutcomeDenied
	}

	meta := make(map[string]interface{}, 7)
	if len(req.Metadata) > 0 {
		meta["request"] = req.Metadata
	}
	meta["stage"] = string(d.Stage)
	meta["resolved_level"] = int(d.ResolvedLevel)
	if req.RequiredTier != "" {
		meta["required_tier"] = string(req.RequiredTier)
	}
	if req.RequiredCapability != nil {
		meta["required_capability"] = string(*req.RequiredCapability)
	}
	if d.Kind != "" {
		meta["reason"] = d.Kind
	}
	if d.RetryAfter > 0 {
		meta["retry_after_ms"] = d.RetryAfter.Milliseconds()
	}

	return models.NewAuditRecord(req.TenantID, req.ActorID, action, outcome).
		WithTarget(req.TargetID).
		WithSubject(req.Action).
		WithReason(d.Reason).
		WithMetadata(meta).
		WithRequest(req.RequestID, req.IPAddress, req.UserAgent)
}

func (o *Orchestrator) log(req Request, d Decision) {
	fields := []zap.Field{
		zap.String("request_id", req.RequestID),
		zap.String("actor_id", req.ActorID),
		zap.String("tenant_id", req.TenantID),
		zap.String("action", req.Action),
		zap.Bool("allowed", d.Allowed),
		zap.String("stage", string(d.Stage)),
		zap.String("reason", d.Reason),
	}
	if d.Allowed {
		o.logger.Debug("action allowed", fields...)
		return
	}
	o.logger.Info("action denied", append(fields, zap.String("kind", d.Kind))...)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
