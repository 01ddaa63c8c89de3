package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/services"
	"go.uber.org/zap"
)

const (
	reasonNoAuthority        = "no sufficient authority"
	reasonLookupsUnavailable = reasonNoAuthority + " (authority lookups unavailable)"
)

// Request is the input of a resolution
type Request struct {
	ActorID            string
	TenantID           string
	Membership         *models.MembershipContext
	RequiredCapability *models.Capability
}

// Decision is an explainable resolution result. Denials always carry level NONE.
type Decision struct {
	Allowed bool
	Level   models.AuthorityLevel
	Reason  string
	Source  string // name of the step that decided, empty when nothing matched

	// LookupFailures counts steps skipped because their source failed before
	// the decision was reached. A non-zero count means Level may be understated.
	LookupFailures int
}

// Degraded reports whether any lookup failed during the resolution
func (d Decision) Degraded() bool {
	return d.LookupFailures > 0
}

// Resolver walks an ordered list of steps; the first step that matches decides.
// Authority data is read fresh on every call so revocations apply immediately.
type Resolver struct {
	steps         []Step
	lookupTimeout time.Duration
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// Sources are the collaborators the default step list reads from
type Sources struct {
	GlobalRoles      GlobalRoleSource
	Tenants          TenantSource
	Members          MemberSource
	RoleAssignments  RoleAssignmentSource
	PlatformOwnerIDs []string
}

// NewResolver creates a Resolver with the default precedence:
// global role, tenant owner, native administrator, tenant roles, moderation fallback.
func NewResolver(src Sources, lookupTimeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Resolver {
	return NewResolverWithSteps(DefaultSteps(src), lookupTimeout, logger, metrics)
}

// NewResolverWithSteps creates a Resolver over an explicit step list
func NewResolverWithSteps(steps []Step, lookupTimeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		steps:         steps,
		lookupTimeout: lookupTimeout,
		metrics:       metrics,
		logger:        logger,
	}
}

// Steps returns the step names in evaluation order
func (r *Resolver) Steps() []string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.Name
	}
	return names
}

// Resolve determines the actor's authority inside the tenant. It never returns
// an error: a failing source is treated as absent and the next step runs.
func (r *Resolver) Resolve(ctx context.Context, req Request) Decision {
	if req.ActorID == "" || req.TenantID == "" {
		return deny(reasonNoAuthority, "")
	}

	failures := 0
	for _, step := range r.steps {
		result, err := r.runStep(ctx, step, req)
		if err != nil {
			failures++
			lookupErr := services.WrapLookup(step.Name, err)
			r.metrics.LookupFailed(step.Name)
			r.logger.Warn("LookupFailure",
				zap.String("step", step.Name),
				zap.String("actor_id", req.ActorID),
				zap.String("tenant_id", req.TenantID),
				zap.Error(lookupErr))
			continue
		}

		switch result.Outcome {
		case OutcomeAllow:
			return Decision{Allowed: true, Level: result.Level, Reason: result.Reason, Source: step.Name, LookupFailures: failures}
		case OutcomeDeny:
			return deny(result.Reason, step.Name).withFailures(failures)
		}
	}

	if failures > 0 && failures == len(r.steps) {
		return deny(reasonLookupsUnavailable, "").withFailures(failures)
	}
	return deny(reasonNoAuthority, "").withFailures(failures)
}

// runStep bounds a step by the lookup timeout and converts a panic into a lookup error
func (r *Resolver) runStep(ctx context.Context, step Step, req Request) (result StepResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = StepResult{}
			err = fmt.Errorf("step panicked: %v", rec)
		}
	}()

	if r.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()
	}

	result, err = step.Run(ctx, req)
	if err == nil && ctx.Err() != nil {
		// A source that ignored the deadline still counts as timed out
		return StepResult{}, ctx.Err()
	}
	return result, err
}

// CanActOn reports whether an actor at actorLevel may act on a target at
// targetLevel. Equal levels never act on each other.
func CanActOn(actorLevel, targetLevel models.AuthorityLevel) bool {
	return actorLevel > targetLevel
}

func deny(reason, source string) Decision {
	return Decision{Allowed: false, Level: models.AuthorityNone, Reason: reason, Source: source}
}

func (d Decision) withFailures(n int) Decision {
	d.LookupFailures = n
	return d
}
