package authority

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/enforcement-gate/models"
)

// Step names, also used as lookup failure sources in logs and metrics
const (
	StepGlobalRole         = "global_role"
	StepTenantOwner        = "tenant_owner"
	StepNativeAdmin        = "native_admin"
	StepTenantRoles        = "tenant_roles"
	StepModerationFallback = "moderation_fallback"
)

// Outcome is the tri-state result of a step
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeAllow
	OutcomeDeny
)

// StepResult is what a single step concluded
type StepResult struct {
	Outcome Outcome
	Level   models.AuthorityLevel
	Reason  string
}

// Step is one source in the resolution chain. Run returns an error only when
// its lookup failed; "no match" is OutcomeContinue.
type Step struct {
	Name string
	Run  func(ctx context.Context, req Request) (StepResult, error)
}

// GlobalRoleSource looks up platform roles
type GlobalRoleSource interface {
	GetGlobalRole(ctx context.Context, actorID string) (*models.GlobalRole, error)
}

// TenantSource looks up tenant ownership
type TenantSource interface {
	GetTenantOwner(ctx context.Context, tenantID string) (string, error)
}

// MemberSource checks native permissions
type MemberSource interface {
	HasNativePermission(ctx context.Context, actorID, tenantID string, permission models.NativePermission) (bool, error)
}

// RoleAssignmentSource lists tenant role assignments
type RoleAssignmentSource interface {
	GetRoleAssignments(ctx context.Context, actorID, tenantID string) ([]*models.RoleAssignment, error)
}

// DefaultSteps builds the standard precedence order
func DefaultSteps(src Sources) []Step {
	return []Step{
		GlobalRoleStep(src.GlobalRoles, src.PlatformOwnerIDs),
		TenantOwnerStep(src.Tenants),
		NativeAdminStep(src.Members),
		TenantRolesStep(src.RoleAssignments),
		ModerationFallbackStep(src.Members),
	}
}

func cont() (StepResult, error) {
	return StepResult{Outcome: OutcomeContinue}, nil
}

func allow(level models.AuthorityLevel, reason string) (StepResult, error) {
	return StepResult{Outcome: OutcomeAllow, Level: level, Reason: reason}, nil
}

// GlobalRoleStep matches platform-wide roles. Static owner ids are checked
// first so incident response works while the role store is down.
func GlobalRoleStep(roles GlobalRoleSource, staticOwners []string) Step {
	owners := make(map[string]struct{}, len(staticOwners))
	for _, id := range staticOwners {
		owners[id] = struct{}{}
	}

	return Step{
		Name: StepGlobalRole,
		Run: func(ctx context.Context, req Request) (StepResult, error) {
			if _, ok := owners[req.ActorID]; ok {
				return allow(models.AuthorityPlatformOwner, fmt.Sprintf("global platform role: %s", models.GlobalRoleOwner))
			}
			if roles == nil {
				return cont()
			}

			role, err := roles.GetGlobalRole(ctx, req.ActorID)
			if err != nil {
				return StepResult{}, err
			}
			if role == nil || role.Level() == models.AuthorityNone {
				return cont()
			}
			return allow(role.Level(), fmt.Sprintf("global platform role: %s", *role))
		},
	}
}

// TenantOwnerStep matches the tenant's immutable owner
func TenantOwnerStep(tenants TenantSource) Step {
	return Step{
		Name: StepTenantOwner,
		Run: func(ctx context.Context, req Request) (StepResult, error) {
			if tenants == nil {
				return cont()
			}
			owner, err := tenants.GetTenantOwner(ctx, req.TenantID)
			if err != nil {
				return StepResult{}, err
			}
			if owner == "" || owner != req.ActorID {
				return cont()
			}
			return allow(models.AuthorityServerOwner, "tenant owner (immutable authority)")
		},
	}
}

// NativeAdminStep matches the native ADMINISTRATOR permission
func NativeAdminStep(members MemberSource) Step {
	return Step{
		Name: StepNativeAdmin,
		Run: func(ctx context.Context, req Request) (StepResult, error) {
			held, err := hasAny(ctx, members, req, models.NativeAdministrator)
			if err != nil {
				return StepResult{}, err
			}
			if !held {
				return cont()
			}
			return allow(models.AuthorityServerAdmin, "native administrator permission")
		},
	}
}

// TenantRolesStep resolves tenant role assignments. The effective level is the
// highest assignment; a required capability must be granted by every assignment.
func TenantRolesStep(assignments RoleAssignmentSource) Step {
	return Step{
		Name: StepTenantRoles,
		Run: func(ctx context.Context, req Request) (StepResult, error) {
			if assignments == nil {
				return cont()
			}
			held, err := assignments.GetRoleAssignments(ctx, req.ActorID, req.TenantID)
			if err != nil {
				return StepResult{}, err
			}
			if len(held) == 0 {
				return cont()
			}

			highest := models.AuthorityNone
			highestName := ""
			for _, a := range held {
				if a == nil {
					continue
				}
				if req.RequiredCapability != nil && !a.Role.Grants(*req.RequiredCapability) {
					return StepResult{
						Outcome: OutcomeDeny,
						Level:   models.AuthorityNone,
						Reason:  fmt.Sprintf("missing capability %s (role: %s)", *req.RequiredCapability, a.Role.Name),
					}, nil
				}
				if level := a.Role.Class.Level(); level > highest {
					highest = level
					highestName = a.Role.Name
				}
			}
			if highest == models.AuthorityNone {
				return cont()
			}
			return allow(highest, fmt.Sprintf("tenant role resolved: %s", highestName))
		},
	}
}

// ModerationFallbackStep matches broad native moderation permissions
func ModerationFallbackStep(members MemberSource) Step {
	return Step{
		Name: StepModerationFallback,
		Run: func(ctx context.Context, req Request) (StepResult, error) {
			held, err := hasAny(ctx, members, req, models.ModerationPermissions...)
			if err != nil {
				return StepResult{}, err
			}
			if !held {
				return cont()
			}
			return allow(models.AuthorityServerModerator, "native moderation permissions")
		},
	}
}

// hasAny consults the caller's snapshot when supplied and the member source
// otherwise. A positive answer wins over failed lookups of other permissions.
func hasAny(ctx context.Context, members MemberSource, req Request, perms ...models.NativePermission) (bool, error) {
	if req.Membership.HasSnapshot() {
		for _, p := range perms {
			if req.Membership.Has(p) {
				return true, nil
			}
		}
		return false, nil
	}
	if members == nil {
		return false, nil
	}

	var errs []error
	for _, p := range perms {
		ok, err := members.HasNativePermission(ctx, req.ActorID, req.TenantID, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
