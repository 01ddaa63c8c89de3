package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/repositories"
	"github.com/upb/enforcement-gate/services"
	"github.com/upb/enforcement-gate/services/audit"
	"github.com/upb/enforcement-gate/services/authority"
	"go.uber.org/zap"
)

// AuthorityResolver resolves an actor's authority level
type AuthorityResolver interface {
	Resolve(ctx context.Context, req authority.Request) authority.Decision
}

// AuditRecorder appends audit records
type AuditRecorder interface {
	Record(ctx context.Context, rec *models.AuditRecord) audit.WriteResult
}

// ChangeRequest asks to grant or revoke one tenant role
type ChangeRequest struct {
	GranterID  string
	TenantID   string
	TargetID   string
	RoleID     uuid.UUID
	Membership *models.MembershipContext // granter's permission snapshot
	RequestID  string
	IPAddress  string
	UserAgent  string
}

// RoleService manages tenant role assignments. A granter needs ASSIGN_ROLES,
// must outrank the target, and must outrank the role being handed out.
type RoleService struct {
	roles     repositories.RoleAssignmentRepository
	txManager repositories.TransactionManager
	resolver  AuthorityResolver
	recorder  AuditRecorder
	logger    *zap.Logger
}

// NewRoleService creates a new RoleService instance
func NewRoleService(
	roles repositories.RoleAssignmentRepository,
	txManager repositories.TransactionManager,
	resolver AuthorityResolver,
	recorder AuditRecorder,
	logger *zap.Logger,
) *RoleService {
	return &RoleService{
		roles:     roles,
		txManager: txManager,
		resolver:  resolver,
		recorder:  recorder,
		logger:    logger,
	}
}

// Grant assigns the role to the target
func (s *RoleService) Grant(ctx context.Context, req ChangeRequest) (*models.RoleAssignment, error) {
	role, err := s.authorize(ctx, req)
	if err != nil {
		s.audit(ctx, req, models.AuditActionFailedPermissionCheck, models.AuditOutcomeDenied, reasonOf(err), nil)
		return nil, err
	}

	assignment := models.NewRoleAssignment(req.TenantID, req.TargetID, *role, req.GranterID)
	err = s.txManager.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
		return s.roles.WithTx(tx).Create(txCtx, assignment)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			err = services.NewDomainError(services.ErrorTypeConflict, "role already assigned", err).
				WithDetail("role_id", req.RoleID.String())
		} else {
			err = services.WrapInternal("failed to grant role", err)
		}
		s.audit(ctx, req, models.AuditActionFailedPermissionCheck, models.AuditOutcomeDenied, reasonOf(err), role)
		return nil, err
	}

	s.logger.Info("role granted",
		zap.String("tenant_id", req.TenantID),
		zap.String("granter_id", req.GranterID),
		zap.String("target_id", req.TargetID),
		zap.String("role", role.Name))
	s.audit(ctx, req, models.AuditActionRoleGranted, models.AuditOutcomeAllowed, fmt.Sprintf("granted role %s", role.Name), role)
	return assignment, nil
}

// Revoke removes the role from the target
func (s *RoleService) Revoke(ctx context.Context, req ChangeRequest) error {
	role, err := s.authorize(ctx, req)
	if err != nil {
		s.audit(ctx, req, models.AuditActionFailedPermissionCheck, models.AuditOutcomeDenied, reasonOf(err), nil)
		return err
	}

	err = s.txManager.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
		return s.roles.WithTx(tx).Delete(txCtx, req.TenantID, req.TargetID, req.RoleID)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			err = services.NewDomainError(services.ErrorTypeNotFound, "role assignment not found", err)
		} else {
			err = services.WrapInternal("failed to revoke role", err)
		}
		s.audit(ctx, req, models.AuditActionFailedPermissionCheck, models.AuditOutcomeDenied, reasonOf(err), role)
		return err
	}

	s.logger.Info("role revoked",
		zap.String("tenant_id", req.TenantID),
		zap.String("granter_id", req.GranterID),
		zap.String("target_id", req.TargetID),
		zap.String("role", role.Name))
	s.audit(ctx, req, models.AuditActionRoleRevoked, models.AuditOutcomeAllowed, fmt.Sprintf("revoked role %s", role.Name), role)
	return nil
}

// authorize runs the escalation checks and returns the role being changed
func (s *RoleService) authorize(ctx context.Context, req ChangeRequest) (*models.RoleDefinition, error) {
	if req.GranterID == "" || req.TenantID == "" || req.TargetID == "" {
		return nil, services.NewDomainError(services.ErrorTypeInvalidContext, "granter, target and tenant are required", nil)
	}
	if req.RoleID == uuid.Nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "role id is required", nil)
	}

	required := models.CapabilityAssignRoles
	granter := s.resolver.Resolve(ctx, authority.Request{
		ActorID:            req.GranterID,
		TenantID:           req.TenantID,
		Membership:         req.Membership,
		RequiredCapability: &required,
	})
	if !granter.Allowed {
		return nil, services.NewDomainError(services.ErrorTypeInsufficientAuthority, granter.Reason, nil)
	}

	// A failed lookup can only understate the target, so it blocks the change
	target := s.resolver.Resolve(ctx, authority.Request{ActorID: req.TargetID, TenantID: req.TenantID})
	if target.Degraded() {
		return nil, services.NewDomainError(services.ErrorTypeLookupFailure,
			"target authority could not be fully resolved", nil).
			WithDetail("lookup_failures", target.LookupFailures)
	}
	if !authority.CanActOn(granter.Level, target.Level) {
		return nil, services.NewDomainError(services.ErrorTypeInsufficientAuthority,
			fmt.Sprintf("cannot modify a member with equal or higher authority (%s vs %s)", granter.Level, target.Level), nil)
	}

	role, err := s.roles.GetRole(ctx, req.TenantID, req.RoleID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewDomainError(services.ErrorTypeNotFound, "role not found", err).
				WithDetail("role_id", req.RoleID.String())
		}
		return nil, services.WrapLookup("tenant_roles", err)
	}

	if !authority.CanActOn(granter.Level, role.Class.Level()) {
		return nil, services.NewDomainError(services.ErrorTypeInsufficientAuthority,
			fmt.Sprintf("role %s carries authority %s which is not below %s", role.Name, role.Class.Level(), granter.Level), nil)
	}

	return role, nil
}

func (s *RoleService) audit(ctx context.Context, req ChangeRequest, action models.AuditAction, outcome models.AuditOutcome, reason string, role *models.RoleDefinition) {
	meta := map[string]interface{}{"role_id": req.RoleID.String()}
	if role != nil {
		meta["role"] = role.Name
		meta["role_class"] = string(role.Class)
	}

	rec := models.NewAuditRecord(req.TenantID, req.GranterID, action, outcome).
		WithTarget(req.TargetID).
		WithReason(reason).
		WithMetadata(meta).
		WithRequest(req.RequestID, req.IPAddress, req.UserAgent)
	_ = s.recorder.Record(ctx, rec)
}

func reasonOf(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}
