package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/middleware"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/services/roles"
	"github.com/upb/enforcement-gate/utils"
	"go.uber.org/zap"
)

// RoleChangeRequest grants or revokes one tenant role
type RoleChangeRequest struct {
	GranterID         string   `json:"granter_id" validate:"required,max=128"`
	TenantID          string   `json:"tenant_id" validate:"required,max=128"`
	TargetID          string   `json:"target_id" validate:"required,max=128"`
	RoleID            string   `json:"role_id" validate:"required,uuid"`
	NativePermissions []string `json:"native_permissions,omitempty" validate:"omitempty,dive,native_permission"`
}

// RoleManager changes tenant role assignments
type RoleManager interface {
	Grant(ctx context.Context, req roles.ChangeRequest) (*models.RoleAssignment, error)
	Revoke(ctx context.Context, req roles.ChangeRequest) error
}

// RoleHandler handles role administration requests
type RoleHandler struct {
	roles  RoleManager
	logger *zap.Logger
}

// NewRoleHandler creates a new RoleHandler
func NewRoleHandler(roles RoleManager, logger *zap.Logger) *RoleHandler {
	return &RoleHandler{
		roles:  roles,
		logger: logger,
	}
}

// HandleGrant handles POST /api/v1/roles/grant
func (h *RoleHandler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	assignment, err := h.roles.Grant(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, observability.ForRequest(r.Context(), h.logger))
		return
	}

	_ = utils.WriteCreated(w, assignment)
}

// HandleRevoke handles POST /api/v1/roles/revoke
func (h *RoleHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	if err := h.roles.Revoke(r.Context(), req); err != nil {
		HandleServiceError(w, err, observability.ForRequest(r.Context(), h.logger))
		return
	}

	utils.WriteNoContent(w)
}

func (h *RoleHandler) decode(w http.ResponseWriter, r *http.Request) (roles.ChangeRequest, bool) {
	var body RoleChangeRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		HandleValidationError(w, err, h.logger)
		return roles.ChangeRequest{}, false
	}
	if err := utils.ValidateStruct(body); err != nil {
		HandleValidationError(w, err, h.logger)
		return roles.ChangeRequest{}, false
	}

	req := roles.ChangeRequest{
		GranterID:  body.GranterID,
		TenantID:   body.TenantID,
		TargetID:   body.TargetID,
		RoleID:     uuid.MustParse(body.RoleID),
		RequestID:  middleware.GetRequestIDFromContext(r.Context()),
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		Membership: toMembership(body.NativePermissions),
	}
	return req, true
}
