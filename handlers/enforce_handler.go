package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/enforcement-gate/middleware"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/services/enforcement"
	"github.com/upb/enforcement-gate/utils"
	"go.uber.org/zap"
)

// EnforceRequest is one gated action submitted by a calling service
type EnforceRequest struct {
	ActorID            string                 `json:"actor_id" validate:"required,max=128"`
	TenantID           string                 `json:"tenant_id" validate:"required,max=128"`
	TargetID           string                 `json:"target_id,omitempty" validate:"max=128"`
	Action             string                 `json:"action" validate:"required,max=128"`
	RequiredCapability string                 `json:"required_capability,omitempty" validate:"omitempty,capability"`
	RequiredTier       models.Tier            `json:"required_tier,omitempty"`
	RequiredLevel      int                    `json:"required_level,omitempty" validate:"gte=0"`
	RateTier           models.Tier            `json:"rate_tier,omitempty"`
	NativePermissions  []string               `json:"native_permissions,omitempty" validate:"omitempty,dive,native_permission"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// EnforceResponse is the gate's verdict. Denials are responses, not errors.
type EnforceResponse struct {
	Allowed       bool       `json:"allowed"`
	Reason        string     `json:"reason"`
	ResolvedLevel int        `json:"resolved_level"`
	LevelName     string     `json:"level_name"`
	Stage         string     `json:"stage"`
	Denial        string     `json:"denial,omitempty"`
	RetryAfterMs  int64      `json:"retry_after_ms,omitempty"`
	Tier          string     `json:"tier,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Enforcer runs the decision chain
type Enforcer interface {
	Enforce(ctx context.Context, req enforcement.Request) enforcement.Decision
}

// EnforceHandler handles decision requests
type EnforceHandler struct {
	enforcer Enforcer
	ladder   models.TierLadder
	logger   *zap.Logger
}

// NewEnforceHandler creates a new EnforceHandler
func NewEnforceHandler(enforcer Enforcer, ladder models.TierLadder, logger *zap.Logger) *EnforceHandler {
	return &EnforceHandler{
		enforcer: enforcer,
		ladder:   ladder,
		logger:   logger,
	}
}

// HandleEnforce handles POST /api/v1/enforce
func (h *EnforceHandler) HandleEnforce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var body EnforceRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateTier(h.ladder, body.RequiredTier, "required_tier"); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateTier(h.ladder, body.RateTier, "rate_tier"); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	req := enforcement.Request{
		ActorID:       body.ActorID,
		TenantID:      body.TenantID,
		TargetID:      body.TargetID,
		Action:        body.Action,
		RequiredTier:  body.RequiredTier,
		RequiredLevel: models.AuthorityLevel(body.RequiredLevel),
		RateTier:      body.RateTier,
		RequestID:     requestID,
		IPAddress:     r.RemoteAddr,
		UserAgent:     r.UserAgent(),
		Metadata:      body.Metadata,
		Membership:    toMembership(body.NativePermissions),
	}
	if body.RequiredCapability != "" {
		capability := models.Capability(body.RequiredCapability)
		req.RequiredCapability = &capability
	}
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		if req.Metadata == nil {
			req.Metadata = make(map[string]interface{}, 1)
		}
		req.Metadata["caller"] = claims.Sub
	}

	decision := h.enforcer.Enforce(ctx, req)

	resp := EnforceResponse{
		Allowed:       decision.Allowed,
		Reason:        decision.Reason,
		ResolvedLevel: int(decision.ResolvedLevel),
		LevelName:     decision.ResolvedLevel.String(),
		Stage:         string(decision.Stage),
		Denial:        decision.Kind,
		RetryAfterMs:  decision.RetryAfter.Milliseconds(),
		Tier:          string(decision.Tier),
		ExpiresAt:     decision.ExpiresAt,
	}
	utils.SetRetryAfter(w, decision.RetryAfter)

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write enforce response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// toMembership converts a supplied permission snapshot. A nil slice means the
// caller sent none and the resolver falls back to lookups.
func toMembership(perms []string) *models.MembershipContext {
	if perms == nil {
		return nil
	}
	held := make([]models.NativePermission, len(perms))
	for i, p := range perms {
		held[i] = models.NativePermission(p)
	}
	return &models.MembershipContext{NativePermissions: held}
}
