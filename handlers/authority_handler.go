package handlers

import (
	"net/http"

	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/services/authority"
	"github.com/upb/enforcement-gate/utils"
	"go.uber.org/zap"
)

// CanActOnRequest compares two authority levels
type CanActOnRequest struct {
	ActorLevel  *int `json:"actor_level" validate:"required,gte=0"`
	TargetLevel *int `json:"target_level" validate:"required,gte=0"`
}

// CanActOnResponse reports whether the actor outranks the target
type CanActOnResponse struct {
	Allowed bool `json:"allowed"`
}

// AuthorityHandler exposes the escalation rule to callers
type AuthorityHandler struct {
	logger *zap.Logger
}

// NewAuthorityHandler creates a new AuthorityHandler
func NewAuthorityHandler(logger *zap.Logger) *AuthorityHandler {
	return &AuthorityHandler{logger: logger}
}

// HandleCanActOn handles POST /api/v1/authority/can-act-on
func (h *AuthorityHandler) HandleCanActOn(w http.ResponseWriter, r *http.Request) {
	var body CanActOnRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	allowed := authority.CanActOn(models.AuthorityLevel(*body.ActorLevel), models.AuthorityLevel(*body.TargetLevel))
	_ = utils.WriteOK(w, CanActOnResponse{Allowed: allowed})
}
