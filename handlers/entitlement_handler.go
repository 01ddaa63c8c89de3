package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/services/entitlement"
	"github.com/upb/enforcement-gate/utils"
	"go.uber.org/zap"
)

// EntitlementResponse is a speculative entitlement verdict
type EntitlementResponse struct {
	Allowed   bool       `json:"allowed"`
	Tier      string     `json:"tier"`
	Reason    string     `json:"reason"`
	Source    string     `json:"source,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// EntitlementEvaluator checks subscription coverage without side effects
type EntitlementEvaluator interface {
	Evaluate(ctx context.Context, tenantID, actorID string, required models.Tier) entitlement.Decision
	Ladder() models.TierLadder
}

// EntitlementHandler answers "would this feature be allowed" queries
type EntitlementHandler struct {
	evaluator EntitlementEvaluator
	logger    *zap.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler
func NewEntitlementHandler(evaluator EntitlementEvaluator, logger *zap.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		evaluator: evaluator,
		logger:    logger,
	}
}

// HandleEvaluate handles GET /api/v1/entitlements?tenant_id&actor_id&tier
func (h *EntitlementHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenantID := q.Get("tenant_id")
	actorID := q.Get("actor_id")
	tier := models.Tier(strings.ToUpper(q.Get("tier")))

	if tenantID == "" && actorID == "" {
		_ = utils.WriteBadRequest(w, "tenant_id or actor_id is required", nil)
		return
	}
	if err := utils.ValidateTier(h.evaluator.Ladder(), tier, "tier"); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	d := h.evaluator.Evaluate(r.Context(), tenantID, actorID, tier)
	_ = utils.WriteOK(w, EntitlementResponse{
		Allowed:   d.Allowed,
		Tier:      string(d.Tier),
		Reason:    d.Reason,
		Source:    string(d.Source),
		ExpiresAt: d.ExpiresAt,
	})
}
