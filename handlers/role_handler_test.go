package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/services"
	"github.com/upb/enforcement-gate/services/roles"
	"go.uber.org/zap"
)

type MockRoleManager struct{ mock.Mock }

func (m *MockRoleManager) Grant(ctx context.Context, req roles.ChangeRequest) (*models.RoleAssignment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RoleAssignment), args.Error(1)
}

func (m *MockRoleManager) Revoke(ctx context.Context, req roles.ChangeRequest) error {
	return m.Called(ctx, req).Error(0)
}

func TestHandleGrant(t *testing.T) {
	roleID := uuid.New()
	body := map[string]interface{}{
		"granter_id":         "admin",
		"tenant_id":          "g1",
		"target_id":          "member",
		"role_id":            roleID.String(),
		"native_permissions": []string{"MANAGE_TENANT"},
	}

	t.Run("created", func(t *testing.T) {
		mgr := new(MockRoleManager)
		mgr.On("Grant", mock.Anything, mock.MatchedBy(func(r roles.ChangeRequest) bool {
			return r.GranterID == "admin" && r.RoleID == roleID && r.Membership.Has(models.NativeManageTenant)
		})).Return(models.NewRoleAssignment("g1", "member", models.RoleDefinition{ID: roleID, Name: "Mods"}, "admin"), nil)

		w := httptest.NewRecorder()
		NewRoleHandler(mgr, zap.NewNop()).HandleGrant(w, postJSON(t, "/api/v1/roles/grant", body))

		assert.Equal(t, http.StatusCreated, w.Code)
		mgr.AssertExpectations(t)
	})

	t.Run("escalation is forbidden", func(t *testing.T) {
		mgr := new(MockRoleManager)
		mgr.On("Grant", mock.Anything, mock.Anything).
			Return(nil, services.NewDomainError(services.ErrorTypeInsufficientAuthority, "cannot modify a member with equal or higher authority", nil))

		w := httptest.NewRecorder()
		NewRoleHandler(mgr, zap.NewNop()).HandleGrant(w, postJSON(t, "/api/v1/roles/grant", body))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("duplicate is a conflict", func(t *testing.T) {
		mgr := new(MockRoleManager)
		mgr.On("Grant", mock.Anything, mock.Anything).Return(nil, services.ErrDuplicateAssignment)

		w := httptest.NewRecorder()
		NewRoleHandler(mgr, zap.NewNop()).HandleGrant(w, postJSON(t, "/api/v1/roles/grant", body))

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid role id", func(t *testing.T) {
		mgr := new(MockRoleManager)
		w := httptest.NewRecorder()
		NewRoleHandler(mgr, zap.NewNop()).HandleGrant(w, postJSON(t, "/api/v1/roles/grant", map[string]interface{}{
			"granter_id": "admin", "tenant_id": "g1", "target_id": "member", "role_id": "mods",
		}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mgr.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything)
	})
}

func TestHandleRevoke(t *testing.T) {
	body := map[string]interface{}{
		"granter_id": "admin",
		"tenant_id":  "g1",
		"target_id":  "member",
		"role_id":    uuid.NewString(),
	}

	t.Run("no content", func(t *testing.T) {
		mgr := new(MockRoleManager)
		mgr.On("Revoke", mock.Anything, mock.MatchedBy(func(r roles.ChangeRequest) bool {
			return r.Membership == nil
		})).Return(nil)

		w := httptest.NewRecorder()
		NewRoleHandler(mgr, zap.NewNop()).HandleRevoke(w, postJSON(t, "/api/v1/roles/revoke", body))

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("not assigned", func(t *testing.T) {
		mgr := new(MockRoleManager)
		mgr.On("Revoke", mock.Anything, mock.Anything).Return(services.ErrAssignmentNotFound)

		w := httptest.NewRecorder()
		NewRoleHandler(mgr, zap.NewNop()).HandleRevoke(w, postJSON(t, "/api/v1/roles/revoke", body))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
