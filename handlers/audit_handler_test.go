package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/services"
	"go.uber.org/zap"
)

type MockAuditReader struct{ mock.Mock }

func (m *MockAuditReader) List(ctx context.Context, q models.AuditQuery) ([]*models.AuditRecord, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditRecord), args.Error(1)
}

func (m *MockAuditReader) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.AuditRecord, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditRecord), args.Error(1)
}

func (m *MockAuditReader) ByRequest(ctx context.Context, tenantID, requestID string) ([]*models.AuditRecord, error) {
	args := m.Called(ctx, tenantID, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditRecord), args.Error(1)
}

func auditRouter(reader AuditReader) http.Handler {
	h := NewAuditHandler(reader, zap.NewNop())
	r := chi.NewRouter()
	r.Get("/api/v1/audit/logs", h.HandleListLogs)
	r.Get("/api/v1/audit/logs/{id}", h.HandleGetLog)
	return r
}

func TestHandleListLogs(t *testing.T) {
	t.Run("passes filters and paging", func(t *testing.T) {
		reader := new(MockAuditReader)
		rec := models.NewAuditRecord("g1", "u1", models.AuditActionExecuted, models.AuditOutcomeAllowed)
		reader.On("List", mock.Anything, models.AuditQuery{
			TenantID: "g1",
			ActorID:  "u1",
			Limit:    20,
			Offset:   40,
		}).Return([]*models.AuditRecord{rec}, nil)

		w := httptest.NewRecorder()
		auditRouter(reader).ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"/api/v1/audit/logs?tenant_id=g1&actor_id=u1&limit=20&offset=40", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Data AuditListResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		require.Len(t, response.Data.Records, 1)
		assert.Equal(t, rec.ID, response.Data.Records[0].ID)
		assert.Equal(t, 20, response.Data.Limit)
		assert.Equal(t, 40, response.Data.Offset)
	})

	t.Run("missing tenant is a bad request", func(t *testing.T) {
		reader := new(MockAuditReader)
		reader.On("List", mock.Anything, mock.Anything).
			Return(nil, services.NewDomainError(services.ErrorTypeValidation, "tenant_id is required", nil))

		w := httptest.NewRecorder()
		auditRouter(reader).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non numeric limit", func(t *testing.T) {
		reader := new(MockAuditReader)
		w := httptest.NewRecorder()
		auditRouter(reader).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs?tenant_id=g1&limit=ten", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		reader.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
	})

	t.Run("by request id", func(t *testing.T) {
		reader := new(MockAuditReader)
		reader.On("ByRequest", mock.Anything, "g1", "req-1").Return([]*models.AuditRecord{
			models.NewAuditRecord("g1", "u1", models.AuditActionFailedPermissionCheck, models.AuditOutcomeDenied),
		}, nil)

		w := httptest.NewRecorder()
		auditRouter(reader).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs?tenant_id=g1&request_id=req-1", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		reader.AssertExpectations(t)
	})

	t.Run("by request id of another tenant", func(t *testing.T) {
		reader := new(MockAuditReader)
		reader.On("ByRequest", mock.Anything, "g2", "req-1").Return([]*models.AuditRecord{}, nil)

		w := httptest.NewRecorder()
		auditRouter(reader).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs?tenant_id=g2&request_id=req-1", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Data AuditListResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Empty(t, response.Data.Records)
		reader.AssertExpectations(t)
	})

	t.Run("by request id without tenant", func(t *testing.T) {
		reader := new(MockAuditReader)
		reader.On("ByRequest", mock.Anything, "", "req-1").
			Return(nil, services.NewDomainError(services.ErrorTypeValidation, "tenant_id is required", nil))

		w := httptest.NewRecorder()
		auditRouter(reader).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs?request_id=req-1", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleGetLog(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		reader := new(MockAuditReader)
		rec := models.NewAuditRecord("g1", "u1", models.AuditActionExecuted, models.AuditOutcomeAllowed)
		reader.On("Get", mock.Anything, "g1", rec.ID).Return(rec, nil)

		w := httptest.NewRecorder()
		auditRouter(reader).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs/"+rec.ID.String()+"?tenant_id=g1", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Data models.AuditRecord `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, rec.ID, response.Data.ID)
	})

	t.Run("not found", func(t *testing.T) {
		reader := new(MockAuditReader)
		id := uuid.New()
		reader.On("Get", mock.Anything, "g1", id).Return(nil, services.NewDomainError(services.ErrorTypeNotFound, "audit record not found", nil))

		w := httptest.NewRecorder()
		auditRouter(reader).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs/"+id.String()+"?tenant_id=g1", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("record of another tenant is not found", func(t *testing.T) {
		reader := new(MockAuditReader)
		rec := models.NewAuditRecord("g1", "u1", models.AuditActionExecuted, models.AuditOutcomeAllowed)
		reader.On("Get", mock.Anything, "g2", rec.ID).Return(nil, services.NewDomainError(services.ErrorTypeNotFound, "audit record not found", nil))

		w := httptest.NewRecorder()
		auditRouter(reader).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs/"+rec.ID.String()+"?tenant_id=g2", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		reader.AssertExpectations(t)
	})

	t.Run("invalid id", func(t *testing.T) {
		w := httptest.NewRecorder()
		auditRouter(new(MockAuditReader)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs/nope", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
