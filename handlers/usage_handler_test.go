package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/services"
	"go.uber.org/zap"
)

// MockUsageReader is a mock implementation of UsageReader
type MockUsageReader struct {
	mock.Mock
}

func (m *MockUsageReader) Lookup(ctx context.Context, requestID string) ([]*models.UsageRecord, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.UsageRecord), args.Error(1)
}

func (m *MockUsageReader) Recent(ctx context.Context, limit int) ([]*models.UsageRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.UsageRecord), args.Error(1)
}

func newUsageRouter(handler *UsageHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/usage", handler.HandleList)
	r.Get("/api/v1/usage/{requestId}", handler.HandleGetByRequestID)
	return r
}

func TestUsageHandler_GetByRequestID(t *testing.T) {
	reader := new(MockUsageReader)
	records := []*models.UsageRecord{
		models.NewUsageRecord("req-1", 1, "anthropic", "claude-3-5-haiku-latest").Failed("transient"),
		models.NewUsageRecord("req-1", 2, "openai", "gpt-4o-mini").WithTokens(4, 6, 0).Succeeded(),
	}
	reader.On("Lookup", mock.Anything, "req-1").Return(records, nil)
	reader.On("Lookup", mock.Anything, "missing").Return(nil,
		services.NewDomainError(services.ErrorTypeNotFound, "usage records not found", nil))

	router := newUsageRouter(NewUsageHandler(reader, zap.NewNop()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/usage/req-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data []models.UsageRecord `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Data, 2)
	assert.Equal(t, "transient", response.Data[0].ErrorKind)
	assert.Equal(t, 10, response.Data[1].TotalTokens)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/usage/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsageHandler_List(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		setup          func(r *MockUsageReader)
		expectedStatus int
	}{
		{
			name:  "default limit",
			query: "",
			setup: func(r *MockUsageReader) {
				r.On("Recent", mock.Anything, defaultUsageLimit).Return([]*models.UsageRecord{}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:  "explicit limit",
			query: "?limit=5",
			setup: func(r *MockUsageReader) {
				r.On("Recent", mock.Anything, 5).Return(nil, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "non-numeric limit",
			query:          "?limit=abc",
			setup:          func(*MockUsageReader) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "negative limit",
			query:          "?limit=-1",
			setup:          func(*MockUsageReader) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:  "store failure",
			query: "",
			setup: func(r *MockUsageReader) {
				r.On("Recent", mock.Anything, defaultUsageLimit).Return(nil, services.WrapInternal("failed to list usage records", errors.New("db down")))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := new(MockUsageReader)
			tt.setup(reader)

			w := httptest.NewRecorder()
			newUsageRouter(NewUsageHandler(reader, zap.NewNop())).
				ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/usage"+tt.query, nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			reader.AssertExpectations(t)
		})
	}
}

func TestUsageHandler_ListEncodesEmptyArray(t *testing.T) {
	reader := new(MockUsageReader)
	reader.On("Recent", mock.Anything, 5).Return(nil, nil)

	w := httptest.NewRecorder()
	newUsageRouter(NewUsageHandler(reader, zap.NewNop())).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/usage?limit=5", nil))

	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}
