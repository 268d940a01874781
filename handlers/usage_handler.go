package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

const defaultUsageLimit = 100

// UsageReader reads the usage log
type UsageReader interface {
	Lookup(ctx context.Context, requestID string) ([]*models.UsageRecord, error)
	Recent(ctx context.Context, limit int) ([]*models.UsageRecord, error)
}

// UsageHandler serves the operator read path of the usage log
type UsageHandler struct {
	usage  UsageReader
	logger *zap.Logger
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(usage UsageReader, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		usage:  usage,
		logger: logger,
	}
}

// HandleGetByRequestID handles GET /api/v1/usage/{requestId}
func (h *UsageHandler) HandleGetByRequestID(w http.ResponseWriter, r *http.Request) {
	records, err := h.usage.Lookup(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := utils.WriteOK(w, records); err != nil {
		h.logger.Error("failed to write usage response", zap.Error(err))
	}
}

// HandleList handles GET /api/v1/usage?limit=N
func (h *UsageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultUsageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = utils.WriteBadRequest(w, "limit must be a positive integer", map[string]interface{}{"limit": raw})
			return
		}
		limit = n
	}

	records, err := h.usage.Recent(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if records == nil {
		records = []*models.UsageRecord{}
	}
	if err := utils.WriteOK(w, records); err != nil {
		h.logger.Error("failed to write usage response", zap.Error(err))
	}
}
