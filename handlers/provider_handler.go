package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/llm-router/services/routing"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// ProviderLister exposes the registered providers and their windows
type ProviderLister interface {
	Providers(ctx context.Context) []routing.ProviderStatus
	Provider(ctx context.Context, name string) (routing.ProviderStatus, error)
}

// ProviderHandler handles provider listing requests
type ProviderHandler struct {
	providers ProviderLister
	logger    *zap.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(providers ProviderLister, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{
		providers: providers,
		logger:    logger,
	}
}

// HandleList handles GET /api/v1/providers
func (h *ProviderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.providers.Providers(r.Context())); err != nil {
		h.logger.Error("failed to write providers response", zap.Error(err))
	}
}

// HandleGet handles GET /api/v1/providers/{name}
func (h *ProviderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	status, err := h.providers.Provider(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := utils.WriteOK(w, status); err != nil {
		h.logger.Error("failed to write provider response", zap.Error(err))
	}
}
