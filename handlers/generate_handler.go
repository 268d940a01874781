package handlers

import (
	"context"
	"net/http"

	"github.com/upb/llm-router/middleware"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// GenerateRequest is the body of POST /api/v1/generate
type GenerateRequest struct {
	Prompt               string         `json:"prompt" validate:"required"`
	Model                string         `json:"model,omitempty"`
	Temperature          *float64       `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens            *int           `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	SystemPrompt         string         `json:"system_prompt,omitempty"`
	Context              map[string]any `json:"context,omitempty"`
	PreferredProvider    string         `json:"preferred_provider,omitempty"`
	RequiredCapabilities []string       `json:"required_capabilities,omitempty" validate:"omitempty,dive,required"`
}

// Generator serves generation requests
type Generator interface {
	Generate(ctx context.Context, req *providers.GenerationRequest) (*providers.NormalizedResponse, error)
}

// GenerateHandler handles generation requests
type GenerateHandler struct {
	router Generator
	logger *zap.Logger
}

// NewGenerateHandler creates a new GenerateHandler
func NewGenerateHandler(router Generator, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		router: router,
		logger: logger,
	}
}

// HandleGenerate handles POST /api/v1/generate
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := middleware.GetRequestIDFromContext(ctx)

	var body GenerateRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("trace_id", traceID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	if err := utils.ValidateStruct(&body); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("trace_id", traceID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	resp, err := h.router.Generate(ctx, &providers.GenerationRequest{
		Prompt:               body.Prompt,
		Model:                body.Model,
		Temperature:          body.Temperature,
		MaxTokens:            body.MaxTokens,
		SystemPrompt:         body.SystemPrompt,
		Context:              body.Context,
		PreferredProvider:    body.PreferredProvider,
		RequiredCapabilities: body.RequiredCapabilities,
	})
	if err != nil {
		h.logger.Warn("generation failed",
			zap.String("trace_id", traceID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write response",
			zap.String("trace_id", traceID),
			zap.Error(err))
	}
}
