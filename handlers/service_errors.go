package handlers

import (
	"net/http"

	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// StatusForError maps a domain error type to its HTTP status
func StatusForError(err error) int {
	switch services.GetErrorType(err) {
	case services.ErrorTypeValidation:
		return http.StatusBadRequest
	case services.ErrorTypeNotFound:
		return http.StatusNotFound
	case services.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case services.ErrorTypeNoProviders:
		return http.StatusServiceUnavailable
	case services.ErrorTypeUnauthorized, services.ErrorTypeExhausted:
		// the upstream credential or provider failed, not the caller
		return http.StatusBadGateway
	case services.ErrorTypeCanceled:
		return utils.StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := StatusForError(err)
	details := services.GetErrorDetails(err)
	provider := services.GetErrorProvider(err)

	var response utils.ErrorResponse
	switch {
	case status == http.StatusInternalServerError:
		// Log internal errors but return generic message
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		response = utils.ErrorResponse{
			Error:   utils.ErrorCode(status),
			Message: "An internal error occurred",
		}
	default:
		response = utils.ErrorResponse{
			Error:    utils.ErrorCode(status),
			Message:  err.Error(),
			Provider: provider,
			Details:  details,
		}
	}

	if services.IsRateLimitError(err) {
		w.Header().Set("Retry-After", "60")
	}

	if writeErr := utils.WriteJSON(w, status, response); writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}

	logger.Debug("handled service error",
		zap.String("type", string(services.GetErrorType(err))),
		zap.Int("status", status),
		zap.String("provider", provider),
		zap.Any("details", details))
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	// Generic validation error
	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
