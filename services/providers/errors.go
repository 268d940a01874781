package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a provider failure for retry decisions
type ErrorKind string

const (
	// KindAuthentication means the provider rejected our credentials
	KindAuthentication ErrorKind = "authentication"
	// KindTransient covers network failures, 5xx, timeouts and quota exhaustion
	KindTransient ErrorKind = "transient"
	// KindMalformedResponse means the reply could not be parsed or lacked required fields
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindInvalidRequest means the provider refused the request itself (other 4xx)
	KindInvalidRequest ErrorKind = "invalid_request"
)

// Error codes used across adapters
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeQuotaExceeded = "QUOTA_EXCEEDED"
	CodeServerError   = "SERVER_ERROR"
	CodeTimeout       = "TIMEOUT"
	CodeNetwork       = "NETWORK_ERROR"
	CodeBadResponse   = "BAD_RESPONSE"
	CodeBadRequest    = "BAD_REQUEST"
)

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Kind drives the router's retry decision
	Kind ErrorKind

	// Code is a short machine-readable code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the router may fall back to another provider
// and keep going.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindMalformedResponse
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, kind ErrorKind, code, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// NewMalformedError reports an unparseable or incomplete reply
func NewMalformedError(provider, message string, cause error) *ProviderError {
	return NewProviderError(provider, KindMalformedResponse, CodeBadResponse, message, 0, cause)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}
	return false
}

// KindOf returns the ErrorKind of err, or "" when err is not a *ProviderError
func KindOf(err error) ErrorKind {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind
	}
	return ""
}

// ClassifyStatus maps an HTTP error status to the taxonomy. Adapters with
// provider-specific rules check those first and fall back to this.
func ClassifyStatus(provider string, status int, message string) *ProviderError {
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(provider, KindAuthentication, CodeUnauthorized, message, status, nil)
	case status == http.StatusTooManyRequests:
		return NewProviderError(provider, KindTransient, CodeQuotaExceeded, message, status, nil)
	case status == http.StatusRequestTimeout:
		return NewProviderError(provider, KindTransient, CodeTimeout, message, status, nil)
	case status >= 500:
		return NewProviderError(provider, KindTransient, CodeServerError, message, status, nil)
	default:
		return NewProviderError(provider, KindInvalidRequest, CodeBadRequest, message, status, nil)
	}
}

// ClassifyTransport maps an error that happened before a status was received.
// Deadline and network errors are transient; anything else is treated as a
// response we could not make sense of.
func ClassifyTransport(provider string, err error) *ProviderError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(provider, KindTransient, CodeTimeout, "request timed out", 0, err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(provider, KindTransient, CodeNetwork, "request canceled", 0, err)
	case errors.As(err, &netErr):
		return NewProviderError(provider, KindTransient, CodeNetwork, "network error", 0, err)
	default:
		return NewMalformedError(provider, "unexpected response", err)
	}
}
