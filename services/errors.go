package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeNoProviders  ErrorType = "no_providers"
	ErrorTypeExhausted    ErrorType = "exhausted"
	ErrorTypeCanceled     ErrorType = "canceled"
	ErrorTypeInternal     ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	// Provider is the last provider attempted, if any
	Provider string
	Details  map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = fmt.Sprintf("%s [provider=%s]", msg, e.Provider)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error. Use it on fresh errors only, never
// on the package sentinels.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithProvider sets the provider the error is attributed to
func (e *DomainError) WithProvider(provider string) *DomainError {
	e.Provider = provider
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinels for errors.Is matching; compare by Type
var (
	ErrNoProvidersAvailable = NewDomainError(ErrorTypeNoProviders, "no providers available", nil)
	ErrRateLimitExceeded    = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)
	ErrAuthentication       = NewDomainError(ErrorTypeUnauthorized, "provider authentication failed", nil)
	ErrProvidersExhausted   = NewDomainError(ErrorTypeExhausted, "all providers failed", nil)
	ErrUnknownProvider      = NewDomainError(ErrorTypeNotFound, "unknown provider", nil)
	ErrUsageNotFound        = NewDomainError(ErrorTypeNotFound, "usage records not found", nil)
	ErrEmptyPrompt          = NewDomainError(ErrorTypeValidation, "prompt cannot be empty", nil)
	ErrInvalidInput         = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrCanceled             = NewDomainError(ErrorTypeCanceled, "request canceled", nil)
	ErrInternal             = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is a provider authentication error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsNoProvidersError checks if no provider could take the request
func IsNoProvidersError(err error) bool {
	return GetErrorType(err) == ErrorTypeNoProviders
}

// IsExhaustedError checks if every candidate provider failed
func IsExhaustedError(err error) bool {
	return GetErrorType(err) == ErrorTypeExhausted
}

// IsCanceledError checks if the caller gave up on the request
func IsCanceledError(err error) bool {
	return GetErrorType(err) == ErrorTypeCanceled
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of the outermost domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorProvider returns the provider a domain error is attributed to
func GetErrorProvider(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Provider
	}
	return ""
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
