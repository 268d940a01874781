package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for the HTTP trace id
	RequestIDKey contextKey = "request_id"

	// ClientKey is the context key for the authenticated API key label
	ClientKey contextKey = "client"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClientFromContext returns the label of the API key that authenticated the request
func GetClientFromContext(ctx context.Context) string {
	if val := ctx.Value(ClientKey); val != nil {
		if client, ok := val.(string); ok {
			return client
		}
	}
	return ""
}

// WithClient adds the API key label to the context
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, ClientKey, client)
}
