package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// APIKeyHeader is checked when no bearer token is sent
const APIKeyHeader = "X-API-Key"

// APIKeyAuth guards routes with a static set of shared keys
type APIKeyAuth struct {
	keys   [][]byte
	logger *zap.Logger
}

// NewAPIKeyAuth creates the middleware. With no keys every request passes.
func NewAPIKeyAuth(keys []string, logger *zap.Logger) *APIKeyAuth {
	m := &APIKeyAuth{logger: logger}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			m.keys = append(m.keys, []byte(k))
		}
	}
	return m
}

// Enabled reports whether any key is configured
func (m *APIKeyAuth) Enabled() bool {
	return len(m.keys) > 0
}

// RequireAPIKey rejects requests that do not carry a configured key
func (m *APIKeyAuth) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		key := extractKey(r)
		if key == "" {
			m.logger.Warn("missing api key",
				zap.String("trace_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing API key")
			return
		}

		if !m.valid(key) {
			m.logger.Warn("invalid api key",
				zap.String("trace_id", requestID),
				zap.String("client", fingerprint(key)))
			_ = utils.WriteUnauthorized(w, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClient(ctx, fingerprint(key))))
	})
}

func (m *APIKeyAuth) valid(key string) bool {
	candidate := []byte(key)
	ok := 0
	for _, k := range m.keys {
		ok |= subtle.ConstantTimeCompare(candidate, k)
	}
	return ok == 1
}

// fingerprint identifies a key in logs without revealing it
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// extractKey reads "Authorization: Bearer KEY", falling back to X-API-Key.
// The Authorization header takes precedence when both are present.
func extractKey(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
