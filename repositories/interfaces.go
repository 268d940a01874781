package repositories

import (
	"context"

	"github.com/upb/llm-router/models"
)

// UsageRepository is the append-only usage log
type UsageRepository interface {
	// Insert appends one attempt record
	Insert(ctx context.Context, record *models.UsageRecord) error

	// GetByRequestID returns every attempt of one request, oldest first
	GetByRequestID(ctx context.Context, requestID string) ([]*models.UsageRecord, error)

	// ListRecent returns the newest records first
	ListRecent(ctx context.Context, limit int) ([]*models.UsageRecord, error)
}

// HealthChecker is implemented by stores that hold a connection
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
