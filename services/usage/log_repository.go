package usage

import (
	"context"
	"sync"

	"github.com/upb/llm-router/models"
	"go.uber.org/zap"
)

// LogRepository writes usage records to the structured log and keeps the
// most recent ones in memory so the read API works without a database.
type LogRepository struct {
	logger *zap.Logger

	mu     sync.Mutex
	recent []*models.UsageRecord
	next   int
	full   bool
}

// NewLogRepository creates a log-backed repository retaining up to capacity records
func NewLogRepository(logger *zap.Logger, capacity int) *LogRepository {
	if capacity < 1 {
		capacity = 1000
	}
	return &LogRepository{
		logger: logger,
		recent: make([]*models.UsageRecord, capacity),
	}
}

// Insert logs the record and keeps it in the ring
func (r *LogRepository) Insert(_ context.Context, record *models.UsageRecord) error {
	r.logger.Info("usage",
		zap.String("id", record.ID.String()),
		zap.String("request_id", record.RequestID),
		zap.Int("attempt", record.Attempt),
		zap.String("provider", record.Provider),
		zap.String("model", record.Model),
		zap.Int("prompt_tokens", record.PromptTokens),
		zap.Int("completion_tokens", record.CompletionTokens),
		zap.Int("total_tokens", record.TotalTokens),
		zap.Int64("duration_ms", record.DurationMs),
		zap.Bool("success", record.Success),
		zap.String("error_kind", record.ErrorKind),
		zap.Time("timestamp", record.Timestamp),
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.recent[r.next] = record
	r.next = (r.next + 1) % len(r.recent)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// ordered returns retained records oldest first. Caller holds r.mu.
func (r *LogRepository) ordered() []*models.UsageRecord {
	if !r.full {
		return append([]*models.UsageRecord(nil), r.recent[:r.next]...)
	}
	out := make([]*models.UsageRecord, 0, len(r.recent))
	out = append(out, r.recent[r.next:]...)
	return append(out, r.recent[:r.next]...)
}

// GetByRequestID returns retained attempts of a request, oldest first
func (r *LogRepository) GetByRequestID(_ context.Context, requestID string) ([]*models.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.UsageRecord
	for _, rec := range r.ordered() {
		if rec.RequestID == requestID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListRecent returns retained records newest first
func (r *LogRepository) ListRecent(_ context.Context, limit int) ([]*models.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.ordered()
	out := make([]*models.UsageRecord, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
