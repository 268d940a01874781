// Package usage records provider attempts asynchronously so that writing the
// usage log never delays or fails a generation request.
package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/llm-router/internal/observability"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories"
	"github.com/upb/llm-router/services"
	"go.uber.org/zap"
)

// ErrBufferFull is returned by Record when the queue has no room
var ErrBufferFull = errors.New("usage record buffer full")

// ErrNotStarted is returned when recording before Start or after Stop
var ErrNotStarted = errors.New("usage recorder not running")

const maxListLimit = 500

// Config holds configuration for the Recorder
type Config struct {
	BufferSize   int           // Size of the record channel
	WorkerCount  int           // Number of concurrent writers
	WriteTimeout time.Duration // Bound on each repository insert
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   10000,
		WorkerCount:  4,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes usage records in the background through a worker pool
type Recorder struct {
	repo    repositories.UsageRepository
	logger  *zap.Logger
	metrics observability.Metrics
	config  Config

	records chan *models.UsageRecord
	wg      sync.WaitGroup

	// mu guards started/stopped and the channel close
	mu      sync.RWMutex
	started bool
	stopped bool

	recorded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// NewRecorder creates a new Recorder instance
func NewRecorder(repo repositories.UsageRepository, logger *zap.Logger, metrics observability.Metrics, config Config) *Recorder {
	if config.BufferSize < 1 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount < 1 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}

	return &Recorder{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
		config:  config,
		records: make(chan *models.UsageRecord, config.BufferSize),
	}
}

// Start starts the background workers
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("usage recorder already started")
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.started = true
	r.logger.Info("started usage recorder",
		zap.Int("worker_count", r.config.WorkerCount),
		zap.Int("buffer_size", r.config.BufferSize))

	return nil
}

// Stop stops accepting records and waits for queued ones to be written
func (r *Recorder) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.stopped = true
	close(r.records)
	r.mu.Unlock()

	r.logger.Info("stopping usage recorder", zap.Int("pending_records", len(r.records)))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("usage recorder stopped gracefully",
			zap.Int64("recorded", r.recorded.Load()),
			zap.Int64("failed", r.failed.Load()),
			zap.Int64("dropped", r.dropped.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("usage recorder stop timeout after %v", timeout)
	}
}

// Record queues a record without blocking. A full buffer drops the record.
func (r *Recorder) Record(record *models.UsageRecord) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.started || r.stopped {
		return ErrNotStarted
	}

	select {
	case r.records <- record:
		return nil
	default:
		r.dropped.Add(1)
		r.metrics.RecordUsageDropped()
		r.logger.Warn("usage record buffer full, dropping record",
			zap.String("request_id", record.RequestID),
			zap.String("provider", record.Provider),
			zap.Int("attempt", record.Attempt))
		return ErrBufferFull
	}
}

func (r *Recorder) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("usage worker started", zap.Int("worker_id", id))

	for record := range r.records {
		if err := r.write(record); err != nil {
			r.failed.Add(1)
			r.logger.Error("failed to write usage record",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("request_id", record.RequestID),
				zap.String("provider", record.Provider))
			continue
		}
		r.recorded.Add(1)
	}

	r.logger.Debug("usage worker stopped", zap.Int("worker_id", id))
}

func (r *Recorder) write(record *models.UsageRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if err := r.repo.Insert(ctx, record); err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// Lookup returns all attempts recorded for a request
func (r *Recorder) Lookup(ctx context.Context, requestID string) ([]*models.UsageRecord, error) {
	if requestID == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "request id is required", nil)
	}

	records, err := r.repo.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, services.WrapInternal("failed to read usage records", err)
	}
	if len(records) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "usage records not found", nil).
			WithDetail("request_id", requestID)
	}
	return records, nil
}

// Recent returns the newest records, capped at 500
func (r *Recorder) Recent(ctx context.Context, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	records, err := r.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to list usage records", err)
	}
	return records, nil
}

// GetStats returns statistics about the recorder
func (r *Recorder) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		BufferSize:  r.config.BufferSize,
		Pending:     len(r.records),
		WorkerCount: r.config.WorkerCount,
		Started:     r.started && !r.stopped,
		Recorded:    r.recorded.Load(),
		Failed:      r.failed.Load(),
		Dropped:     r.dropped.Load(),
	}
}

// Stats represents recorder statistics
type Stats struct {
	BufferSize  int   `json:"buffer_size"`
	Pending     int   `json:"pending"`
	WorkerCount int   `json:"worker_count"`
	Started     bool  `json:"started"`
	Recorded    int64 `json:"recorded"`
	Failed      int64 `json:"failed"`
	Dropped     int64 `json:"dropped"`
}
