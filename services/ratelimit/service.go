// Package ratelimit admits or rejects provider calls against a per-provider
// request budget counted over a sliding time window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow is the sliding window length used when none is configured
const DefaultWindow = 60 * time.Second

// Limiter decides whether one more call to a provider fits in its budget.
// TryAcquire records the admission when it returns true; there is no separate
// release step.
type Limiter interface {
	TryAcquire(ctx context.Context, provider string) (bool, error)
	Usage(ctx context.Context, provider string) (WindowUsage, error)
}

// BudgetFunc returns the number of requests a provider may make per window.
// A budget of zero or less admits nothing.
type BudgetFunc func(provider string) int

// WindowUsage is a point-in-time view of one provider's window
type WindowUsage struct {
	Provider string    `json:"provider"`
	Used     int       `json:"used"`
	Limit    int       `json:"limit"`
	ResetAt  time.Time `json:"reset_at"`
}

// Remaining returns how many more requests the window admits right now
func (u WindowUsage) Remaining() int {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Config holds limiter settings shared by the backends
type Config struct {
	Window time.Duration
	// Now is the clock; tests replace it
	Now func() time.Time
}

// DefaultConfig returns a 60 second window on the wall clock
func DefaultConfig() Config {
	return Config{
		Window: DefaultWindow,
		Now:    time.Now,
	}
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// MemoryLimiter keeps admission timestamps per provider in process memory.
// The check and the append happen under one lock, so concurrent callers can
// never push a provider past its budget.
type MemoryLimiter struct {
	budget BudgetFunc
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryLimiter creates an in-memory sliding window limiter
func NewMemoryLimiter(budget BudgetFunc, config Config, logger *zap.Logger) *MemoryLimiter {
	return &MemoryLimiter{
		budget:  budget,
		config:  config.withDefaults(),
		logger:  logger,
		windows: make(map[string][]time.Time),
	}
}

// TryAcquire admits the call and records it if the provider has budget left
func (l *MemoryLimiter) TryAcquire(_ context.Context, provider string) (bool, error) {
	limit := l.budget(provider)
	if limit <= 0 {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.config.Now()
	window := l.prune(provider, now)
	if len(window) >= limit {
		return false, nil
	}

	l.windows[provider] = append(window, now)
	return true, nil
}

// Usage reports the provider's current window without recording anything
func (l *MemoryLimiter) Usage(_ context.Context, provider string) (WindowUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.config.Now()
	window := l.prune(provider, now)

	usage := WindowUsage{
		Provider: provider,
		Used:     len(window),
		Limit:    l.budget(provider),
		ResetAt:  now,
	}
	if len(window) > 0 {
		usage.ResetAt = window[0].Add(l.config.Window)
	}
	return usage, nil
}

// prune drops timestamps at least one window old. Caller holds l.mu.
func (l *MemoryLimiter) prune(provider string, now time.Time) []time.Time {
	window := l.windows[provider]

	keep := 0
	for keep < len(window) && now.Sub(window[keep]) >= l.config.Window {
		keep++
	}
	if keep > 0 {
		window = append(window[:0], window[keep:]...)
		l.windows[provider] = window
	}
	return window
}

// Cleanup prunes every provider and forgets those with empty windows
func (l *MemoryLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.config.Now()
	removed := 0
	for provider := range l.windows {
		if len(l.prune(provider, now)) == 0 {
			delete(l.windows, provider)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops idle provider windows until ctx is done
func (l *MemoryLimiter) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.config.Window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("started rate limit cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("window", l.config.Window),
	)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("stopping rate limit cleanup worker")
			return
		case <-ticker.C:
			if removed := l.Cleanup(); removed > 0 {
				l.logger.Debug("cleaned up idle rate limit windows", zap.Int("removed", removed))
			}
		}
	}
}
