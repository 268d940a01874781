package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/internal/observability"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/services"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/ratelimit"
	"go.uber.org/zap"
)

// AuthFailurePolicy decides what a provider-fatal failure does to the call
type AuthFailurePolicy string

const (
	// PolicySkip drops the failing provider and falls back to the next candidate
	PolicySkip AuthFailurePolicy = AuthFailurePolicy(config.AuthFailureSkip)

	// PolicyAbort surfaces the failure immediately
	PolicyAbort AuthFailurePolicy = AuthFailurePolicy(config.AuthFailureAbort)
)

// Router states, used as the "state" log field
const (
	stateSelect     = "SELECT"
	stateCheckLimit = "CHECK_LIMIT"
	stateCall       = "CALL"
	stateSuccess    = "SUCCESS"
	stateRetry      = "RETRY"
	stateExhausted  = "EXHAUSTED"
)

// RoutingConfig holds configuration for the routing service
type RoutingConfig struct {
	// AttemptTimeout bounds one adapter call unless the descriptor sets its own
	AttemptTimeout time.Duration

	// AuthFailurePolicy applies to authentication and invalid-request failures
	AuthFailurePolicy AuthFailurePolicy
}

// DefaultRoutingConfig returns a sensible default configuration
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		AttemptTimeout:    30 * time.Second,
		AuthFailurePolicy: PolicySkip,
	}
}

// UsageSink accepts usage records without blocking
type UsageSink interface {
	Record(record *models.UsageRecord) error
}

// RoutingService runs each generation request through the provider fallback
// loop. It holds no per-call state; concurrent calls share only the limiter.
type RoutingService struct {
	config   RoutingConfig
	registry *providers.Registry
	selector *Selector
	limiter  ratelimit.Limiter
	usage    UsageSink
	metrics  observability.Metrics
	logger   *zap.Logger
}

// NewRoutingService creates a new routing service
func NewRoutingService(
	cfg RoutingConfig,
	registry *providers.Registry,
	selector *Selector,
	limiter ratelimit.Limiter,
	usage UsageSink,
	metrics observability.Metrics,
	logger *zap.Logger,
) *RoutingService {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultRoutingConfig().AttemptTimeout
	}
	if cfg.AuthFailurePolicy == "" {
		cfg.AuthFailurePolicy = PolicySkip
	}
	if selector == nil {
		selector = NewSelector(nil)
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}

	return &RoutingService{
		config:   cfg,
		registry: registry,
		selector: selector,
		limiter:  limiter,
		usage:    usage,
		metrics:  metrics,
		logger:   logger,
	}
}

// call is the state of one Generate invocation
type call struct {
	requestID string
	req       *providers.GenerationRequest
	started   time.Time
	logger    *zap.Logger

	attempts     int
	lastProvider string
	lastErr      error
	// limited counts candidates skipped for budget since the last adapter call
	limited int
}

// Generate serves req from the best available provider, falling back across
// candidates on retryable failures.
func (s *RoutingService) Generate(ctx context.Context, req *providers.GenerationRequest) (*providers.NormalizedResponse, error) {
	if req == nil || req.Prompt == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "prompt cannot be empty", nil).
			WithDetail("attempts", 0)
	}

	c := &call{
		requestID: uuid.NewString(),
		req:       req,
		started:   time.Now(),
	}
	c.logger = s.logger.With(zap.String("request_id", c.requestID))

	resp, err := s.run(ctx, c)

	status := "success"
	if err != nil {
		status = string(services.GetErrorType(err))
	}
	s.metrics.RecordRequest(status, c.attempts, time.Since(c.started))
	return resp, err
}

func (s *RoutingService) run(ctx context.Context, c *call) (*providers.NormalizedResponse, error) {
	// SELECT
	if c.req.PreferredProvider != "" && !s.registry.Has(c.req.PreferredProvider) {
		c.logger.Warn("preferred provider is not registered, ignoring",
			zap.String("preferred_provider", c.req.PreferredProvider),
			zap.String("state", stateSelect))
	}

	candidates := s.selector.Rank(c.req, s.registry)
	if len(candidates) == 0 {
		c.logger.Warn("no provider can serve the request",
			zap.Int("registered", s.registry.Len()),
			zap.Strings("required_capabilities", c.req.RequiredCapabilities),
			zap.String("state", stateExhausted))
		return nil, s.terminal(c, services.ErrorTypeNoProviders, "no providers available", nil)
	}

	for _, desc := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, s.canceled(c, err)
		}

		// CHECK_LIMIT
		if !s.admit(ctx, c, desc.Name) {
			c.limited++
			continue
		}

		// CALL
		resp, err := s.attempt(ctx, c, desc)
		if err == nil {
			return resp, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, s.canceled(c, ctxErr)
		}

		if providers.IsRetryable(err) {
			c.logger.Info("provider failed, falling back",
				zap.String("provider", desc.Name),
				zap.Int("attempt", c.attempts),
				zap.String("state", stateRetry),
				zap.Error(err))
			continue
		}

		// provider-fatal: authentication or invalid request
		if s.config.AuthFailurePolicy == PolicyAbort {
			c.logger.Warn("provider-fatal failure, aborting",
				zap.String("provider", desc.Name),
				zap.String("state", stateExhausted),
				zap.Error(err))
			return nil, s.terminal(c, fatalType(err), "provider rejected the request", err)
		}
		c.logger.Warn("provider-fatal failure, skipping provider",
			zap.String("provider", desc.Name),
			zap.String("state", stateRetry),
			zap.Error(err))
	}

	if err := ctx.Err(); err != nil {
		return nil, s.canceled(c, err)
	}

	// EXHAUSTED
	switch {
	case c.attempts == 0:
		c.logger.Warn("every candidate is over its rate limit",
			zap.Int("candidates", len(candidates)),
			zap.String("state", stateExhausted))
		return nil, s.terminal(c, services.ErrorTypeRateLimit, "rate limit exceeded", services.ErrNoProvidersAvailable)
	case c.limited > 0:
		c.logger.Warn("remaining candidates are over their rate limit",
			zap.Int("attempts", c.attempts),
			zap.String("state", stateExhausted))
		return nil, s.terminal(c, services.ErrorTypeRateLimit, "rate limit exceeded", c.lastErr)
	case providers.KindOf(c.lastErr) == providers.KindAuthentication:
		return nil, s.terminal(c, services.ErrorTypeUnauthorized, "provider authentication failed", c.lastErr)
	default:
		c.logger.Warn("all providers failed",
			zap.Int("attempts", c.attempts),
			zap.String("state", stateExhausted),
			zap.Error(c.lastErr))
		return nil, s.terminal(c, services.ErrorTypeExhausted, "all providers failed", c.lastErr)
	}
}

// admit asks the limiter for a slot. Limiter errors count as not admitted.
func (s *RoutingService) admit(ctx context.Context, c *call, provider string) bool {
	ok, err := s.limiter.TryAcquire(ctx, provider)
	if err != nil {
		c.logger.Warn("rate limiter unavailable, skipping provider",
			zap.String("provider", provider),
			zap.String("state", stateCheckLimit),
			zap.Error(err))
		return false
	}
	if !ok {
		s.metrics.RecordRateLimited(provider)
		c.logger.Debug("provider over budget, skipping",
			zap.String("provider", provider),
			zap.String("state", stateCheckLimit))
	}
	return ok
}

// attempt performs one adapter call and records its usage
func (s *RoutingService) attempt(ctx context.Context, c *call, desc providers.ProviderDescriptor) (*providers.NormalizedResponse, error) {
	c.attempts++
	c.limited = 0
	c.lastProvider = desc.Name

	model := desc.ResolveModel(c.req.Model)
	record := models.NewUsageRecord(c.requestID, c.attempts, desc.Name, model)

	timeout := s.config.AttemptTimeout
	if desc.Timeout > 0 {
		timeout = desc.Timeout
	}

	c.logger.Debug("calling provider",
		zap.String("provider", desc.Name),
		zap.String("model", model),
		zap.Int("attempt", c.attempts),
		zap.Duration("timeout", timeout),
		zap.String("state", stateCall))

	start := time.Now()
	completion, err := s.invoke(ctx, desc, c.req, timeout)
	duration := time.Since(start)
	record.WithDuration(duration)

	if err != nil {
		c.lastErr = err
		kind := string(providers.KindOf(err))
		s.metrics.RecordAttempt(desc.Name, kind, duration)
		s.record(c, record.Failed(kind))
		return nil, err
	}

	if completion.Model != "" {
		model = completion.Model
		record.Model = model
	}
	usage := providers.TotalOf(completion.Usage)

	s.metrics.RecordAttempt(desc.Name, observability.OutcomeSuccess, duration)
	s.metrics.RecordTokens(desc.Name, usage.PromptTokens, usage.CompletionTokens)
	s.record(c, record.WithTokens(usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens).Succeeded())

	c.logger.Info("generation served",
		zap.String("provider", desc.Name),
		zap.String("model", model),
		zap.Int("attempt", c.attempts),
		zap.Int("total_tokens", usage.TotalTokens),
		zap.Duration("duration", duration),
		zap.String("state", stateSuccess))

	return &providers.NormalizedResponse{
		RequestID:    c.requestID,
		Content:      completion.Content,
		Model:        model,
		Usage:        usage,
		ProviderName: desc.Name,
		Timestamp:    time.Now().UTC(),
		Attempts:     c.attempts,
		LatencyMs:    time.Since(c.started).Milliseconds(),
	}, nil
}

// invoke runs the adapter under the attempt timeout and makes sure every
// failure comes back as a *providers.ProviderError.
func (s *RoutingService) invoke(ctx context.Context, desc providers.ProviderDescriptor, req *providers.GenerationRequest, timeout time.Duration) (*providers.Completion, error) {
	adapter, err := s.registry.Adapter(desc.Name)
	if err != nil {
		return nil, providers.NewProviderError(desc.Name, providers.KindInvalidRequest, providers.CodeBadRequest, "no adapter bound", 0, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	completion, err := adapter.Call(attemptCtx, desc, req)
	if err != nil {
		var provErr *providers.ProviderError
		if errors.As(err, &provErr) {
			return nil, err
		}
		if attemptCtx.Err() != nil {
			return nil, providers.ClassifyTransport(desc.Name, attemptCtx.Err())
		}
		return nil, providers.ClassifyTransport(desc.Name, err)
	}
	if completion == nil {
		return nil, providers.NewMalformedError(desc.Name, "adapter returned no completion", nil)
	}
	return completion, nil
}

// record hands a usage record to the sink; failures never reach the caller
func (s *RoutingService) record(c *call, record *models.UsageRecord) {
	if s.usage == nil {
		return
	}
	if err := s.usage.Record(record); err != nil {
		c.logger.Debug("usage record not queued",
			zap.String("provider", record.Provider),
			zap.Int("attempt", record.Attempt),
			zap.Error(err))
	}
}

func (s *RoutingService) canceled(c *call, cause error) error {
	c.logger.Info("request canceled by caller",
		zap.Int("attempts", c.attempts),
		zap.String("provider", c.lastProvider))
	return s.terminal(c, services.ErrorTypeCanceled, "request canceled", cause)
}

func (s *RoutingService) terminal(c *call, errType services.ErrorType, message string, cause error) error {
	return services.NewDomainError(errType, message, cause).
		WithProvider(c.lastProvider).
		WithDetail("attempts", c.attempts).
		WithDetail("request_id", c.requestID)
}

// fatalType maps a provider-fatal kind to the router error surfaced under PolicyAbort
func fatalType(err error) services.ErrorType {
	if providers.KindOf(err) == providers.KindAuthentication {
		return services.ErrorTypeUnauthorized
	}
	return services.ErrorTypeValidation
}

// ProviderStatus is a registered provider together with its current window
type ProviderStatus struct {
	providers.ProviderDescriptor
	Window ratelimit.WindowUsage `json:"window"`
}

// Providers lists registered providers in registration order with their
// current rate-limit usage. Limiter failures leave Window with only the limit set.
func (s *RoutingService) Providers(ctx context.Context) []ProviderStatus {
	descs := s.registry.List()
	out := make([]ProviderStatus, 0, len(descs))
	for _, desc := range descs {
		window, err := s.limiter.Usage(ctx, desc.Name)
		if err != nil {
			s.logger.Warn("failed to read rate limit window",
				zap.String("provider", desc.Name),
				zap.Error(err))
			window = ratelimit.WindowUsage{Provider: desc.Name, Limit: desc.RateLimit.RequestsPerWindow}
		}
		out = append(out, ProviderStatus{ProviderDescriptor: desc, Window: window})
	}
	return out
}

// Provider returns one registered provider's status
func (s *RoutingService) Provider(ctx context.Context, name string) (ProviderStatus, error) {
	desc, err := s.registry.Get(name)
	if err != nil {
		return ProviderStatus{}, services.NewDomainError(services.ErrorTypeNotFound, fmt.Sprintf("unknown provider %q", name), err).
			WithDetail("provider", name)
	}
	window, err := s.limiter.Usage(ctx, name)
	if err != nil {
		return ProviderStatus{}, services.WrapInternal("failed to read rate limit window", err)
	}
	return ProviderStatus{ProviderDescriptor: desc, Window: window}, nil
}
