package providers

import (
	"context"
	"time"
)

// Adapter translates a GenerationRequest into one provider's wire format and
// normalizes the reply. Implementations classify failures as *ProviderError.
type Adapter interface {
	// Call performs a single generation against the provider described by desc.
	// Adapters must not retry; fallback belongs to the router.
	Call(ctx context.Context, desc ProviderDescriptor, req *GenerationRequest) (*Completion, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, desc ProviderDescriptor, req *GenerationRequest) (*Completion, error)

// Call implements Adapter
func (f AdapterFunc) Call(ctx context.Context, desc ProviderDescriptor, req *GenerationRequest) (*Completion, error) {
	return f(ctx, desc, req)
}

// ProviderDescriptor describes a configured backend. It is immutable once the
// registry is built.
type ProviderDescriptor struct {
	// Name is the provider identity (e.g., "openai", "anthropic")
	Name string `json:"name"`

	// CredentialRef names where the credential came from (an env var), never the secret itself
	CredentialRef string `json:"credential_ref"`

	// Endpoint is the API base URL
	Endpoint string `json:"endpoint"`

	// SupportedModels lists the model identifiers the provider accepts
	SupportedModels []string `json:"supported_models"`

	// DefaultModel is used when the request names no model or one this provider lacks
	DefaultModel string `json:"default_model"`

	// Capabilities are tags such as "chat", "vision", "json"
	Capabilities []string `json:"capabilities"`

	// RateLimit is the per-window budget
	RateLimit RateLimitBudget `json:"rate_limit"`

	// Timeout overrides the router's per-attempt timeout when non-zero
	Timeout time.Duration `json:"-"`
}

// RateLimitBudget is a provider's sliding-window allowance.
type RateLimitBudget struct {
	RequestsPerWindow int `json:"requests_per_window"`
	TokensPerWindow   int `json:"tokens_per_window"`
}

// SupportsModel reports whether model is listed by the provider.
func (d ProviderDescriptor) SupportsModel(model string) bool {
	for _, m := range d.SupportedModels {
		if m == model {
			return true
		}
	}
	return false
}

// HasCapability reports whether the provider carries the capability tag.
func (d ProviderDescriptor) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// ResolveModel picks the model to send: the requested one when supported,
// otherwise the provider default.
func (d ProviderDescriptor) ResolveModel(requested string) string {
	if requested != "" && d.SupportsModel(requested) {
		return requested
	}
	if d.DefaultModel != "" {
		return d.DefaultModel
	}
	if requested != "" {
		return requested
	}
	if len(d.SupportedModels) > 0 {
		return d.SupportedModels[0]
	}
	return ""
}

// GenerationRequest is the provider-agnostic request submitted by callers
type GenerationRequest struct {
	// Prompt is the user input
	Prompt string `json:"prompt"`

	// Model is an optional model hint
	Model string `json:"model,omitempty"`

	// Temperature controls randomness; nil leaves the provider default
	Temperature *float64 `json:"temperature,omitempty"`

	// MaxTokens limits the response length; nil leaves the provider default
	MaxTokens *int `json:"max_tokens,omitempty"`

	// SystemPrompt sets assistant behavior
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Context is opaque caller data carried through the call
	Context map[string]any `json:"context,omitempty"`

	// PreferredProvider is tried first when registered
	PreferredProvider string `json:"preferred_provider,omitempty"`

	// RequiredCapabilities excludes providers lacking any of these tags
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// Completion is what an adapter returns on success
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NormalizedResponse is the provider-agnostic result returned to callers
type NormalizedResponse struct {
	RequestID    string    `json:"request_id"`
	Content      string    `json:"content"`
	Model        string    `json:"model"`
	Usage        Usage     `json:"usage"`
	ProviderName string    `json:"provider"`
	Timestamp    time.Time `json:"timestamp"`
	Attempts     int       `json:"attempts"`
	LatencyMs    int64     `json:"latency_ms"`
}

// ProviderConfig holds connection settings shared by adapters
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout bounds the underlying HTTP client
	Timeout time.Duration

	// Headers are added to every request
	Headers map[string]string
}

// TotalOf fills TotalTokens when a provider omits it.
func TotalOf(u Usage) Usage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}
