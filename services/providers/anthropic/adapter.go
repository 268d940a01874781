// Package anthropic adapts the Anthropic Messages API to the router's Adapter contract.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/upb/llm-router/services/providers"
)

const (
	// ProviderName is the registry identity of this adapter
	ProviderName = "anthropic"

	defaultMaxTokens = 1024
)

// Adapter calls Anthropic through the official SDK. The key travels in the
// x-api-key header.
type Adapter struct {
	client *anthropic.Client
}

// NewAdapter builds an SDK client from config. SDK-level retries are disabled.
func NewAdapter(config providers.ProviderConfig) *Adapter {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: config.Timeout}))
	}
	for key, value := range config.Headers {
		opts = append(opts, option.WithHeader(key, value))
	}

	client := anthropic.NewClient(opts...)
	return &Adapter{client: &client}
}

// Call implements providers.Adapter
func (a *Adapter) Call(ctx context.Context, desc providers.ProviderDescriptor, req *providers.GenerationRequest) (*providers.Completion, error) {
	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(desc.ResolveModel(req.Model)),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	var opts []option.RequestOption
	if desc.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(desc.Endpoint))
	}

	message, err := a.client.Messages.New(ctx, params, opts...)
	if err != nil {
		return nil, classify(err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, providers.NewMalformedError(ProviderName, "response has no text content", nil)
	}
	if !message.JSON.Usage.Valid() {
		return nil, providers.NewMalformedError(ProviderName, "response has no usage", nil)
	}

	return &providers.Completion{
		Content: text.String(),
		Model:   string(message.Model),
		Usage: providers.TotalOf(providers.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		}),
	}, nil
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		provErr := providers.ClassifyStatus(ProviderName, apiErr.StatusCode, "")
		provErr.Cause = err
		return provErr
	}
	return providers.ClassifyTransport(ProviderName, err)
}
