// Package mistral adapts Mistral's OpenAI-compatible chat API using the
// openai-go client with a Mistral base URL.
package mistral

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go/v2"
	openaiOption "github.com/openai/openai-go/v2/option"
	"github.com/upb/llm-router/services/providers"
)

const (
	// ProviderName is the registry identity of this adapter
	ProviderName = "mistral"

	defaultBaseURL = "https://api.mistral.ai/v1"
)

// Adapter implements providers.Adapter for Mistral
type Adapter struct {
	client *openai.Client
}

// NewAdapter creates a Mistral adapter. SDK retries are disabled.
func NewAdapter(config providers.ProviderConfig) *Adapter {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	opts := []openaiOption.RequestOption{
		openaiOption.WithAPIKey(config.APIKey),
		openaiOption.WithBaseURL(baseURL),
		openaiOption.WithMaxRetries(0),
	}
	if config.Timeout > 0 {
		opts = append(opts, openaiOption.WithHTTPClient(&http.Client{Timeout: config.Timeout}))
	}
	for key, value := range config.Headers {
		opts = append(opts, openaiOption.WithHeader(key, value))
	}

	client := openai.NewClient(opts...)
	return &Adapter{client: &client}
}

// Call implements providers.Adapter
func (a *Adapter) Call(ctx context.Context, desc providers.ProviderDescriptor, req *providers.GenerationRequest) (*providers.Completion, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(desc.ResolveModel(req.Model)),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}

	var opts []openaiOption.RequestOption
	if desc.Endpoint != "" {
		opts = append(opts, openaiOption.WithBaseURL(desc.Endpoint))
	}

	resp, err := a.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			provErr := providers.ClassifyStatus(ProviderName, apiErr.StatusCode, "")
			provErr.Cause = err
			return nil, provErr
		}
		return nil, providers.ClassifyTransport(ProviderName, err)
	}

	if len(resp.Choices) == 0 {
		return nil, providers.NewMalformedError(ProviderName, "response has no choices", nil)
	}
	if !resp.JSON.Usage.Valid() {
		return nil, providers.NewMalformedError(ProviderName, "response has no usage", nil)
	}

	return &providers.Completion{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: providers.TotalOf(providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}),
	}, nil
}
