package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/llm-router/services/providers"
)

const (
	// ProviderName is the registry identity of this adapter
	ProviderName = "openai"

	defaultBaseURL = "https://api.openai.com/v1"
)

// OpenAIAdapter implements providers.Adapter for the OpenAI chat completions API
type OpenAIAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(config providers.ProviderConfig) *OpenAIAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &OpenAIAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Call performs a chat completion request
func (a *OpenAIAdapter) Call(ctx context.Context, desc providers.ProviderDescriptor, req *providers.GenerationRequest) (*providers.Completion, error) {
	openaiReq := a.buildOpenAIRequest(desc, req)

	reqBody, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, providers.NewProviderError(ProviderName, providers.KindInvalidRequest, "MARSHAL_ERROR", "failed to marshal request", 0, err)
	}

	baseURL := a.config.BaseURL
	if desc.Endpoint != "" {
		baseURL = strings.TrimRight(desc.Endpoint, "/")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(ProviderName, providers.KindInvalidRequest, "REQUEST_ERROR", "failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.ClassifyTransport(ProviderName, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.ClassifyTransport(ProviderName, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var openaiResp OpenAIChatResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return nil, providers.NewMalformedError(ProviderName, "failed to unmarshal response", err)
	}

	return a.convertCompletion(&openaiResp)
}

// buildOpenAIRequest converts the generic request to OpenAI format
func (a *OpenAIAdapter) buildOpenAIRequest(desc providers.ProviderDescriptor, req *providers.GenerationRequest) *OpenAIChatRequest {
	openaiReq := &OpenAIChatRequest{
		Model:       desc.ResolveModel(req.Model),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if req.SystemPrompt != "" {
		openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{Role: "user", Content: req.Prompt})

	return openaiReq
}

// convertCompletion validates the reply and extracts the first choice
func (a *OpenAIAdapter) convertCompletion(resp *OpenAIChatResponse) (*providers.Completion, error) {
	if len(resp.Choices) == 0 {
		return nil, providers.NewMalformedError(ProviderName, "response has no choices", nil)
	}
	if resp.Usage == nil {
		return nil, providers.NewMalformedError(ProviderName, "response has no usage", nil)
	}

	return &providers.Completion{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: providers.TotalOf(providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}),
	}, nil
}

// handleErrorResponse handles OpenAI error responses
func (a *OpenAIAdapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp OpenAIErrorResponse
	message := ""
	if err := json.Unmarshal(body, &errResp); err == nil {
		message = errResp.Error.Message
	}

	provErr := providers.ClassifyStatus(ProviderName, statusCode, message)
	// OpenAI reports an exhausted billing quota as 429 insufficient_quota
	if errResp.Error.Code == "insufficient_quota" {
		provErr.Code = providers.CodeQuotaExceeded
	}
	return provErr
}

// OpenAI-specific request/response types

type OpenAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAIErrorResponse struct {
	Error OpenAIError `json:"error"`
}

type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
