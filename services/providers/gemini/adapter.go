// Package gemini adapts the Gemini generateContent REST API. Authentication is
// by API key in the query string.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/llm-router/services/providers"
)

const (
	// ProviderName is the registry identity of this adapter
	ProviderName = "gemini"

	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Adapter implements providers.Adapter for Gemini
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewAdapter creates a Gemini adapter
func NewAdapter(config providers.ProviderConfig) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &Adapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Call implements providers.Adapter
func (a *Adapter) Call(ctx context.Context, desc providers.ProviderDescriptor, req *providers.GenerationRequest) (*providers.Completion, error) {
	model := desc.ResolveModel(req.Model)

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, providers.NewProviderError(ProviderName, providers.KindInvalidRequest, "MARSHAL_ERROR", "failed to marshal request", 0, err)
	}

	baseURL := a.config.BaseURL
	if desc.Endpoint != "" {
		baseURL = strings.TrimRight(desc.Endpoint, "/")
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		baseURL, url.PathEscape(model), url.QueryEscape(a.config.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(ProviderName, providers.KindInvalidRequest, "REQUEST_ERROR", "failed to create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		// url.Error embeds the full URL, key included
		return nil, providers.ClassifyTransport(ProviderName, redact(err, a.config.APIKey))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providers.ClassifyTransport(ProviderName, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyError(resp.StatusCode, respBody)
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, providers.NewMalformedError(ProviderName, "failed to unmarshal response", err)
	}

	if len(parsed.Candidates) == 0 {
		reason := "response has no candidates"
		if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			reason += " (blocked: " + parsed.PromptFeedback.BlockReason + ")"
		}
		return nil, providers.NewMalformedError(ProviderName, reason, nil)
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return nil, providers.NewMalformedError(ProviderName, "candidate has no text", nil)
	}

	if parsed.UsageMetadata == nil {
		return nil, providers.NewMalformedError(ProviderName, "response has no usage metadata", nil)
	}

	out := &providers.Completion{
		Content: text.String(),
		Model:   model,
		Usage: providers.TotalOf(providers.Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		}),
	}
	if parsed.ModelVersion != "" {
		out.Model = parsed.ModelVersion
	}
	return out, nil
}

func buildRequest(req *providers.GenerationRequest) *generateRequest {
	out := &generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
	}
	if req.SystemPrompt != "" {
		out.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		out.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return out
}

// classifyError handles Gemini's conventions before the generic mapping:
// an invalid key comes back as 400 with reason API_KEY_INVALID.
func classifyError(status int, body []byte) error {
	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)

	if status == http.StatusBadRequest {
		for _, d := range errResp.Error.Details {
			if d.Reason == "API_KEY_INVALID" {
				return providers.NewProviderError(ProviderName, providers.KindAuthentication, providers.CodeUnauthorized, errResp.Error.Message, status, nil)
			}
		}
	}

	provErr := providers.ClassifyStatus(ProviderName, status, errResp.Error.Message)
	if errResp.Error.Status == "RESOURCE_EXHAUSTED" {
		provErr.Kind = providers.KindTransient
		provErr.Code = providers.CodeQuotaExceeded
	}
	return provErr
}

func redact(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), key, "REDACTED"), cause: err}
}

type redactedError struct {
	msg   string
	cause error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.cause }

// Gemini wire types

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
	ModelVersion string `json:"modelVersion"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}
