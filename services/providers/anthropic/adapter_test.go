package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/services/providers"
)

var testDescriptor = providers.ProviderDescriptor{
	Name:            ProviderName,
	SupportedModels: []string{"claude-3-5-haiku-latest", "claude-sonnet-4-0"},
	DefaultModel:    "claude-3-5-haiku-latest",
}

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAdapter(providers.ProviderConfig{
		APIKey:  "sk-ant-test",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})
}

func TestAdapter_Call(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-3-5-haiku-latest", body["model"])
		assert.EqualValues(t, 256, body["max_tokens"])
		assert.EqualValues(t, 0.2, body["temperature"])
		system, ok := body["system"].([]any)
		require.True(t, ok, "system prompt should be sent as text blocks")
		assert.Equal(t, "Answer tersely", system[0].(map[string]any)["text"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-20241022",
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`))
	})

	temperature := 0.2
	maxTokens := 256
	out, err := adapter.Call(context.Background(), testDescriptor, &providers.GenerationRequest{
		Prompt:       "Hi",
		Model:        "gpt-4o",
		SystemPrompt: "Answer tersely",
		Temperature:  &temperature,
		MaxTokens:    &maxTokens,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", out.Content)
	assert.Equal(t, "claude-3-5-haiku-20241022", out.Model)
	assert.Equal(t, providers.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17}, out.Usage)
}

func TestAdapter_Call_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  providers.ErrorKind
		retryable bool
	}{
		{
			name:     "invalid key",
			status:   http.StatusUnauthorized,
			body:     `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantKind: providers.KindAuthentication,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`,
			wantKind:  providers.KindTransient,
			retryable: true,
		},
		{
			name:      "overloaded",
			status:    529,
			body:      `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			wantKind:  providers.KindTransient,
			retryable: true,
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`,
			wantKind: providers.KindInvalidRequest,
		},
		{
			name:      "missing usage",
			status:    http.StatusOK,
			body:      `{"id":"msg_03","type":"message","role":"assistant","model":"claude-3-5-haiku-latest","content":[{"type":"text","text":"hi"}]}`,
			wantKind:  providers.KindMalformedResponse,
			retryable: true,
		},
		{
			name:      "no text content",
			status:    http.StatusOK,
			body:      `{"id":"msg_02","type":"message","role":"assistant","model":"claude-3-5-haiku-latest","content":[],"usage":{"input_tokens":3,"output_tokens":0}}`,
			wantKind:  providers.KindMalformedResponse,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := adapter.Call(context.Background(), testDescriptor, &providers.GenerationRequest{Prompt: "x"})
			require.Error(t, err)

			var provErr *providers.ProviderError
			require.True(t, errors.As(err, &provErr), "got %T", err)
			assert.Equal(t, ProviderName, provErr.Provider)
			assert.Equal(t, tt.wantKind, provErr.Kind)
			assert.Equal(t, tt.retryable, provErr.Retryable())
		})
	}
}

func TestAdapter_Call_UnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	adapter := NewAdapter(providers.ProviderConfig{APIKey: "k", BaseURL: url, Timeout: time.Second})
	_, err := adapter.Call(context.Background(), testDescriptor, &providers.GenerationRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, providers.IsRetryable(err))
}

func TestAdapter_DescriptorEndpointOverrides(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/proxy/v1/messages", r.URL.Path)
		assert.Equal(t, "tools-2024-04-04", r.Header.Get("Anthropic-Beta"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_04","type":"message","role":"assistant","model":"claude-3-5-haiku-latest","content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer server.Close()

	adapter := NewAdapter(providers.ProviderConfig{
		APIKey:  "k",
		BaseURL: "http://127.0.0.1:1",
		Timeout: 5 * time.Second,
		Headers: map[string]string{"Anthropic-Beta": "tools-2024-04-04"},
	})
	desc := testDescriptor
	desc.Endpoint = server.URL + "/proxy"

	out, err := adapter.Call(context.Background(), desc, &providers.GenerationRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Content)
	assert.Equal(t, 2, out.Usage.TotalTokens)
}
