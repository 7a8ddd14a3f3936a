// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockHTTPClient is a mock implementation of HTTPClient
type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

func newTestProvider(t *testing.T, client HTTPClient) *Provider {
	t.Helper()
	p, err := NewProvider(Config{APIKey: "test-key"})
	require.NoError(t, err)
	p.SetHTTPClient(client)
	return p
}

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.Error(t, err)

	p, err := NewProvider(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.Model())
}

func TestChatCompletion(t *testing.T) {
	respBody := `{
		"id": "chatcmpl-123",
		"object": "chat.completion",
		"created": 1700000001,
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "4"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 1, "total_tokens": 13}
	}`

	client := new(MockHTTPClient)
	client.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		if req.URL.Path != "/v1/chat/completions" {
			return false
		}
		if req.Header.Get("Authorization") != "Bearer test-key" {
			return false
		}
		body, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(body))
		var sent ChatRequest
		if err := json.Unmarshal(body, &sent); err != nil {
			return false
		}
		return sent.Model == "gpt-4o-mini" && len(sent.Messages) == 1 && !sent.Stream
	})).Return(&http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(respBody)),
	}, nil)

	p := newTestProvider(t, client)
	resp, err := p.ChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "What is 2+2?"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-123", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "4", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
}

func TestChatCompletion_APIError(t *testing.T) {
	client := new(MockHTTPClient)
	client.On("Do", mock.Anything).Return(&http.Response{
		StatusCode: http.StatusUnauthorized,
		Body:       io.NopCloser(strings.NewReader(`{"error": {"message": "Incorrect API key", "type": "invalid_request_error", "code": "invalid_api_key"}}`)),
	}, nil)

	p := newTestProvider(t, client)
	_, err := p.ChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid_api_key", apiErr.Code)
	assert.Equal(t, "Incorrect API key", apiErr.Message)
}

func TestChatCompletionStream(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"id":"chatcmpl-1","created":1700000002,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
		`data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
		``,
	}, "\n\n")

	client := new(MockHTTPClient)
	client.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		body, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(body))
		var sent ChatRequest
		if err := json.Unmarshal(body, &sent); err != nil {
			return false
		}
		return sent.Stream
	})).Return(&http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(sse)),
	}, nil)

	p := newTestProvider(t, client)
	var chunks []string
	var done bool
	resp, err := p.ChatCompletionStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(chunk StreamChunk) error {
		if chunk.Done {
			done = true
			return nil
		}
		chunks = append(chunks, chunk.Content)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.True(t, done)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, "chatcmpl-1", resp.ID)
}

func TestChatCompletion_NetworkError(t *testing.T) {
	client := new(MockHTTPClient)
	client.On("Do", mock.Anything).Return(nil, assert.AnError)

	p := newTestProvider(t, client)
	_, err := p.ChatCompletion(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	assert.Error(t, err)
}
