// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

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

// MockHTTPClient is a mock implementation of the providers' HTTP client.
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

func jsonBody(t *testing.T, req *http.Request, out any) {
	t.Helper()
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	req.Body = io.NopCloser(bytes.NewReader(body))
	require.NoError(t, json.Unmarshal(body, out))
}

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestOpenAIAdapter_PassesMessagesThrough(t *testing.T) {
	client := new(MockHTTPClient)
	var sent struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	client.On("Do", mock.Anything).Run(func(args mock.Arguments) {
		jsonBody(t, args.Get(0).(*http.Request), &sent)
	}).Return(okResponse(`{
		"id": "chatcmpl-9",
		"created": 1700000003,
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "4"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
	}`), nil)

	adapter, err := newOpenAIAdapter(AdapterConfig{APIKey: "k"})
	require.NoError(t, err)
	adapter.provider.SetHTTPClient(client)

	resp, err := adapter.Chat(context.Background(), ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "2+2?"},
		},
	})

	require.NoError(t, err)
	// System messages stay inline for OpenAI-shaped APIs.
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "system", sent.Messages[0].Role)
	assert.Equal(t, "chatcmpl-9", resp.ID)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestClaudeAdapter_SplitsSystemMessage(t *testing.T) {
	client := new(MockHTTPClient)
	var sent struct {
		System   string `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}
	client.On("Do", mock.Anything).Run(func(args mock.Arguments) {
		jsonBody(t, args.Get(0).(*http.Request), &sent)
	}).Return(okResponse(`{
		"id": "msg_02",
		"model": "claude-3-5-sonnet-20241022",
		"content": [{"type": "text", "text": "four"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 7, "output_tokens": 3}
	}`), nil)

	adapter, err := newClaudeAdapter(AdapterConfig{APIKey: "k"})
	require.NoError(t, err)
	adapter.provider.SetHTTPClient(client)

	resp, err := adapter.Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "2+2?"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "be terse", sent.System)
	require.Len(t, sent.Messages, 1)
	assert.Equal(t, "user", sent.Messages[0].Role)

	// input + output sum into the normalized total.
	assert.Equal(t, 7, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, "four", resp.Choices[0].Message.Content)
}

func TestGeminiAdapter_MapsRolesAndUsage(t *testing.T) {
	client := new(MockHTTPClient)
	var sent struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
	}
	client.On("Do", mock.Anything).Run(func(args mock.Arguments) {
		jsonBody(t, args.Get(0).(*http.Request), &sent)
	}).Return(okResponse(`{
		"candidates": [{"content": {"role": "model", "parts": [{"text": "four"}]}, "finishReason": "STOP"}],
		"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 1, "totalTokenCount": 10},
		"modelVersion": "gemini-2.0-flash"
	}`), nil)

	adapter, err := newGeminiAdapter(AdapterConfig{APIKey: "k"})
	require.NoError(t, err)
	adapter.provider.SetHTTPClient(client)

	resp, err := adapter.Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "2+2?"},
			{Role: RoleAssistant, Content: "it is 4"},
			{Role: RoleUser, Content: "again?"},
		},
	})

	require.NoError(t, err)
	require.NotNil(t, sent.SystemInstruction)
	assert.Equal(t, "be terse", sent.SystemInstruction.Parts[0].Text)
	require.Len(t, sent.Contents, 3)
	assert.Equal(t, "user", sent.Contents[0].Role)
	assert.Equal(t, "model", sent.Contents[1].Role)
	assert.Equal(t, "user", sent.Contents[2].Role)

	assert.Equal(t, RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.ID)
}

func TestAdapterErrorsWrapProvider(t *testing.T) {
	client := new(MockHTTPClient)
	client.On("Do", mock.Anything).Return(&http.Response{
		StatusCode: http.StatusInternalServerError,
		Body:       io.NopCloser(strings.NewReader(`{"error": {"message": "upstream exploded", "type": "server_error"}}`)),
	}, nil)

	adapter, err := newOpenAIAdapter(AdapterConfig{APIKey: "k"})
	require.NoError(t, err)
	adapter.provider.SetHTTPClient(client)

	_, err = adapter.Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}},
	})

	require.Error(t, err)
	provErr, ok := err.(*ProviderError)
	require.True(t, ok)
	assert.Equal(t, ProviderOpenAI, provErr.Provider)
	assert.Equal(t, http.StatusInternalServerError, provErr.StatusCode)
	assert.Contains(t, provErr.Message, "upstream exploded")
}

func TestCalculateCost(t *testing.T) {
	adapter, err := newOpenAIAdapter(AdapterConfig{APIKey: "k"})
	require.NoError(t, err)

	usage := Usage{PromptTokens: 1000, CompletionTokens: 1000}
	assert.InDelta(t, 0.0125, adapter.CalculateCost("gpt-4o", usage), 1e-9)

	// Unknown models bill at the default row instead of zero.
	assert.InDelta(t, 0.0125, adapter.CalculateCost("gpt-99", usage), 1e-9)

	claude, err := newClaudeAdapter(AdapterConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.InDelta(t, 0.018, claude.CalculateCost("claude-3-5-sonnet-20241022", usage), 1e-9)

	zero := Usage{}
	assert.Zero(t, claude.CalculateCost("claude-3-5-sonnet-20241022", zero))
}
