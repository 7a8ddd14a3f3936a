// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"axonflow/gateway/common/usage"
	"axonflow/gateway/proxy/llm"
	"axonflow/gateway/proxy/pii"
	"axonflow/gateway/shared/logger"
	"axonflow/gateway/shared/types"
)

// stubAdapter records the outbound request and replies with a canned
// completion.
type stubAdapter struct {
	lastReq llm.ChatRequest
	reply   string
	err     error
}

func (s *stubAdapter) Name() string { return llm.ProviderOpenAI }

func (s *stubAdapter) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{
		ID:    "resp-1",
		Model: "gpt-4o-mini",
		Choices: []llm.Choice{
			{Message: llm.ChatMessage{Role: llm.RoleAssistant, Content: s.reply}, FinishReason: "stop"},
		},
		Usage:   &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Created: time.Now().Unix(),
	}, nil
}

func (s *stubAdapter) CalculateCost(model string, u llm.Usage) float64 { return 0.001 }

func newTestGateway(t *testing.T, rules []types.SecurityRule) (*Gateway, *stubAdapter) {
	t.Helper()

	backend := NewControlPlaneClient("http://control-plane:3001")
	mockHTTP := new(MockHTTPClient)
	backend.SetHTTPClient(mockHTTP)

	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.Path == "/api/v1/rules"
	})).Return(envelopeResponse(t, http.StatusOK, types.NewSuccessResponse("req", rules)), nil).Maybe()
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.Path == "/api/v1/config"
	})).Return(envelopeResponse(t, http.StatusOK, types.NewSuccessResponse("req", types.DefaultGatewayConfig("user-1"))), nil).Maybe()
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.Path == "/api/v1/usage"
	})).Return(envelopeResponse(t, http.StatusOK, types.NewSuccessResponse("req", nil)), nil).Maybe()

	log := logger.New("gateway-test")
	adapter := &stubAdapter{reply: "Hello!"}

	g := &Gateway{
		cfg: Config{
			JWTSecret:          []byte("test-secret"),
			RequestTimeout:     5 * time.Second,
			EnablePIIDetection: true,
			EnableRuleEngine:   true,
			FallbackToRegex:    true,
		},
		log:           log,
		auth:          newAuthenticator([]byte("test-secret")),
		limiter:       NewRateLimiter("", 60000, 100, log),
		backend:       backend,
		fallback:      pii.NewRegexDetector(),
		fileProviders: map[string]types.ProviderSettings{"OPENAI": {APIKey: "sk-test"}},
		newAdapter: func(provider string, cfg llm.AdapterConfig) (llm.Adapter, error) {
			return adapter, nil
		},
	}
	g.rulesCache = newTTLCache(rulesCacheTTL, backend.GetRules)
	g.configCache = newTTLCache(configCacheTTL, backend.GetConfig)
	g.recorder = usage.NewRecorder(backend, log)
	t.Cleanup(g.Close)

	return g, adapter
}

func doChat(t *testing.T, g *Gateway, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/proxy/chat", reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userIDHeader, "user-1")
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) types.APIResponse {
	t.Helper()
	var envelope types.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope
}

func TestHandleChat_HappyPathRestoresPII(t *testing.T) {
	g, adapter := newTestGateway(t, nil)
	adapter.reply = "I have sent the report to <EMAIL_1> as requested."

	rec := doChat(t, g, llm.ChatRequest{
		Provider: "OPENAI",
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: "Send the report to alice@example.com please"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	envelope := decodeEnvelope(t, rec)
	assert.True(t, envelope.Success)
	assert.NotEmpty(t, envelope.Meta.RequestID)

	data := envelope.Data.(map[string]interface{})
	assert.Equal(t, true, data["piiDetected"])
	assert.Equal(t, true, data["hasAnonymization"])

	choices := data["choices"].([]interface{})
	content := choices[0].(map[string]interface{})["message"].(map[string]interface{})["content"].(string)
	assert.Equal(t, "I have sent the report to alice@example.com as requested.", content)

	// The upstream provider must only ever see the placeholder.
	require.Len(t, adapter.lastReq.Messages, 1)
	assert.NotContains(t, adapter.lastReq.Messages[0].Content, "alice@example.com")
	assert.Contains(t, adapter.lastReq.Messages[0].Content, "<EMAIL_1>")
}

func TestHandleChat_NoPIIPassesThrough(t *testing.T) {
	g, adapter := newTestGateway(t, nil)

	rec := doChat(t, g, llm.ChatRequest{
		Provider: "OPENAI",
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: "What is the capital of France?"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	data := envelope.Data.(map[string]interface{})
	assert.Equal(t, false, data["piiDetected"])
	assert.Equal(t, false, data["hasAnonymization"])
	assert.Equal(t, "What is the capital of France?", adapter.lastReq.Messages[0].Content)
}

func TestHandleChat_BlockedByRule(t *testing.T) {
	g, adapter := newTestGateway(t, []types.SecurityRule{
		{ID: "r1", UserID: "user-1", Name: "No internal project names", Pattern: "project apollo", Action: types.ActionBlock, Enabled: true},
	})

	rec := doChat(t, g, llm.ChatRequest{
		Provider: "OPENAI",
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: "Summarize Project Apollo status"},
		},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.False(t, envelope.Success)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, types.CodeBlockedByPolicy, envelope.Error.Code)

	details := envelope.Error.Details.(map[string]interface{})
	warnings := details["warnings"].([]interface{})
	assert.Contains(t, warnings[0], "No internal project names")

	// A blocked request must never reach the provider.
	assert.Empty(t, adapter.lastReq.Messages)
}

func TestHandleChat_Unauthenticated(t *testing.T) {
	g, _ := newTestGateway(t, nil)

	body, _ := json.Marshal(llm.ChatRequest{
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/proxy/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, types.CodeAuthenticationError, envelope.Error.Code)
}

func TestHandleChat_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "{not json"},
		{"empty messages", llm.ChatRequest{Provider: "OPENAI"}},
		{"unsupported provider", llm.ChatRequest{
			Provider: "COHERE",
			Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
		}},
		{"invalid role", llm.ChatRequest{
			Provider: "OPENAI",
			Messages: []llm.ChatMessage{{Role: "robot", Content: "hi"}},
		}},
		{"system messages only", llm.ChatRequest{
			Provider: "OPENAI",
			Messages: []llm.ChatMessage{{Role: llm.RoleSystem, Content: "You are helpful."}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGateway(t, nil)
			rec := doChat(t, g, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			envelope := decodeEnvelope(t, rec)
			assert.Equal(t, types.CodeValidationError, envelope.Error.Code)
		})
	}
}

func TestHandleChat_RateLimited(t *testing.T) {
	g, _ := newTestGateway(t, nil)
	g.limiter = NewRateLimiter("", 60000, 1, g.log)

	body := llm.ChatRequest{
		Provider: "OPENAI",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	}
	require.Equal(t, http.StatusOK, doChat(t, g, body).Code)

	rec := doChat(t, g, body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, types.CodeRateLimitExceeded, envelope.Error.Code)
}

func TestHandleChat_ProviderError(t *testing.T) {
	g, adapter := newTestGateway(t, nil)
	adapter.err = &llm.ProviderError{Provider: "OPENAI", StatusCode: 500, Message: "upstream exploded"}

	rec := doChat(t, g, llm.ChatRequest{
		Provider: "OPENAI",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, types.CodeAIProviderError, envelope.Error.Code)
}

func TestHandleChat_ProductionSanitizesServerErrors(t *testing.T) {
	g, adapter := newTestGateway(t, nil)
	g.cfg.Environment = "production"
	adapter.err = errors.New("api key sk-live-secret leaked in this message")

	rec := doChat(t, g, llm.ChatRequest{
		Provider: "OPENAI",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, types.CodeAIProviderError, envelope.Error.Code)
	assert.NotContains(t, envelope.Error.Message, "sk-live-secret")
}

func TestHandleChat_ControlPlaneDownStillServes(t *testing.T) {
	backend := NewControlPlaneClient("http://control-plane:3001")
	mockHTTP := new(MockHTTPClient)
	backend.SetHTTPClient(mockHTTP)
	mockHTTP.On("Do", mock.Anything).Return(nil, errors.New("connection refused")).Maybe()

	log := logger.New("gateway-test")
	adapter := &stubAdapter{reply: "Hello!"}
	g := &Gateway{
		cfg: Config{
			JWTSecret:          []byte("test-secret"),
			RequestTimeout:     5 * time.Second,
			EnablePIIDetection: true,
			EnableRuleEngine:   true,
			FallbackToRegex:    true,
		},
		log:      log,
		auth:     newAuthenticator([]byte("test-secret")),
		limiter:  NewRateLimiter("", 60000, 100, log),
		backend:  backend,
		fallback: pii.NewRegexDetector(),
		newAdapter: func(provider string, cfg llm.AdapterConfig) (llm.Adapter, error) {
			return adapter, nil
		},
	}
	g.rulesCache = newTTLCache(rulesCacheTTL, backend.GetRules)
	g.configCache = newTTLCache(configCacheTTL, backend.GetConfig)
	g.recorder = usage.NewRecorder(backend, log)
	t.Cleanup(g.Close)

	rec := doChat(t, g, llm.ChatRequest{
		Provider: "OPENAI",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

// cancelThenReplyAdapter cancels the request context before answering, as
// if the deadline fired while the reply was already in flight.
type cancelThenReplyAdapter struct {
	stubAdapter
	cancel context.CancelFunc
}

func (a *cancelThenReplyAdapter) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	a.cancel()
	return a.stubAdapter.Chat(ctx, req)
}

func TestProcessChat_CancelledRequestWritesNoUsage(t *testing.T) {
	backend := NewControlPlaneClient("http://control-plane:3001")
	mockHTTP := new(MockHTTPClient)
	backend.SetHTTPClient(mockHTTP)

	var usageWrites atomic.Int32
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.Path == "/api/v1/usage"
	})).Run(func(mock.Arguments) {
		usageWrites.Add(1)
	}).Return(envelopeResponse(t, http.StatusOK, types.NewSuccessResponse("req", nil)), nil).Maybe()
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.Path == "/api/v1/rules"
	})).Return(envelopeResponse(t, http.StatusOK, types.NewSuccessResponse("req", []types.SecurityRule(nil))), nil).Maybe()
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.Path == "/api/v1/config"
	})).Return(envelopeResponse(t, http.StatusOK, types.NewSuccessResponse("req", types.DefaultGatewayConfig("user-1"))), nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.New("gateway-test")
	adapter := &cancelThenReplyAdapter{stubAdapter: stubAdapter{reply: "done"}, cancel: cancel}
	g := &Gateway{
		cfg: Config{
			JWTSecret:          []byte("test-secret"),
			RequestTimeout:     5 * time.Second,
			EnablePIIDetection: true,
			EnableRuleEngine:   true,
			FallbackToRegex:    true,
		},
		log:           log,
		auth:          newAuthenticator([]byte("test-secret")),
		limiter:       NewRateLimiter("", 60000, 100, log),
		backend:       backend,
		fallback:      pii.NewRegexDetector(),
		fileProviders: map[string]types.ProviderSettings{"OPENAI": {APIKey: "sk-test"}},
		newAdapter: func(provider string, cfg llm.AdapterConfig) (llm.Adapter, error) {
			return adapter, nil
		},
	}
	g.rulesCache = newTTLCache(rulesCacheTTL, backend.GetRules)
	g.configCache = newTTLCache(configCacheTTL, backend.GetConfig)
	g.recorder = usage.NewRecorder(backend, log)

	data, apiErr := g.processChat(withRequestID(ctx, "req-1"), "user-1", "req-1", llm.ChatRequest{
		Provider: "OPENAI",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})

	require.Nil(t, apiErr)
	require.NotNil(t, data)

	// Drain any pending deliveries before asserting nothing was metered.
	g.Close()
	assert.Zero(t, usageWrites.Load())
}

func TestHandleChat_DefaultProviderFromConfig(t *testing.T) {
	g, _ := newTestGateway(t, nil)

	var resolvedProvider string
	g.newAdapter = func(provider string, cfg llm.AdapterConfig) (llm.Adapter, error) {
		resolvedProvider = provider
		return &stubAdapter{reply: "ok"}, nil
	}

	rec := doChat(t, g, llm.ChatRequest{
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OPENAI", resolvedProvider)
}

func TestHandleHealth(t *testing.T) {
	g, _ := newTestGateway(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	g.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "axonflow-gateway", body["service"])
	assert.NotEmpty(t, body["timestamp"])
}
