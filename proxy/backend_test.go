// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"axonflow/gateway/common/usage"
	"axonflow/gateway/shared/types"
)

// MockHTTPClient is a mock implementation of HTTPClient for testing.
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

func envelopeResponse(t *testing.T, status int, envelope types.APIResponse) *http.Response {
	t.Helper()
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestControlPlaneClient_GetRules(t *testing.T) {
	client := NewControlPlaneClient("http://control-plane:3001/")
	mockHTTP := new(MockHTTPClient)
	client.SetHTTPClient(mockHTTP)

	rules := []types.SecurityRule{
		{ID: "r1", UserID: "user-1", Name: "Block secrets", Pattern: "(?i)password", Action: types.ActionBlock, Enabled: true},
	}
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.Method == http.MethodGet &&
			req.URL.String() == "http://control-plane:3001/api/v1/rules" &&
			req.Header.Get(userIDHeader) == "user-1"
	})).Return(envelopeResponse(t, http.StatusOK, types.NewSuccessResponse("req-1", rules)), nil)

	got, err := client.GetRules(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Block secrets", got[0].Name)
	assert.Equal(t, types.ActionBlock, got[0].Action)
	mockHTTP.AssertExpectations(t)
}

func TestControlPlaneClient_GetConfig(t *testing.T) {
	client := NewControlPlaneClient("http://control-plane:3001")
	mockHTTP := new(MockHTTPClient)
	client.SetHTTPClient(mockHTTP)

	cfg := types.DefaultGatewayConfig("user-1")
	cfg.DefaultProvider = "CLAUDE"
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.URL.Path == "/api/v1/config" && req.Header.Get(userIDHeader) == "user-1"
	})).Return(envelopeResponse(t, http.StatusOK, types.NewSuccessResponse("req-1", cfg)), nil)

	got, err := client.GetConfig(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "CLAUDE", got.DefaultProvider)
	assert.True(t, got.EnablePIIDetection)
}

func TestControlPlaneClient_ErrorEnvelope(t *testing.T) {
	client := NewControlPlaneClient("http://control-plane:3001")
	mockHTTP := new(MockHTTPClient)
	client.SetHTTPClient(mockHTTP)

	envelope := types.NewErrorResponse("req-1", types.NewAPIError(types.CodeInternalError, "database unavailable"))
	mockHTTP.On("Do", mock.Anything).Return(envelopeResponse(t, http.StatusInternalServerError, envelope), nil)

	_, err := client.GetRules(context.Background(), "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestControlPlaneClient_RecordUsage(t *testing.T) {
	client := NewControlPlaneClient("http://control-plane:3001")
	mockHTTP := new(MockHTTPClient)
	client.SetHTTPClient(mockHTTP)

	var sent usage.Record
	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		if req.Method != http.MethodPost || req.URL.Path != "/api/v1/usage" {
			return false
		}
		body, _ := io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(body))
		return json.Unmarshal(body, &sent) == nil
	})).Return(envelopeResponse(t, http.StatusOK, types.NewSuccessResponse("req-1", nil)), nil)

	record := usage.Record{
		UserID:      "user-1",
		Provider:    "OPENAI",
		Model:       "gpt-4o-mini",
		TotalTokens: 42,
		Cost:        0.0005,
		RequestID:   "req-abc",
	}
	require.NoError(t, client.RecordUsage(context.Background(), record))
	assert.Equal(t, "user-1", sent.UserID)
	assert.Equal(t, 42, sent.TotalTokens)
	assert.Equal(t, "req-abc", sent.RequestID)
}

func TestControlPlaneClient_PropagatesRequestID(t *testing.T) {
	client := NewControlPlaneClient("http://control-plane:3001")
	mockHTTP := new(MockHTTPClient)
	client.SetHTTPClient(mockHTTP)

	mockHTTP.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.Header.Get("X-Request-ID") == "req-xyz"
	})).Return(envelopeResponse(t, http.StatusOK, types.NewSuccessResponse("req-xyz", []types.SecurityRule{})), nil)

	ctx := withRequestID(context.Background(), "req-xyz")
	_, err := client.GetRules(ctx, "user-1")
	require.NoError(t, err)
	mockHTTP.AssertExpectations(t)
}

func TestControlPlaneClient_UnreadableBody(t *testing.T) {
	client := NewControlPlaneClient("http://control-plane:3001")
	mockHTTP := new(MockHTTPClient)
	client.SetHTTPClient(mockHTTP)

	mockHTTP.On("Do", mock.Anything).Return(&http.Response{
		StatusCode: http.StatusBadGateway,
		Body:       io.NopCloser(bytes.NewReader([]byte("<html>502</html>"))),
	}, nil)

	_, err := client.GetConfig(context.Background(), "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
