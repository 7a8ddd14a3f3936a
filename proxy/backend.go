// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"axonflow/gateway/common/usage"
	"axonflow/gateway/shared/types"
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ControlPlaneClient talks to the control plane's internal API. It carries
// the user identity in the trusted User-ID header and implements usage.Sink
// for the fire-and-forget usage path.
type ControlPlaneClient struct {
	baseURL string
	client  HTTPClient
}

// NewControlPlaneClient creates a client for the control plane at baseURL.
func NewControlPlaneClient(baseURL string) *ControlPlaneClient {
	return &ControlPlaneClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SetHTTPClient sets a custom HTTP client for testing.
func (c *ControlPlaneClient) SetHTTPClient(client HTTPClient) {
	c.client = client
}

// GetRules fetches the user's security rules.
func (c *ControlPlaneClient) GetRules(ctx context.Context, userID string) ([]types.SecurityRule, error) {
	var rules []types.SecurityRule
	if err := c.call(ctx, http.MethodGet, "/api/v1/rules", userID, nil, &rules); err != nil {
		return nil, fmt.Errorf("fetch rules: %w", err)
	}
	return rules, nil
}

// GetConfig fetches the user's gateway configuration. The control plane
// auto-creates defaults on first read, so a success always carries a config.
func (c *ControlPlaneClient) GetConfig(ctx context.Context, userID string) (types.GatewayConfig, error) {
	var cfg types.GatewayConfig
	if err := c.call(ctx, http.MethodGet, "/api/v1/config", userID, nil, &cfg); err != nil {
		return types.GatewayConfig{}, fmt.Errorf("fetch config: %w", err)
	}
	return cfg, nil
}

// RecordUsage writes one usage record. Implements usage.Sink.
func (c *ControlPlaneClient) RecordUsage(ctx context.Context, record usage.Record) error {
	if err := c.call(ctx, http.MethodPost, "/api/v1/usage", record.UserID, record, nil); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// call performs one round trip and unwraps the response envelope into out.
func (c *ControlPlaneClient) call(ctx context.Context, method, path, userID string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userIDHeader, userID)
	if requestID := requestIDFromContext(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *types.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("control plane returned status %d with unreadable body: %w", resp.StatusCode, err)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return envelope.Error
		}
		return fmt.Errorf("control plane returned status %d", resp.StatusCode)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
