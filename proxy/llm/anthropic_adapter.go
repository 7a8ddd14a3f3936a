// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"errors"
	"time"

	"axonflow/gateway/proxy/llm/anthropic"
)

// claudePricing is USD per 1K tokens. Unknown models bill at the default
// row, which tracks the Sonnet tier.
var claudePricing = map[string]ModelPricing{
	"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-sonnet-4-20250514":   {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-opus-20240229":     {InputPer1K: 0.015, OutputPer1K: 0.075},
	"claude-3-haiku-20240307":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	"claude-3-5-haiku-20241022":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
	"default":                    {InputPer1K: 0.003, OutputPer1K: 0.015},
}

// claudeAdapter normalizes the Anthropic messages API: the first system
// message moves to the dedicated system field, and input/output token
// counts are summed into a total.
type claudeAdapter struct {
	provider *anthropic.Provider
}

func newClaudeAdapter(cfg AdapterConfig) (*claudeAdapter, error) {
	provider, err := anthropic.NewProvider(anthropic.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &claudeAdapter{provider: provider}, nil
}

func (a *claudeAdapter) Name() string {
	return ProviderClaude
}

func (a *claudeAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	apiReq := anthropic.MessageRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	// The messages API rejects system roles inside the conversation; the
	// first system message becomes the dedicated field, any further ones
	// stay inline and would be rejected upstream, matching the contract
	// that a request carries at most one system instruction.
	for _, m := range req.Messages {
		if m.Role == RoleSystem && apiReq.System == "" {
			apiReq.System = m.Content
			continue
		}
		apiReq.Messages = append(apiReq.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := a.provider.CreateMessage(ctx, apiReq)
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{Provider: ProviderClaude, StatusCode: apiErr.StatusCode, Message: apiErr.Message}
		}
		return nil, &ProviderError{Provider: ProviderClaude, Message: err.Error()}
	}

	total := resp.Usage.InputTokens + resp.Usage.OutputTokens
	return &ChatResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: time.Now().Unix(),
		Choices: []Choice{{
			Message:      ChatMessage{Role: RoleAssistant, Content: resp.Text()},
			FinishReason: mapClaudeStopReason(resp.StopReason),
		}},
		Usage: &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      total,
		},
	}, nil
}

func (a *claudeAdapter) CalculateCost(model string, usage Usage) float64 {
	return costFor(claudePricing, model, usage)
}

func mapClaudeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
