// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"errors"

	"axonflow/gateway/proxy/llm/openai"
)

// openAIPricing is USD per 1K tokens. Unknown models bill at the default
// row, which tracks gpt-4o.
var openAIPricing = map[string]ModelPricing{
	"gpt-4o":        {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":   {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4-turbo":   {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-4":         {InputPer1K: 0.03, OutputPer1K: 0.06},
	"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"default":       {InputPer1K: 0.0025, OutputPer1K: 0.01},
}

// openAIAdapter normalizes the OpenAI chat completions API. Messages pass
// through unchanged and usage fields map directly.
type openAIAdapter struct {
	provider *openai.Provider
}

func newOpenAIAdapter(cfg AdapterConfig) (*openAIAdapter, error) {
	provider, err := openai.NewProvider(openai.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &openAIAdapter{provider: provider}, nil
}

func (a *openAIAdapter) Name() string {
	return ProviderOpenAI
}

func (a *openAIAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := a.provider.ChatCompletion(ctx, a.buildRequest(req))
	if err != nil {
		return nil, openAIProviderError(err)
	}
	return normalizeOpenAI(resp), nil
}

func (a *openAIAdapter) ChatStream(ctx context.Context, req ChatRequest, handler StreamHandler) (*ChatResponse, error) {
	resp, err := a.provider.ChatCompletionStream(ctx, a.buildRequest(req), func(chunk openai.StreamChunk) error {
		return handler(StreamChunk{Content: chunk.Content, Done: chunk.Done})
	})
	if err != nil {
		return nil, openAIProviderError(err)
	}
	return normalizeOpenAI(resp), nil
}

func (a *openAIAdapter) CalculateCost(model string, usage Usage) float64 {
	return costFor(openAIPricing, model, usage)
}

func (a *openAIAdapter) buildRequest(req ChatRequest) openai.ChatRequest {
	messages := make([]openai.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.Message{Role: m.Role, Content: m.Content})
	}
	return openai.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}

func normalizeOpenAI(resp *openai.ChatResponse) *ChatResponse {
	choices := make([]Choice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, Choice{
			Message:      ChatMessage{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: c.FinishReason,
		})
	}
	return &ChatResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: resp.Created,
		Choices: choices,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

func openAIProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: ProviderOpenAI, StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return &ProviderError{Provider: ProviderOpenAI, Message: err.Error()}
}
