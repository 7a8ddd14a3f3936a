// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"fmt"
)

// Provider identifiers accepted in the proxy request's provider field.
const (
	ProviderOpenAI = "OPENAI"
	ProviderClaude = "CLAUDE"
	ProviderGemini = "GEMINI"
)

// Message roles in the normalized shape.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-independent chat completion request.
type ChatRequest struct {
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"maxTokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Usage is normalized token accounting. Providers that report input/output
// pairs have total computed as their sum.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Choice is one completion alternative.
type Choice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finishReason,omitempty"`
}

// ChatResponse is the provider-independent chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// StreamHandler receives stream chunks. Returning an error aborts the stream.
type StreamHandler func(chunk StreamChunk) error

// ProviderError wraps any upstream failure with the provider name. No retry
// happens at this layer; the caller maps it to AI_PROVIDER_ERROR.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}

// Adapter is a normalized client for one upstream provider.
type Adapter interface {
	// Name returns the provider identifier (e.g. OPENAI).
	Name() string

	// Chat performs a non-streaming completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// CalculateCost prices a completed request in USD from its usage.
	CalculateCost(model string, usage Usage) float64
}

// StreamingAdapter is implemented by adapters that support streamed chat.
type StreamingAdapter interface {
	Adapter

	// ChatStream performs a streaming completion, invoking handler per chunk,
	// and returns the accumulated response.
	ChatStream(ctx context.Context, req ChatRequest, handler StreamHandler) (*ChatResponse, error)
}

// ModelPricing is USD per 1K tokens for one model.
type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// costFor prices usage against a table. Unknown models use the table's
// "default" row so cost attribution never silently drops to zero.
func costFor(table map[string]ModelPricing, model string, usage Usage) float64 {
	pricing, ok := table[model]
	if !ok {
		pricing = table["default"]
	}
	return float64(usage.PromptTokens)/1000.0*pricing.InputPer1K +
		float64(usage.CompletionTokens)/1000.0*pricing.OutputPer1K
}
