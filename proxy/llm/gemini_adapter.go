// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"axonflow/gateway/proxy/llm/gemini"
)

// geminiPricing is USD per 1K tokens. Unknown models bill at the default
// row, which tracks the Pro tier.
var geminiPricing = map[string]ModelPricing{
	"gemini-2.0-flash":      {InputPer1K: 0.0001, OutputPer1K: 0.0004},
	"gemini-2.0-flash-lite": {InputPer1K: 0.000075, OutputPer1K: 0.0003},
	"gemini-2.5-flash":      {InputPer1K: 0.0003, OutputPer1K: 0.0025},
	"gemini-1.5-pro":        {InputPer1K: 0.00125, OutputPer1K: 0.005},
	"gemini-1.5-flash":      {InputPer1K: 0.000075, OutputPer1K: 0.0003},
	"default":               {InputPer1K: 0.00125, OutputPer1K: 0.005},
}

// geminiAdapter normalizes the Gemini generateContent API: the system
// message becomes the systemInstruction, assistant turns map to the model
// role, and usage comes from the response's usageMetadata. Gemini assigns
// no response ID, so the adapter mints one.
type geminiAdapter struct {
	provider *gemini.Provider
}

func newGeminiAdapter(cfg AdapterConfig) (*geminiAdapter, error) {
	provider, err := gemini.NewProvider(gemini.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Endpoint,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &geminiAdapter{provider: provider}, nil
}

func (a *geminiAdapter) Name() string {
	return ProviderGemini
}

func (a *geminiAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	apiReq := gemini.GenerateRequest{}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if apiReq.SystemInstruction == nil {
				apiReq.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: m.Content}}}
			}
		case RoleAssistant:
			apiReq.Contents = append(apiReq.Contents, gemini.Content{
				Role:  gemini.RoleModel,
				Parts: []gemini.Part{{Text: m.Content}},
			})
		default:
			apiReq.Contents = append(apiReq.Contents, gemini.Content{
				Role:  gemini.RoleUser,
				Parts: []gemini.Part{{Text: m.Content}},
			})
		}
	}

	if req.Temperature != nil || req.MaxTokens != nil {
		apiReq.GenerationConfig = &gemini.GenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	resp, err := a.provider.GenerateContent(ctx, req.Model, apiReq)
	if err != nil {
		var apiErr *gemini.APIError
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{Provider: ProviderGemini, StatusCode: apiErr.StatusCode, Message: apiErr.Message}
		}
		return nil, &ProviderError{Provider: ProviderGemini, Message: err.Error()}
	}
	if len(resp.Candidates) == 0 {
		return nil, &ProviderError{Provider: ProviderGemini, Message: "response contained no candidates"}
	}

	model := resp.ModelVersion
	if model == "" {
		model = req.Model
	}
	if model == "" {
		model = a.provider.Model()
	}

	candidate := resp.Candidates[0]
	return &ChatResponse{
		ID:      "gemini-" + uuid.NewString(),
		Model:   model,
		Created: time.Now().Unix(),
		Choices: []Choice{{
			Message:      ChatMessage{Role: RoleAssistant, Content: candidate.Text()},
			FinishReason: mapGeminiFinishReason(candidate.FinishReason),
		}},
		Usage: &Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (a *geminiAdapter) CalculateCost(model string, usage Usage) float64 {
	return costFor(geminiPricing, model, usage)
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "":
		return ""
	default:
		return strings.ToLower(reason)
	}
}
