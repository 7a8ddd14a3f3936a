// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"context"
	"errors"

	"axonflow/gateway/common/usage"
	"axonflow/gateway/proxy/llm"
	"axonflow/gateway/proxy/pii"
	"axonflow/gateway/proxy/ruleengine"
	"axonflow/gateway/proxy/security"
	"axonflow/gateway/shared/logger"
	"axonflow/gateway/shared/types"
)

// Gateway wires the data plane together: caches, security pipeline,
// provider dispatch, and usage recording.
type Gateway struct {
	cfg  Config
	log  *logger.Logger
	auth *authenticator

	limiter     *RateLimiter
	backend     *ControlPlaneClient
	rulesCache  *ttlCache[[]types.SecurityRule]
	configCache *ttlCache[types.GatewayConfig]
	recorder    *usage.Recorder

	detector pii.Detector // nil when no analyzer/anonymizer is configured
	fallback pii.Detector

	fileProviders map[string]types.ProviderSettings

	// newAdapter is swapped out by tests.
	newAdapter func(provider string, cfg llm.AdapterConfig) (llm.Adapter, error)
}

// NewGateway builds the data plane from its process configuration.
func NewGateway(cfg Config, log *logger.Logger) (*Gateway, error) {
	backend := NewControlPlaneClient(cfg.BackendURL)

	fileProviders, err := loadProviderFile(cfg.ProviderConfigFile)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:           cfg,
		log:           log,
		auth:          newAuthenticator(cfg.JWTSecret),
		limiter:       NewRateLimiter(cfg.RedisURL, cfg.RateLimitWindowMs, cfg.RateLimitMaxRequests, log),
		backend:       backend,
		fallback:      pii.NewRegexDetector(),
		fileProviders: fileProviders,
		newAdapter:    llm.NewAdapter,
	}
	g.rulesCache = newTTLCache(rulesCacheTTL, backend.GetRules)
	g.configCache = newTTLCache(configCacheTTL, backend.GetConfig)
	g.recorder = usage.NewRecorder(backend, log)

	if cfg.PIIAnalyzerURL != "" && cfg.PIIAnonymizerURL != "" {
		detector, err := pii.NewServiceDetector(pii.ServiceConfig{
			AnalyzerURL:   cfg.PIIAnalyzerURL,
			AnonymizerURL: cfg.PIIAnonymizerURL,
			Language:      cfg.PIILanguage,
		})
		if err != nil {
			return nil, err
		}
		g.detector = detector
	}

	return g, nil
}

// Close flushes in-flight usage deliveries.
func (g *Gateway) Close() {
	g.recorder.Close()
}

// chatData is the success payload of the chat endpoint: the normalized
// response plus the two security flags.
type chatData struct {
	llm.ChatResponse
	HasAnonymization bool `json:"hasAnonymization"`
	PIIDetected      bool `json:"piiDetected"`
}

// processChat runs one authenticated chat request end to end.
func (g *Gateway) processChat(ctx context.Context, userID, requestID string, req llm.ChatRequest) (*chatData, *types.APIError) {
	// Rules and config come through the caches; either failing degrades to
	// safe defaults rather than failing the request.
	rules, err := g.rulesCache.Get(ctx, userID)
	if err != nil {
		g.log.Warn(userID, requestID, "rules unavailable, evaluating with empty rule set", map[string]interface{}{
			"error": err.Error(),
		})
		rules = nil
	}
	userCfg, err := g.configCache.Get(ctx, userID)
	if err != nil {
		g.log.Warn(userID, requestID, "config unavailable, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
		userCfg = types.DefaultGatewayConfig(userID)
	}

	processor := security.NewProcessor(security.Config{
		Detector:               g.detector,
		Fallback:               g.fallback,
		Engine:                 ruleengine.New(userID, rules, g.log),
		EnablePIIDetection:     g.cfg.EnablePIIDetection && userCfg.EnablePIIDetection,
		EnableRuleEngine:       g.cfg.EnableRuleEngine && userCfg.EnableRuleEngine,
		FallbackToRegex:        g.cfg.FallbackToRegex,
		BlockOnSecurityFailure: g.cfg.BlockOnSecurityFailure,
		Logger:                 g.log,
		UserID:                 userID,
		RequestID:              requestID,
	})

	// One token map per request keeps placeholders unique across messages.
	// Messages are processed strictly in order: later turns may reference
	// placeholders introduced by earlier ones.
	tokens := pii.NewTokenMap()
	processed := make([]llm.ChatMessage, 0, len(req.Messages))
	var lastMappings []pii.TokenMapping
	var rulesTriggered []string
	var piiDetected, hasAnonymization bool
	var processingMs float64

	for _, msg := range req.Messages {
		result, err := processor.ProcessText(ctx, msg.Content, tokens)
		if err != nil {
			var blocked *security.BlockedError
			if errors.As(err, &blocked) {
				promBlockedRequests.Inc()
				return nil, types.NewAPIError(types.CodeBlockedByPolicy, "request blocked by security rules").
					WithDetails(map[string]interface{}{"warnings": blocked.Warnings})
			}
			var apiErr *types.APIError
			if errors.As(err, &apiErr) {
				return nil, apiErr
			}
			return nil, types.NewAPIError(types.CodeInternalError, err.Error())
		}

		processed = append(processed, llm.ChatMessage{Role: msg.Role, Content: result.ProcessedText})
		processingMs += result.ProcessingTimeMs
		rulesTriggered = appendUnique(rulesTriggered, result.AppliedRuleIDs)
		if len(result.Matches) > 0 {
			piiDetected = true
			promPIIMatches.Add(float64(len(result.Matches)))
		}
		if len(result.Mappings) > 0 {
			hasAnonymization = true
			lastMappings = result.Mappings
		}
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = userCfg.DefaultProvider
	}
	adapter, err := g.newAdapter(providerName, resolveAdapterConfig(providerName, g.fileProviders, userCfg))
	if err != nil {
		return nil, types.NewAPIError(types.CodeValidationError, err.Error())
	}

	outbound := req
	outbound.Provider = providerName
	outbound.Messages = processed

	resp, err := g.dispatch(ctx, adapter, outbound)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewAPIError(types.CodeInternalError, "request deadline exceeded")
		}
		var provErr *llm.ProviderError
		if errors.As(err, &provErr) {
			return nil, types.NewAPIError(types.CodeAIProviderError, provErr.Error())
		}
		return nil, types.NewAPIError(types.CodeAIProviderError, err.Error())
	}

	// De-anonymize the reply with the most recent non-empty mapping set:
	// the context closest to what the model saw for the last user turn.
	if len(lastMappings) > 0 {
		for i := range resp.Choices {
			resp.Choices[i].Message.Content = processor.RestoreText(resp.Choices[i].Message.Content, lastMappings)
		}
	}

	var cost float64
	var inputTokens, outputTokens, totalTokens int
	if resp.Usage != nil {
		cost = adapter.CalculateCost(resp.Model, *resp.Usage)
		inputTokens = resp.Usage.PromptTokens
		outputTokens = resp.Usage.CompletionTokens
		totalTokens = resp.Usage.TotalTokens
	}

	// A cancelled request must not meter; everything else is fire-and-forget.
	if ctx.Err() == nil {
		g.recorder.Record(usage.Record{
			UserID:           userID,
			Provider:         providerName,
			Model:            resp.Model,
			InputTokens:      inputTokens,
			OutputTokens:     outputTokens,
			TotalTokens:      totalTokens,
			Cost:             cost,
			ProcessingTimeMs: processingMs,
			PIIDetected:      piiDetected,
			RulesTriggered:   rulesTriggered,
			RequestID:        requestID,
		})
	}

	return &chatData{
		ChatResponse:     *resp,
		HasAnonymization: hasAnonymization,
		PIIDetected:      piiDetected,
	}, nil
}

// dispatch sends the processed conversation upstream. Streamed requests are
// consumed server-side and returned as one response: de-anonymization needs
// the complete reply before anything can be released to the client.
func (g *Gateway) dispatch(ctx context.Context, adapter llm.Adapter, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.Stream {
		if streamer, ok := adapter.(llm.StreamingAdapter); ok {
			return streamer.ChatStream(ctx, req, func(llm.StreamChunk) error { return nil })
		}
	}
	return adapter.Chat(ctx, req)
}

func appendUnique(dst []string, src []string) []string {
	for _, s := range src {
		seen := false
		for _, existing := range dst {
			if existing == s {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, s)
		}
	}
	return dst
}
