// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"fmt"
	"strings"
	"time"
)

// AdapterConfig carries the per-user provider settings resolved by the
// caller (stored config merged over environment defaults).
type AdapterConfig struct {
	APIKey   string        // Required: provider API key
	Endpoint string        // Optional: base URL override
	Model    string        // Optional: default model override
	Timeout  time.Duration // Optional: HTTP timeout
}

// NewAdapter builds the adapter for a provider identifier. The identifier is
// matched case-insensitively.
func NewAdapter(provider string, cfg AdapterConfig) (Adapter, error) {
	switch strings.ToUpper(strings.TrimSpace(provider)) {
	case ProviderOpenAI:
		return newOpenAIAdapter(cfg)
	case ProviderClaude:
		return newClaudeAdapter(cfg)
	case ProviderGemini:
		return newGeminiAdapter(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %q (supported: %s)",
			provider, strings.Join(SupportedProviders(), ", "))
	}
}

// SupportedProviders lists the accepted provider identifiers.
func SupportedProviders() []string {
	return []string{ProviderOpenAI, ProviderClaude, ProviderGemini}
}
