// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"axonflow/gateway/proxy/llm"
	"axonflow/gateway/shared/types"
)

// providerEnvKeys maps provider identifiers to their conventional API key
// environment variables, the lowest-precedence credential source.
var providerEnvKeys = map[string]string{
	llm.ProviderOpenAI: "OPENAI_API_KEY",
	llm.ProviderClaude: "ANTHROPIC_API_KEY",
	llm.ProviderGemini: "GEMINI_API_KEY",
}

// providerFile is the optional operator-managed credentials file
// (PROVIDER_CONFIG_FILE), e.g.:
//
//	providers:
//	  OPENAI:
//	    apiKey: sk-...
//	    model: gpt-4o-mini
//	  CLAUDE:
//	    apiKey: sk-ant-...
type providerFile struct {
	Providers map[string]providerFileEntry `yaml:"providers"`
}

type providerFileEntry struct {
	APIKey   string `yaml:"apiKey"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

// loadProviderFile parses the credentials file. An empty path is fine and
// yields an empty map.
func loadProviderFile(path string) (map[string]types.ProviderSettings, error) {
	settings := make(map[string]types.ProviderSettings)
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider config file: %w", err)
	}
	var file providerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse provider config file: %w", err)
	}
	for name, entry := range file.Providers {
		settings[name] = types.ProviderSettings{
			APIKey:   entry.APIKey,
			Endpoint: entry.Endpoint,
			Model:    entry.Model,
		}
	}
	return settings, nil
}

// resolveAdapterConfig merges credential sources for one provider. The
// user's stored settings win over the operator file, which wins over the
// environment.
func resolveAdapterConfig(provider string, fileSettings map[string]types.ProviderSettings, userCfg types.GatewayConfig) llm.AdapterConfig {
	cfg := llm.AdapterConfig{}
	if envKey, ok := providerEnvKeys[provider]; ok {
		cfg.APIKey = os.Getenv(envKey)
	}

	apply := func(s types.ProviderSettings) {
		if s.APIKey != "" {
			cfg.APIKey = s.APIKey
		}
		if s.Endpoint != "" {
			cfg.Endpoint = s.Endpoint
		}
		if s.Model != "" {
			cfg.Model = s.Model
		}
	}
	if s, ok := fileSettings[provider]; ok {
		apply(s)
	}
	if s, ok := userCfg.ProviderConfigs[provider]; ok {
		apply(s)
	}
	return cfg
}
