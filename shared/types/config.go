// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package types

// ProviderSettings holds per-provider credentials and endpoint overrides.
// The control plane stores it opaquely; only the provider adapters read it.
type ProviderSettings struct {
	APIKey   string `json:"apiKey,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Model    string `json:"model,omitempty"`
}

// GatewayConfig is the per-user configuration for the data plane. A config
// is auto-created with DefaultGatewayConfig values on first read.
type GatewayConfig struct {
	UserID               string                      `json:"userId"`
	DefaultProvider      string                      `json:"defaultProvider"`
	EnablePIIDetection   bool                        `json:"enablePIIDetection"`
	EnableRuleEngine     bool                        `json:"enableRuleEngine"`
	EnableAuditLogging   bool                        `json:"enableAuditLogging"`
	RateLimitWindowMs    int                         `json:"rateLimitWindowMs"`
	RateLimitMaxRequests int                         `json:"rateLimitMaxRequests"`
	ProviderConfigs      map[string]ProviderSettings `json:"providerConfigs,omitempty"`
}

// DefaultGatewayConfig returns the documented defaults used when a user has
// no stored configuration yet.
func DefaultGatewayConfig(userID string) GatewayConfig {
	return GatewayConfig{
		UserID:               userID,
		DefaultProvider:      "OPENAI",
		EnablePIIDetection:   true,
		EnableRuleEngine:     true,
		EnableAuditLogging:   true,
		RateLimitWindowMs:    60000,
		RateLimitMaxRequests: 100,
	}
}
