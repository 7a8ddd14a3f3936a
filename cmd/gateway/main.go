// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the AxonFlow Gateway data plane.
//
// The gateway sits between clients and LLM providers:
// - Detects and anonymizes PII before anything leaves the boundary
// - Evaluates per-user security rules (ALLOW/WARN/ANONYMIZE/REDACT/BLOCK)
// - Dispatches to OpenAI, Claude, or Gemini
// - Restores anonymized spans in the provider's reply
// - Ships usage records to the control plane
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (required)
//	BACKEND_URL - control plane base URL (required)
//	JWT_SECRET - HS256 secret for bearer tokens (required)
//	CORS_ORIGIN - allowed CORS origins, comma-separated (required)
//	RATE_LIMIT_WINDOW_MS / RATE_LIMIT_MAX_REQUESTS - IP rate limit (required)
//	ENABLE_PII_DETECTION / ENABLE_RULE_ENGINE - security toggles (required)
//	FALLBACK_TO_REGEX / BLOCK_ON_SECURITY_FAILURE - security toggles (required)
//	REDIS_URL - Redis for distributed rate limiting (optional)
//	PII_ANALYZER_URL / PII_ANONYMIZER_URL - external PII service (optional)
package main

import (
	"log"

	"axonflow/gateway/proxy"
)

func main() {
	if err := proxy.Run(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}
