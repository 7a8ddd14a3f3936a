// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package llm normalizes chat completion across upstream AI providers.
// Native API clients live in the subpackages (openai, anthropic, gemini);
// the adapters in this package translate between the gateway's normalized
// request/response shapes and each provider's wire format, and own the
// static pricing tables used for cost attribution.
package llm
