// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package security runs the per-message protection pipeline: PII detection
// (service-backed with an optional regex fallback), user rule evaluation,
// and application of the winning action (allow, warn, anonymize, redact,
// block). One Processor is built per request so every message shares the
// same rule set, configuration, and token map.
package security
