// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package proxy is the gateway's data plane. It authenticates inbound chat
// requests, rate limits by client IP, runs every message through the
// security pipeline, dispatches the processed conversation to the selected
// AI provider, de-anonymizes the reply, and emits a usage record.
//
// Per-user rules and configuration come from the control plane through
// TTL caches with single-flight population; mutations happen only on the
// control plane and propagate by TTL expiry.
package proxy
