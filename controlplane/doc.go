// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package controlplane is the management service behind the gateway: it owns
// per-user security rules, per-user gateway configuration, usage records, and
// the audit log, and serves the internal API the data plane consults.
//
// Persistence sits behind small repository interfaces with two backends,
// PostgreSQL (primary) and MongoDB, selected by STORAGE_BACKEND.
package controlplane
