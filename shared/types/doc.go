// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package types provides shared type definitions used across the gateway and
// control-plane services: the JSON response envelope, the error taxonomy with
// its HTTP mapping, security rules with the action lattice, and the per-user
// gateway configuration.
package types
