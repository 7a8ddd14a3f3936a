// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package ruleengine compiles and evaluates user-defined regex security
// rules. Per-rule verdicts are combined into a single action through the
// lattice ALLOW < WARN < ANONYMIZE < REDACT < BLOCK; the engine reports what
// should happen to a text but never mutates it.
package ruleengine
