// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package controlplane

import (
	"fmt"
	"regexp"
	"strings"

	"axonflow/gateway/shared/types"
)

// Pattern validation limits. Patterns are compiled on every gateway request,
// so oversized or pathological ones are rejected at write time.
const (
	maxPatternLength = 1000
	maxCaptureGroups = 10
	maxNameLength    = 200
)

// validateRule checks a rule payload before it is persisted.
func validateRule(rule types.SecurityRule) *types.APIError {
	if strings.TrimSpace(rule.Name) == "" {
		return types.NewAPIError(types.CodeValidationError, "rule name is required")
	}
	if len(rule.Name) > maxNameLength {
		return types.NewAPIError(types.CodeValidationError,
			fmt.Sprintf("rule name exceeds %d characters", maxNameLength))
	}
	if !rule.Action.IsValid() {
		return types.NewAPIError(types.CodeValidationError,
			fmt.Sprintf("invalid action %q (allowed: ALLOW, WARN, ANONYMIZE, REDACT, BLOCK)", rule.Action))
	}
	return validatePattern(rule.Pattern)
}

// validatePattern enforces the RE2 compile check and size limits.
func validatePattern(pattern string) *types.APIError {
	if strings.TrimSpace(pattern) == "" {
		return types.NewAPIError(types.CodeValidationError, "pattern cannot be empty")
	}
	if len(pattern) > maxPatternLength {
		return types.NewAPIError(types.CodeValidationError,
			fmt.Sprintf("pattern exceeds %d characters", maxPatternLength))
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return types.NewAPIError(types.CodeValidationError,
			fmt.Sprintf("pattern has invalid RE2 syntax: %v", err))
	}
	if re.NumSubexp() > maxCaptureGroups {
		return types.NewAPIError(types.CodeValidationError,
			fmt.Sprintf("pattern has %d capture groups, maximum is %d", re.NumSubexp(), maxCaptureGroups))
	}
	return nil
}
