// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package types

import (
	"fmt"
	"net/http"
	"time"
)

// APIVersion is reported in the meta block of every response.
const APIVersion = "1.0"

// ErrorCode is a machine-readable error classification. Every error returned
// by either service carries exactly one code; the HTTP status is derived from
// it via HTTPStatus.
type ErrorCode string

const (
	CodeValidationError     ErrorCode = "VALIDATION_ERROR"
	CodeAuthenticationError ErrorCode = "AUTHENTICATION_ERROR"
	CodeAuthorizationError  ErrorCode = "AUTHORIZATION_ERROR"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeConflict            ErrorCode = "CONFLICT"
	CodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeBlockedByPolicy     ErrorCode = "BLOCKED_BY_POLICY"
	CodePIIDetectionError   ErrorCode = "PII_DETECTION_ERROR"
	CodeAIProviderError     ErrorCode = "AI_PROVIDER_ERROR"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// httpStatusByCode is the single mapping table from error code to HTTP status.
var httpStatusByCode = map[ErrorCode]int{
	CodeValidationError:     http.StatusBadRequest,
	CodeAuthenticationError: http.StatusUnauthorized,
	CodeAuthorizationError:  http.StatusForbidden,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeRateLimitExceeded:   http.StatusTooManyRequests,
	CodeBlockedByPolicy:     http.StatusBadRequest,
	CodePIIDetectionError:   http.StatusServiceUnavailable,
	CodeAIProviderError:     http.StatusBadGateway,
	CodeInternalError:       http.StatusInternalServerError,
}

// HTTPStatus returns the HTTP status for an error code. Unknown codes map to
// 500 so a missing table entry can never turn an error into a success.
func (c ErrorCode) HTTPStatus() int {
	if status, ok := httpStatusByCode[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// APIError is the error payload inside the response envelope. It also
// implements the error interface so components can return it directly.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates an APIError with the given code and message.
func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WithDetails attaches structured details (e.g. offending rule names) and
// returns the same error for chaining.
func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

// Sanitized returns a copy safe to surface to callers in production mode:
// the message of 5xx-class errors is replaced with a generic phrase while
// the code and status mapping are preserved. Client errors (4xx) keep their
// message, since they describe the caller's own input.
func (e *APIError) Sanitized() *APIError {
	if e.Code.HTTPStatus() < http.StatusInternalServerError {
		return e
	}
	return &APIError{Code: e.Code, Message: "an internal error occurred"}
}

// Meta carries per-response bookkeeping. RequestID is the UUID generated for
// the inbound request and propagated to logs, control-plane calls, and the
// usage record.
type Meta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
	Version   string `json:"version"`
}

// APIResponse is the envelope wrapping every JSON response from both planes.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    Meta      `json:"meta"`
}

// NewSuccessResponse wraps data in a success envelope.
func NewSuccessResponse(requestID string, data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
		Meta:    newMeta(requestID),
	}
}

// NewErrorResponse wraps an APIError in a failure envelope.
func NewErrorResponse(requestID string, apiErr *APIError) APIResponse {
	return APIResponse{
		Success: false,
		Error:   apiErr,
		Meta:    newMeta(requestID),
	}
}

func newMeta(requestID string) Meta {
	return Meta{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: requestID,
		Version:   APIVersion,
	}
}
