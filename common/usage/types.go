// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package usage

import "time"

// Record is one proxy request's usage, as shipped to the control plane and
// persisted there. Cost is USD.
type Record struct {
	ID               string    `json:"id,omitempty"`
	UserID           string    `json:"userId"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	InputTokens      int       `json:"inputTokens"`
	OutputTokens     int       `json:"outputTokens"`
	TotalTokens      int       `json:"totalTokens"`
	Cost             float64   `json:"cost"`
	ProcessingTimeMs float64   `json:"processingTimeMs"`
	PIIDetected      bool      `json:"piiDetected"`
	RulesTriggered   []string  `json:"rulesTriggered,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	RequestID        string    `json:"requestId"`
}

// Summary is the aggregate the control plane computes over a user's records.
type Summary struct {
	UserID        string  `json:"userId"`
	TotalRequests int     `json:"totalRequests"`
	TotalTokens   int     `json:"totalTokens"`
	TotalCost     float64 `json:"totalCost"`
	PIIDetections int     `json:"piiDetections"`
}
