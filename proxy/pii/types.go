// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package pii

import "context"

// EntityType classifies the kind of sensitive data found.
type EntityType string

// Entity types recognized by the gateway. The regex fallback covers the
// structured subset; the external analyzer may additionally report the
// model-based types (PERSON, LOCATION, ORGANIZATION, DATE_TIME, URL).
const (
	EntityEmail        EntityType = "EMAIL"
	EntityPhone        EntityType = "PHONE"
	EntityCreditCard   EntityType = "CREDIT_CARD"
	EntitySSN          EntityType = "SSN"
	EntityIPAddress    EntityType = "IP_ADDRESS"
	EntityPerson       EntityType = "PERSON"
	EntityLocation     EntityType = "LOCATION"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityDateTime     EntityType = "DATE_TIME"
	EntityURL          EntityType = "URL"
	EntityCustom       EntityType = "CUSTOM"
)

// Match is one detected PII span. Offsets are half-open byte offsets
// [Start, End) into the original text; Start < End always holds for matches
// produced by this package.
type Match struct {
	EntityType EntityType `json:"entityType"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Score      float64    `json:"score"`
	Text       string     `json:"text"`
}

// TokenMapping pairs one placeholder with the original span it replaced.
// The set of mappings for a request is a bijection between placeholders and
// original spans.
type TokenMapping struct {
	ID         string     `json:"id"`
	Original   string     `json:"original"`
	Anonymized string     `json:"anonymized"`
	EntityType EntityType `json:"entityType"`
}

// Detector finds PII spans and replaces them with reversible placeholders.
// Anonymize draws placeholders from the request-scoped TokenMap so that
// placeholder numbering stays unique across all messages of one request.
type Detector interface {
	Detect(ctx context.Context, text string) ([]Match, error)
	Anonymize(ctx context.Context, text string, matches []Match, tokens *TokenMap) (string, []TokenMapping, error)
}
