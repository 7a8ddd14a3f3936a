// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package pii

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// fallbackScore is the fixed confidence assigned to regex findings. The
// regex set has no model behind it, so every match gets the same score.
const fallbackScore = 0.8

// fallbackPattern pairs a compiled regex with its entity type and an
// optional validator that rejects structurally invalid matches (bad Luhn
// checksum, impossible SSN area, out-of-range IP octet).
type fallbackPattern struct {
	entityType EntityType
	pattern    *regexp.Regexp
	validate   func(match string) bool
}

// RegexDetector is the built-in fallback used when the external analyzer is
// unreachable. It covers the structured entity types only; contextual types
// such as PERSON or LOCATION need the model-backed service.
type RegexDetector struct {
	patterns []fallbackPattern
}

// NewRegexDetector compiles the built-in pattern set.
func NewRegexDetector() *RegexDetector {
	return &RegexDetector{
		patterns: []fallbackPattern{
			{
				entityType: EntityEmail,
				pattern:    regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
			},
			{
				entityType: EntityCreditCard,
				pattern:    regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b|\b\d{13,16}\b`),
				validate:   validCreditCard,
			},
			{
				entityType: EntitySSN,
				pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
				validate:   validSSN,
			},
			{
				entityType: EntityPhone,
				pattern:    regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`),
				validate:   validPhone,
			},
			{
				entityType: EntityIPAddress,
				pattern:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
				validate:   validIPv4,
			},
		},
	}
}

// Detect scans the text with every pattern. Results are sorted by start
// offset ascending; overlapping findings are resolved later by Deoverlap.
func (d *RegexDetector) Detect(_ context.Context, text string) ([]Match, error) {
	var matches []Match
	for _, p := range d.patterns {
		for _, loc := range p.pattern.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			if p.validate != nil && !p.validate(value) {
				continue
			}
			matches = append(matches, Match{
				EntityType: p.entityType,
				Start:      loc[0],
				End:        loc[1],
				Score:      fallbackScore,
				Text:       value,
			})
		}
	}
	return sortByStart(matches), nil
}

// Anonymize replaces each matched span locally through the token map.
func (d *RegexDetector) Anonymize(_ context.Context, text string, matches []Match, tokens *TokenMap) (string, []TokenMapping, error) {
	anonymized, mappings := tokens.Apply(text, matches)
	return anonymized, mappings, nil
}

// digitsOf strips every non-digit rune.
func digitsOf(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// validCreditCard requires 13-19 digits passing the Luhn checksum.
func validCreditCard(match string) bool {
	digits := digitsOf(match)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	alternate := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if alternate {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alternate = !alternate
	}
	return sum%10 == 0
}

// validSSN rejects area 000/666/900+ and zero group or serial.
func validSSN(match string) bool {
	digits := digitsOf(match)
	if len(digits) != 9 {
		return false
	}
	area, _ := strconv.Atoi(digits[0:3])
	group, _ := strconv.Atoi(digits[3:5])
	serial, _ := strconv.Atoi(digits[5:9])
	if area == 0 || area == 666 || area >= 900 {
		return false
	}
	return group != 0 && serial != 0
}

// validPhone requires 10-11 digits that are not all identical.
func validPhone(match string) bool {
	digits := digitsOf(match)
	if len(digits) < 10 || len(digits) > 11 {
		return false
	}
	first := digits[0]
	for i := 1; i < len(digits); i++ {
		if digits[i] != first {
			return true
		}
	}
	return false
}

// validIPv4 checks every octet is in range.
func validIPv4(match string) bool {
	parts := strings.Split(match, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

func sortByStart(matches []Match) []Match {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches
}
