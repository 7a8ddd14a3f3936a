// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package pii

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// TokenMap generates placeholders and tracks the placeholder ↔ original
// bijection for one request. It lives exactly as long as the request: never
// cached, never persisted, never shared across requests.
//
// Placeholder counters span all messages of the request, so <EMAIL_1> in
// message one and <EMAIL_2> in message three can never collide.
type TokenMap struct {
	counters map[EntityType]int
	mappings []TokenMapping
}

// NewTokenMap creates an empty request-scoped token map.
func NewTokenMap() *TokenMap {
	return &TokenMap{counters: make(map[EntityType]int)}
}

// next reserves the next placeholder for the entity type, e.g. <EMAIL_1>.
func (tm *TokenMap) next(entityType EntityType) string {
	tm.counters[entityType]++
	return fmt.Sprintf("<%s_%d>", entityType, tm.counters[entityType])
}

// record stores one replacement and returns its mapping.
func (tm *TokenMap) record(original, anonymized string, entityType EntityType) TokenMapping {
	m := TokenMapping{
		ID:         uuid.New().String(),
		Original:   original,
		Anonymized: anonymized,
		EntityType: entityType,
	}
	tm.mappings = append(tm.mappings, m)
	return m
}

// Mappings returns every mapping recorded so far, in creation order.
func (tm *TokenMap) Mappings() []TokenMapping {
	return tm.mappings
}

// Apply replaces each matched span in text with a fresh placeholder and
// returns the rewritten text plus the mappings created by this call.
//
// Matches are de-overlapped first (higher score wins, earlier start breaks
// ties). Placeholders are reserved left-to-right so numbering follows text
// order: the first occurrence of a type gets _1. The replacements themselves
// are applied right-to-left so a rewrite never shifts the offsets of the
// spans still to come.
func (tm *TokenMap) Apply(text string, matches []Match) (string, []TokenMapping) {
	spans := Deoverlap(matches)

	type replacement struct {
		span        Match
		placeholder string
	}
	repls := make([]replacement, 0, len(spans))
	created := make([]TokenMapping, 0, len(spans))
	for _, m := range spans {
		if m.Start < 0 || m.End > len(text) || m.Start >= m.End {
			continue
		}
		placeholder := tm.next(m.EntityType)
		created = append(created, tm.record(text[m.Start:m.End], placeholder, m.EntityType))
		repls = append(repls, replacement{span: m, placeholder: placeholder})
	}

	out := text
	for i := len(repls) - 1; i >= 0; i-- {
		r := repls[i]
		out = out[:r.span.Start] + r.placeholder + out[r.span.End:]
	}
	return out, created
}

// Deoverlap drops matches that overlap an already-kept span. Matches are
// considered in score-descending order (earlier start, then longer span,
// break ties) so the most confident finding claims contested bytes.
func Deoverlap(matches []Match) []Match {
	ordered := make([]Match, len(matches))
	copy(ordered, matches)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].End-ordered[i].Start > ordered[j].End-ordered[j].Start
	})

	var kept []Match
	for _, m := range ordered {
		if m.Start >= m.End {
			continue
		}
		overlaps := false
		for _, k := range kept {
			if m.Start < k.End && k.Start < m.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// Restore substitutes every occurrence of each placeholder with its original
// value. A placeholder the model paraphrased away is silently dropped.
// Restore never fails: on any internal error the input text is returned
// unchanged.
func Restore(text string, mappings []TokenMapping) (restored string) {
	restored = text
	defer func() {
		if r := recover(); r != nil {
			restored = text
		}
	}()

	// Longer placeholders first: <EMAIL_1> is a prefix of <EMAIL_10>, so
	// replacing in insertion order would corrupt the longer one.
	ordered := make([]TokenMapping, len(mappings))
	copy(ordered, mappings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Anonymized) > len(ordered[j].Anonymized)
	})

	for _, m := range ordered {
		if m.Anonymized == "" {
			continue
		}
		restored = strings.ReplaceAll(restored, m.Anonymized, m.Original)
	}
	return restored
}
