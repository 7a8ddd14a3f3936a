// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package types

import "time"

// RuleAction is the transformation a matching rule demands. Actions form a
// strict total order (the action lattice); when several rules match, the
// final action is the lattice maximum.
type RuleAction string

const (
	ActionAllow     RuleAction = "ALLOW"
	ActionWarn      RuleAction = "WARN"
	ActionAnonymize RuleAction = "ANONYMIZE"
	ActionRedact    RuleAction = "REDACT"
	ActionBlock     RuleAction = "BLOCK"
)

// actionRank encodes the lattice ALLOW < WARN < ANONYMIZE < REDACT < BLOCK.
var actionRank = map[RuleAction]int{
	ActionAllow:     0,
	ActionWarn:      1,
	ActionAnonymize: 2,
	ActionRedact:    3,
	ActionBlock:     4,
}

// Rank returns the lattice position of the action. Unknown actions rank
// below ALLOW so a corrupt value can never escalate a verdict.
func (a RuleAction) Rank() int {
	if r, ok := actionRank[a]; ok {
		return r
	}
	return -1
}

// IsValid reports whether the action is one of the five known values.
func (a RuleAction) IsValid() bool {
	_, ok := actionRank[a]
	return ok
}

// MaxAction returns the lattice maximum of two actions.
func MaxAction(a, b RuleAction) RuleAction {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SecurityRule is one user-defined regex rule. Pattern must compile as RE2;
// a rule whose pattern does not compile is logged and skipped at evaluation
// time, never surfaced as a pipeline error.
type SecurityRule struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Pattern     string     `json:"pattern"`
	Action      RuleAction `json:"action"`
	Enabled     bool       `json:"enabled"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt,omitempty"`
}
