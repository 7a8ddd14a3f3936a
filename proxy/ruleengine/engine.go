// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ruleengine

import (
	"fmt"
	"regexp"
	"sort"

	"axonflow/gateway/shared/logger"
	"axonflow/gateway/shared/types"
)

// compiledRule pairs a rule with its compiled pattern. Rules whose pattern
// failed to compile are never stored here.
type compiledRule struct {
	rule    types.SecurityRule
	pattern *regexp.Regexp
}

// Engine evaluates a fixed, per-user set of security rules against text.
// Construction compiles every pattern once; Evaluate is pure and safe for
// concurrent use.
type Engine struct {
	rules []compiledRule
	log   *logger.Logger
}

// Verdict is the combined outcome of evaluating all rules against one text.
type Verdict struct {
	// Action is the lattice maximum over all matching rules, ALLOW when
	// nothing matched.
	Action types.RuleAction

	// MatchedRuleIDs lists every rule that matched, in evaluation order.
	MatchedRuleIDs []string

	// Blocked is true iff any matching rule's action is BLOCK.
	Blocked bool

	// Warnings holds one human-readable entry per matching rule.
	Warnings []string
}

// New builds an engine from the user's rules. Disabled rules are dropped.
// Remaining rules are sorted by priority descending; the sort is stable so
// priority ties keep insertion order. A pattern that does not compile is
// logged once and skipped; it never blocks the pipeline or its siblings.
func New(userID string, rules []types.SecurityRule, log *logger.Logger) *Engine {
	e := &Engine{log: log}

	ordered := make([]types.SecurityRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, r := range ordered {
		// Case-insensitive to match regardless of user casing.
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			if log != nil {
				log.Warn(userID, "", "skipping rule with uncompilable pattern", map[string]interface{}{
					"rule_id":   r.ID,
					"rule_name": r.Name,
					"error":     err.Error(),
				})
			}
			continue
		}
		e.rules = append(e.rules, compiledRule{rule: r, pattern: re})
	}

	return e
}

// RuleCount returns the number of rules that compiled and will be evaluated.
func (e *Engine) RuleCount() int {
	return len(e.rules)
}

// Evaluate runs every rule against the text and combines the per-rule
// verdicts into one action via the lattice. All rules are evaluated even
// after a BLOCK is seen: diagnostics require the complete violation list.
// Evaluate never mutates the text and never fails.
func (e *Engine) Evaluate(text string) Verdict {
	verdict := Verdict{Action: types.ActionAllow}

	for _, cr := range e.rules {
		if !e.matches(cr, text) {
			continue
		}

		verdict.MatchedRuleIDs = append(verdict.MatchedRuleIDs, cr.rule.ID)
		verdict.Action = types.MaxAction(verdict.Action, cr.rule.Action)

		if cr.rule.Action == types.ActionBlock {
			verdict.Blocked = true
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("Blocked by rule: %s", cr.rule.Name))
		} else {
			verdict.Warnings = append(verdict.Warnings, fmt.Sprintf("Rule matched: %s (%s)", cr.rule.Name, cr.rule.Action))
		}
	}

	return verdict
}

// matches evaluates a single rule, recovering from regexp engine panics on
// pathological input so one rule can never take down the others.
func (e *Engine) matches(cr compiledRule, text string) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			if e.log != nil {
				e.log.Warn(cr.rule.UserID, "", "rule evaluation panicked, skipping rule", map[string]interface{}{
					"rule_id": cr.rule.ID,
					"panic":   fmt.Sprint(r),
				})
			}
			matched = false
		}
	}()
	return cr.pattern.MatchString(text)
}
