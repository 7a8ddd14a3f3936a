// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"axonflow/gateway/proxy/pii"
	"axonflow/gateway/proxy/ruleengine"
	"axonflow/gateway/shared/logger"
	"axonflow/gateway/shared/types"
)

// redactionCap limits how many mask characters replace a single span, so a
// redacted message does not leak the exact length of long secrets.
const redactionCap = 10

// Result is the per-message output of the pipeline.
type Result struct {
	OriginalText  string
	ProcessedText string

	// Matches holds the PII findings for the message, including ones the
	// final action left in place (ALLOW/WARN).
	Matches []pii.Match

	// Mappings is non-empty only when the final action was ANONYMIZE.
	// Redaction is one-way and records nothing.
	Mappings []pii.TokenMapping

	// AppliedRuleIDs lists the rules that matched, in evaluation order.
	AppliedRuleIDs []string

	// Warnings carries one entry per matched rule plus any detection notices.
	Warnings []string

	// ProcessingTimeMs is wall clock for the whole pipeline.
	ProcessingTimeMs float64

	// Err is set instead of failing the request when the availability policy
	// allows degraded processing. ProcessedText equals OriginalText then.
	Err string
}

// BlockedError is returned when a BLOCK rule matched. It always surfaces to
// the caller regardless of the availability policy.
type BlockedError struct {
	RuleIDs  []string
	Warnings []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by security rules: %s", strings.Join(e.Warnings, "; "))
}

// Config assembles a per-request Processor.
type Config struct {
	// Detector is the primary detection path. Nil means detection runs on
	// Fallback directly.
	Detector pii.Detector

	// Fallback is the local regex detector used when Detector fails and
	// FallbackToRegex is set. Nil defaults to pii.NewRegexDetector().
	Fallback pii.Detector

	// Engine holds the user's compiled rules. Nil disables rule evaluation.
	Engine *ruleengine.Engine

	EnablePIIDetection     bool
	EnableRuleEngine       bool
	FallbackToRegex        bool
	BlockOnSecurityFailure bool

	Logger    *logger.Logger
	UserID    string
	RequestID string
}

// Processor applies the security pipeline to one message at a time. It is
// built per request; ProcessText may be called once per message with the
// request's shared token map.
type Processor struct {
	cfg Config
}

// NewProcessor creates a processor. Missing fallback detectors are filled in
// with the built-in regex set.
func NewProcessor(cfg Config) *Processor {
	if cfg.Fallback == nil {
		cfg.Fallback = pii.NewRegexDetector()
	}
	if cfg.Detector == nil {
		cfg.Detector = cfg.Fallback
	}
	return &Processor{cfg: cfg}
}

// ProcessText runs the pipeline on one message. A BLOCK verdict returns a
// *BlockedError. Any other pipeline failure is governed by
// BlockOnSecurityFailure: when true the error is returned, when false the
// message passes through unmodified with Result.Err describing the failure.
func (p *Processor) ProcessText(ctx context.Context, text string, tokens *pii.TokenMap) (*Result, error) {
	start := time.Now()
	result := &Result{OriginalText: text, ProcessedText: text}

	err := p.run(ctx, text, tokens, result)
	result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	if err == nil {
		return result, nil
	}

	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return nil, err
	}

	if p.cfg.BlockOnSecurityFailure {
		return nil, err
	}

	if p.cfg.Logger != nil {
		p.cfg.Logger.Warn(p.cfg.UserID, p.cfg.RequestID, "security processing degraded, passing message through", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return &Result{
		OriginalText:     text,
		ProcessedText:    text,
		ProcessingTimeMs: result.ProcessingTimeMs,
		Err:              err.Error(),
	}, nil
}

// RestoreText substitutes original values back into a provider response.
func (p *Processor) RestoreText(text string, mappings []pii.TokenMapping) string {
	return pii.Restore(text, mappings)
}

func (p *Processor) run(ctx context.Context, text string, tokens *pii.TokenMap, result *Result) error {
	// Step 1: detection.
	matches, detector, err := p.detect(ctx, text)
	if err != nil {
		return err
	}
	result.Matches = matches

	// Step 2: rule evaluation. All rules run so the verdict carries the
	// complete violation list; BLOCK short-circuits the rest of the pipeline.
	verdict := ruleengine.Verdict{Action: types.ActionAllow}
	if p.cfg.EnableRuleEngine && p.cfg.Engine != nil {
		verdict = p.cfg.Engine.Evaluate(text)
		result.AppliedRuleIDs = verdict.MatchedRuleIDs
		result.Warnings = append(result.Warnings, verdict.Warnings...)
		if verdict.Blocked {
			return &BlockedError{RuleIDs: verdict.MatchedRuleIDs, Warnings: verdict.Warnings}
		}
	}

	// Step 3: final action. An explicit rule verdict wins; otherwise any PII
	// finding defaults to anonymization.
	final := verdict.Action
	if final == types.ActionAllow && len(matches) > 0 {
		final = types.ActionAnonymize
	}

	// Step 4: apply.
	switch final {
	case types.ActionAllow, types.ActionWarn:
		result.ProcessedText = text
	case types.ActionAnonymize:
		processed, mappings, err := detector.Anonymize(ctx, text, matches, tokens)
		if err != nil {
			return types.NewAPIError(types.CodePIIDetectionError, fmt.Sprintf("anonymization failed: %v", err))
		}
		result.ProcessedText = processed
		result.Mappings = mappings
	case types.ActionRedact:
		result.ProcessedText = redact(text, matches)
	}
	return nil
}

// detect runs the primary detector and falls back to the local regex set
// when allowed. Also returns the detector that produced the matches so the
// anonymization step talks to the same backend.
func (p *Processor) detect(ctx context.Context, text string) ([]pii.Match, pii.Detector, error) {
	if !p.cfg.EnablePIIDetection {
		return nil, p.cfg.Fallback, nil
	}

	matches, err := p.cfg.Detector.Detect(ctx, text)
	if err == nil {
		return matches, p.cfg.Detector, nil
	}

	if p.cfg.FallbackToRegex && p.cfg.Detector != p.cfg.Fallback {
		if p.cfg.Logger != nil {
			p.cfg.Logger.Warn(p.cfg.UserID, p.cfg.RequestID, "pii service unavailable, using regex fallback", map[string]interface{}{
				"error": err.Error(),
			})
		}
		matches, fberr := p.cfg.Fallback.Detect(ctx, text)
		if fberr == nil {
			return matches, p.cfg.Fallback, nil
		}
		err = fberr
	}

	return nil, p.cfg.Fallback, types.NewAPIError(types.CodePIIDetectionError, fmt.Sprintf("pii detection unavailable: %v", err))
}

// redact masks each detected span in place. Spans are de-overlapped and
// replaced right to left so earlier offsets stay valid.
func redact(text string, matches []pii.Match) string {
	spans := pii.Deoverlap(matches)
	out := text
	for i := len(spans) - 1; i >= 0; i-- {
		m := spans[i]
		if m.Start < 0 || m.End > len(out) || m.Start >= m.End {
			continue
		}
		out = out[:m.Start] + strings.Repeat("*", min(m.End-m.Start, redactionCap)) + out[m.End:]
	}
	return out
}
