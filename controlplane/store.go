// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package controlplane

import (
	"context"
	"errors"
	"time"

	"axonflow/gateway/common/usage"
	"axonflow/gateway/shared/types"
)

// ErrNotFound is returned by repositories when the addressed row or document
// does not exist for the given user.
var ErrNotFound = errors.New("not found")

// AuditEntry is one audit log line: who did what to which resource.
type AuditEntry struct {
	ID         string                 `json:"id,omitempty"`
	UserID     string                 `json:"userId"`
	RequestID  string                 `json:"requestId,omitempty"`
	Action     string                 `json:"action"`
	ResourceID string                 `json:"resourceId,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Audit actions recorded by the handlers.
const (
	AuditRuleCreated   = "rule.created"
	AuditRuleUpdated   = "rule.updated"
	AuditRuleDeleted   = "rule.deleted"
	AuditConfigUpdated = "config.updated"
)

// RuleRepository persists per-user security rules. All operations are scoped
// to the owning user; a rule id from another user behaves as absent.
type RuleRepository interface {
	ListRules(ctx context.Context, userID string) ([]types.SecurityRule, error)
	CreateRule(ctx context.Context, rule types.SecurityRule) (types.SecurityRule, error)
	UpdateRule(ctx context.Context, rule types.SecurityRule) (types.SecurityRule, error)
	DeleteRule(ctx context.Context, userID, ruleID string) error
}

// ConfigRepository persists per-user gateway configuration. GetConfig
// auto-creates the documented defaults on first read, so a success always
// carries a config.
type ConfigRepository interface {
	GetConfig(ctx context.Context, userID string) (types.GatewayConfig, error)
	UpdateConfig(ctx context.Context, cfg types.GatewayConfig) (types.GatewayConfig, error)
}

// UsageRepository persists the usage records shipped by the data plane.
type UsageRepository interface {
	InsertUsage(ctx context.Context, record usage.Record) error
	UsageSummary(ctx context.Context, userID string, since time.Time) (usage.Summary, error)
}

// AuditRepository appends audit entries. Audit failures are logged by the
// caller, never surfaced to the client.
type AuditRepository interface {
	InsertAudit(ctx context.Context, entry AuditEntry) error
}

// Store is the full persistence surface of the control plane.
type Store interface {
	RuleRepository
	ConfigRepository
	UsageRepository
	AuditRepository

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
