// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package controlplane

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"axonflow/gateway/common/usage"
	"axonflow/gateway/shared/logger"
	"axonflow/gateway/shared/types"
)

// PostgresStore is the primary persistence backend.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresStore wraps an existing connection pool. Used directly by tests.
func NewPostgresStore(db *sql.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// OpenPostgres connects to DATABASE_URL and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string, log *logger.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := NewPostgresStore(db, log)
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS security_rules (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			pattern TEXT NOT NULL,
			action TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			priority INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_security_rules_user ON security_rules (user_id)`,
		`CREATE TABLE IF NOT EXISTS gateway_configs (
			user_id TEXT PRIMARY KEY,
			default_provider TEXT NOT NULL,
			enable_pii_detection BOOLEAN NOT NULL,
			enable_rule_engine BOOLEAN NOT NULL,
			enable_audit_logging BOOLEAN NOT NULL,
			rate_limit_window_ms INTEGER NOT NULL,
			rate_limit_max_requests INTEGER NOT NULL,
			provider_configs JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			cost DOUBLE PRECISION NOT NULL,
			processing_time_ms DOUBLE PRECISION NOT NULL,
			pii_detected BOOLEAN NOT NULL,
			rules_triggered TEXT[] NOT NULL DEFAULT '{}',
			request_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_user ON usage_records (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			resource_id TEXT NOT NULL DEFAULT '',
			detail JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ListRules returns the user's rules ordered by priority, newest first within
// a priority. Rows that fail to scan are logged and skipped so one corrupt
// row cannot take down rule evaluation for the user.
func (s *PostgresStore) ListRules(ctx context.Context, userID string) ([]types.SecurityRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, description, pattern, action, enabled, priority, created_at, updated_at
		 FROM security_rules WHERE user_id = $1 ORDER BY priority DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rules := make([]types.SecurityRule, 0)
	for rows.Next() {
		var rule types.SecurityRule
		if err := rows.Scan(&rule.ID, &rule.UserID, &rule.Name, &rule.Description, &rule.Pattern,
			&rule.Action, &rule.Enabled, &rule.Priority, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			if s.log != nil {
				s.log.Warn(userID, "", "skipping unscannable rule row", map[string]interface{}{
					"error": err.Error(),
				})
			}
			continue
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

func (s *PostgresStore) CreateRule(ctx context.Context, rule types.SecurityRule) (types.SecurityRule, error) {
	now := time.Now().UTC()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_rules (id, user_id, name, description, pattern, action, enabled, priority, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rule.ID, rule.UserID, rule.Name, rule.Description, rule.Pattern,
		rule.Action, rule.Enabled, rule.Priority, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return types.SecurityRule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresStore) UpdateRule(ctx context.Context, rule types.SecurityRule) (types.SecurityRule, error) {
	rule.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE security_rules
		 SET name = $1, description = $2, pattern = $3, action = $4, enabled = $5, priority = $6, updated_at = $7
		 WHERE id = $8 AND user_id = $9`,
		rule.Name, rule.Description, rule.Pattern, rule.Action, rule.Enabled, rule.Priority, rule.UpdatedAt,
		rule.ID, rule.UserID)
	if err != nil {
		return types.SecurityRule{}, fmt.Errorf("update rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.SecurityRule{}, fmt.Errorf("update rule: %w", err)
	}
	if affected == 0 {
		return types.SecurityRule{}, ErrNotFound
	}
	return rule, nil
}

func (s *PostgresStore) DeleteRule(ctx context.Context, userID, ruleID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM security_rules WHERE id = $1 AND user_id = $2`, ruleID, userID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConfig reads the user's configuration, creating the documented defaults
// on first read.
func (s *PostgresStore) GetConfig(ctx context.Context, userID string) (types.GatewayConfig, error) {
	cfg, err := s.scanConfig(ctx, userID)
	if err == nil {
		return cfg, nil
	}
	if err != sql.ErrNoRows {
		return types.GatewayConfig{}, fmt.Errorf("get config: %w", err)
	}

	defaults := types.DefaultGatewayConfig(userID)
	if _, err := s.UpdateConfig(ctx, defaults); err != nil {
		return types.GatewayConfig{}, err
	}
	return defaults, nil
}

func (s *PostgresStore) scanConfig(ctx context.Context, userID string) (types.GatewayConfig, error) {
	var cfg types.GatewayConfig
	var providerConfigs []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, default_provider, enable_pii_detection, enable_rule_engine, enable_audit_logging,
		        rate_limit_window_ms, rate_limit_max_requests, provider_configs
		 FROM gateway_configs WHERE user_id = $1`, userID).
		Scan(&cfg.UserID, &cfg.DefaultProvider, &cfg.EnablePIIDetection, &cfg.EnableRuleEngine,
			&cfg.EnableAuditLogging, &cfg.RateLimitWindowMs, &cfg.RateLimitMaxRequests, &providerConfigs)
	if err != nil {
		return types.GatewayConfig{}, err
	}
	if len(providerConfigs) > 0 {
		if err := json.Unmarshal(providerConfigs, &cfg.ProviderConfigs); err != nil {
			return types.GatewayConfig{}, fmt.Errorf("decode provider configs: %w", err)
		}
	}
	return cfg, nil
}

func (s *PostgresStore) UpdateConfig(ctx context.Context, cfg types.GatewayConfig) (types.GatewayConfig, error) {
	providerConfigs, err := json.Marshal(cfg.ProviderConfigs)
	if err != nil {
		return types.GatewayConfig{}, fmt.Errorf("encode provider configs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO gateway_configs (user_id, default_provider, enable_pii_detection, enable_rule_engine,
		        enable_audit_logging, rate_limit_window_ms, rate_limit_max_requests, provider_configs, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		        default_provider = EXCLUDED.default_provider,
		        enable_pii_detection = EXCLUDED.enable_pii_detection,
		        enable_rule_engine = EXCLUDED.enable_rule_engine,
		        enable_audit_logging = EXCLUDED.enable_audit_logging,
		        rate_limit_window_ms = EXCLUDED.rate_limit_window_ms,
		        rate_limit_max_requests = EXCLUDED.rate_limit_max_requests,
		        provider_configs = EXCLUDED.provider_configs,
		        updated_at = NOW()`,
		cfg.UserID, cfg.DefaultProvider, cfg.EnablePIIDetection, cfg.EnableRuleEngine,
		cfg.EnableAuditLogging, cfg.RateLimitWindowMs, cfg.RateLimitMaxRequests, providerConfigs)
	if err != nil {
		return types.GatewayConfig{}, fmt.Errorf("update config: %w", err)
	}
	return cfg, nil
}

func (s *PostgresStore) InsertUsage(ctx context.Context, record usage.Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, user_id, provider, model, input_tokens, output_tokens, total_tokens,
		        cost, processing_time_ms, pii_detected, rules_triggered, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ID, record.UserID, record.Provider, record.Model, record.InputTokens, record.OutputTokens,
		record.TotalTokens, record.Cost, record.ProcessingTimeMs, record.PIIDetected,
		pq.Array(record.RulesTriggered), record.RequestID, record.Timestamp)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) UsageSummary(ctx context.Context, userID string, since time.Time) (usage.Summary, error) {
	summary := usage.Summary{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost), 0),
		        COALESCE(SUM(CASE WHEN pii_detected THEN 1 ELSE 0 END), 0)
		 FROM usage_records WHERE user_id = $1 AND created_at >= $2`, userID, since).
		Scan(&summary.TotalRequests, &summary.TotalTokens, &summary.TotalCost, &summary.PIIDetections)
	if err != nil {
		return usage.Summary{}, fmt.Errorf("usage summary: %w", err)
	}
	return summary, nil
}

func (s *PostgresStore) InsertAudit(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, user_id, request_id, action, resource_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.UserID, entry.RequestID, entry.Action, entry.ResourceID, detail, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close(ctx context.Context) error {
	return s.db.Close()
}
