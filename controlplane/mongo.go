// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"axonflow/gateway/common/usage"
	"axonflow/gateway/shared/logger"
	"axonflow/gateway/shared/types"
)

// MongoStore is the alternative persistence backend (STORAGE_BACKEND=mongodb).
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logger.Logger
}

// Collection names.
const (
	collRules   = "security_rules"
	collConfigs = "gateway_configs"
	collUsage   = "usage_records"
	collAudit   = "audit_log"
)

// OpenMongo connects to MONGO_URL and verifies the connection.
func OpenMongo(ctx context.Context, mongoURL, database string, log *logger.Logger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if database == "" {
		database = "axonflow_gateway"
	}
	return &MongoStore{client: client, db: client.Database(database), log: log}, nil
}

// ruleDoc is the stored shape of a security rule.
type ruleDoc struct {
	ID          string    `bson:"_id"`
	UserID      string    `bson:"user_id"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Pattern     string    `bson:"pattern"`
	Action      string    `bson:"action"`
	Enabled     bool      `bson:"enabled"`
	Priority    int       `bson:"priority"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d ruleDoc) toRule() types.SecurityRule {
	return types.SecurityRule{
		ID:          d.ID,
		UserID:      d.UserID,
		Name:        d.Name,
		Description: d.Description,
		Pattern:     d.Pattern,
		Action:      types.RuleAction(d.Action),
		Enabled:     d.Enabled,
		Priority:    d.Priority,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func fromRule(rule types.SecurityRule) ruleDoc {
	return ruleDoc{
		ID:          rule.ID,
		UserID:      rule.UserID,
		Name:        rule.Name,
		Description: rule.Description,
		Pattern:     rule.Pattern,
		Action:      string(rule.Action),
		Enabled:     rule.Enabled,
		Priority:    rule.Priority,
		CreatedAt:   rule.CreatedAt,
		UpdatedAt:   rule.UpdatedAt,
	}
}

func (s *MongoStore) ListRules(ctx context.Context, userID string) ([]types.SecurityRule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "created_at", Value: -1}})
	cursor, err := s.db.Collection(collRules).Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	rules := make([]types.SecurityRule, 0)
	for cursor.Next(ctx) {
		var doc ruleDoc
		if err := cursor.Decode(&doc); err != nil {
			if s.log != nil {
				s.log.Warn(userID, "", "skipping undecodable rule document", map[string]interface{}{
					"error": err.Error(),
				})
			}
			continue
		}
		rules = append(rules, doc.toRule())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

func (s *MongoStore) CreateRule(ctx context.Context, rule types.SecurityRule) (types.SecurityRule, error) {
	now := time.Now().UTC()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if _, err := s.db.Collection(collRules).InsertOne(ctx, fromRule(rule)); err != nil {
		return types.SecurityRule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

func (s *MongoStore) UpdateRule(ctx context.Context, rule types.SecurityRule) (types.SecurityRule, error) {
	rule.UpdatedAt = time.Now().UTC()

	result, err := s.db.Collection(collRules).UpdateOne(ctx,
		bson.M{"_id": rule.ID, "user_id": rule.UserID},
		bson.M{"$set": bson.M{
			"name":        rule.Name,
			"description": rule.Description,
			"pattern":     rule.Pattern,
			"action":      string(rule.Action),
			"enabled":     rule.Enabled,
			"priority":    rule.Priority,
			"updated_at":  rule.UpdatedAt,
		}})
	if err != nil {
		return types.SecurityRule{}, fmt.Errorf("update rule: %w", err)
	}
	if result.MatchedCount == 0 {
		return types.SecurityRule{}, ErrNotFound
	}
	return rule, nil
}

func (s *MongoStore) DeleteRule(ctx context.Context, userID, ruleID string) error {
	result, err := s.db.Collection(collRules).DeleteOne(ctx, bson.M{"_id": ruleID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// configDoc is the stored shape of a gateway config.
type configDoc struct {
	UserID               string                            `bson:"_id"`
	DefaultProvider      string                            `bson:"default_provider"`
	EnablePIIDetection   bool                              `bson:"enable_pii_detection"`
	EnableRuleEngine     bool                              `bson:"enable_rule_engine"`
	EnableAuditLogging   bool                              `bson:"enable_audit_logging"`
	RateLimitWindowMs    int                               `bson:"rate_limit_window_ms"`
	RateLimitMaxRequests int                               `bson:"rate_limit_max_requests"`
	ProviderConfigs      map[string]types.ProviderSettings `bson:"provider_configs,omitempty"`
	UpdatedAt            time.Time                         `bson:"updated_at"`
}

func (d configDoc) toConfig() types.GatewayConfig {
	return types.GatewayConfig{
		UserID:               d.UserID,
		DefaultProvider:      d.DefaultProvider,
		EnablePIIDetection:   d.EnablePIIDetection,
		EnableRuleEngine:     d.EnableRuleEngine,
		EnableAuditLogging:   d.EnableAuditLogging,
		RateLimitWindowMs:    d.RateLimitWindowMs,
		RateLimitMaxRequests: d.RateLimitMaxRequests,
		ProviderConfigs:      d.ProviderConfigs,
	}
}

func (s *MongoStore) GetConfig(ctx context.Context, userID string) (types.GatewayConfig, error) {
	var doc configDoc
	err := s.db.Collection(collConfigs).FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err == nil {
		return doc.toConfig(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return types.GatewayConfig{}, fmt.Errorf("get config: %w", err)
	}

	defaults := types.DefaultGatewayConfig(userID)
	if _, err := s.UpdateConfig(ctx, defaults); err != nil {
		return types.GatewayConfig{}, err
	}
	return defaults, nil
}

func (s *MongoStore) UpdateConfig(ctx context.Context, cfg types.GatewayConfig) (types.GatewayConfig, error) {
	doc := configDoc{
		UserID:               cfg.UserID,
		DefaultProvider:      cfg.DefaultProvider,
		EnablePIIDetection:   cfg.EnablePIIDetection,
		EnableRuleEngine:     cfg.EnableRuleEngine,
		EnableAuditLogging:   cfg.EnableAuditLogging,
		RateLimitWindowMs:    cfg.RateLimitWindowMs,
		RateLimitMaxRequests: cfg.RateLimitMaxRequests,
		ProviderConfigs:      cfg.ProviderConfigs,
		UpdatedAt:            time.Now().UTC(),
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.db.Collection(collConfigs).ReplaceOne(ctx, bson.M{"_id": cfg.UserID}, doc, opts); err != nil {
		return types.GatewayConfig{}, fmt.Errorf("update config: %w", err)
	}
	return cfg, nil
}

func (s *MongoStore) InsertUsage(ctx context.Context, record usage.Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	_, err := s.db.Collection(collUsage).InsertOne(ctx, bson.M{
		"_id":                record.ID,
		"user_id":            record.UserID,
		"provider":           record.Provider,
		"model":              record.Model,
		"input_tokens":       record.InputTokens,
		"output_tokens":      record.OutputTokens,
		"total_tokens":       record.TotalTokens,
		"cost":               record.Cost,
		"processing_time_ms": record.ProcessingTimeMs,
		"pii_detected":       record.PIIDetected,
		"rules_triggered":    record.RulesTriggered,
		"request_id":         record.RequestID,
		"created_at":         record.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

func (s *MongoStore) UsageSummary(ctx context.Context, userID string, since time.Time) (usage.Summary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID, "created_at": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id":            nil,
			"total_requests": bson.M{"$sum": 1},
			"total_tokens":   bson.M{"$sum": "$total_tokens"},
			"total_cost":     bson.M{"$sum": "$cost"},
			"pii_detections": bson.M{"$sum": bson.M{"$cond": bson.A{"$pii_detected", 1, 0}}},
		}}},
	}
	cursor, err := s.db.Collection(collUsage).Aggregate(ctx, pipeline)
	if err != nil {
		return usage.Summary{}, fmt.Errorf("usage summary: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	summary := usage.Summary{UserID: userID}
	if cursor.Next(ctx) {
		var agg struct {
			TotalRequests int     `bson:"total_requests"`
			TotalTokens   int     `bson:"total_tokens"`
			TotalCost     float64 `bson:"total_cost"`
			PIIDetections int     `bson:"pii_detections"`
		}
		if err := cursor.Decode(&agg); err != nil {
			return usage.Summary{}, fmt.Errorf("usage summary: %w", err)
		}
		summary.TotalRequests = agg.TotalRequests
		summary.TotalTokens = agg.TotalTokens
		summary.TotalCost = agg.TotalCost
		summary.PIIDetections = agg.PIIDetections
	}
	return summary, cursor.Err()
}

func (s *MongoStore) InsertAudit(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	_, err := s.db.Collection(collAudit).InsertOne(ctx, bson.M{
		"_id":         entry.ID,
		"user_id":     entry.UserID,
		"request_id":  entry.RequestID,
		"action":      entry.Action,
		"resource_id": entry.ResourceID,
		"detail":      entry.Detail,
		"created_at":  entry.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
