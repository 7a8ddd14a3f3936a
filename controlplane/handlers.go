// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"axonflow/gateway/common/usage"
	"axonflow/gateway/shared/logger"
	"axonflow/gateway/shared/types"
)

// userIDHeader carries the identity on internal hops. The control plane sits
// behind the gateway on a private network; it trusts this header.
const userIDHeader = "User-ID"

// defaultSummaryWindow bounds GET /api/v1/usage/summary when no window is given.
const defaultSummaryWindow = 24 * time.Hour

// Server is the control plane's HTTP surface over a Store.
type Server struct {
	store      Store
	log        *logger.Logger
	production bool
}

// NewServer builds the HTTP layer over store.
func NewServer(store Store, log *logger.Logger, production bool) *Server {
	return &Server{store: store, log: log, production: production}
}

// Router builds the control plane's routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/rules", s.handleListRules).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/rules", s.handleCreateRule).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/rules/{id}", s.handleUpdateRule).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/config", s.handleUpdateConfig).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/usage", s.handleRecordUsage).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/usage/summary", s.handleUsageSummary).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	requestID := incomingRequestID(r)
	userID, apiErr := identity(r)
	if apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	rules, err := s.store.ListRules(r.Context(), userID)
	if err != nil {
		s.writeError(w, requestID, s.storeError(userID, requestID, "list rules failed", err))
		return
	}
	s.writeJSON(w, http.StatusOK, types.NewSuccessResponse(requestID, rules))
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	requestID := incomingRequestID(r)
	userID, apiErr := identity(r)
	if apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	var rule types.SecurityRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.writeError(w, requestID, types.NewAPIError(types.CodeValidationError, "request body must be valid JSON"))
		return
	}
	rule.UserID = userID
	if apiErr := validateRule(rule); apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	created, err := s.store.CreateRule(r.Context(), rule)
	if err != nil {
		s.writeError(w, requestID, s.storeError(userID, requestID, "create rule failed", err))
		return
	}

	s.audit(r, userID, requestID, AuditRuleCreated, created.ID, map[string]interface{}{
		"name":   created.Name,
		"action": created.Action,
	})
	s.writeJSON(w, http.StatusCreated, types.NewSuccessResponse(requestID, created))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	requestID := incomingRequestID(r)
	userID, apiErr := identity(r)
	if apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	var rule types.SecurityRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.writeError(w, requestID, types.NewAPIError(types.CodeValidationError, "request body must be valid JSON"))
		return
	}
	rule.ID = mux.Vars(r)["id"]
	rule.UserID = userID
	if apiErr := validateRule(rule); apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	updated, err := s.store.UpdateRule(r.Context(), rule)
	if err != nil {
		s.writeError(w, requestID, s.storeError(userID, requestID, "update rule failed", err))
		return
	}

	s.audit(r, userID, requestID, AuditRuleUpdated, updated.ID, map[string]interface{}{
		"name":   updated.Name,
		"action": updated.Action,
	})
	s.writeJSON(w, http.StatusOK, types.NewSuccessResponse(requestID, updated))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	requestID := incomingRequestID(r)
	userID, apiErr := identity(r)
	if apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	ruleID := mux.Vars(r)["id"]
	if err := s.store.DeleteRule(r.Context(), userID, ruleID); err != nil {
		s.writeError(w, requestID, s.storeError(userID, requestID, "delete rule failed", err))
		return
	}

	s.audit(r, userID, requestID, AuditRuleDeleted, ruleID, nil)
	s.writeJSON(w, http.StatusOK, types.NewSuccessResponse(requestID, map[string]string{"id": ruleID}))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	requestID := incomingRequestID(r)
	userID, apiErr := identity(r)
	if apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	cfg, err := s.store.GetConfig(r.Context(), userID)
	if err != nil {
		s.writeError(w, requestID, s.storeError(userID, requestID, "get config failed", err))
		return
	}
	s.writeJSON(w, http.StatusOK, types.NewSuccessResponse(requestID, cfg))
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	requestID := incomingRequestID(r)
	userID, apiErr := identity(r)
	if apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	var cfg types.GatewayConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, requestID, types.NewAPIError(types.CodeValidationError, "request body must be valid JSON"))
		return
	}
	cfg.UserID = userID
	if apiErr := validateConfig(cfg); apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	updated, err := s.store.UpdateConfig(r.Context(), cfg)
	if err != nil {
		s.writeError(w, requestID, s.storeError(userID, requestID, "update config failed", err))
		return
	}

	s.audit(r, userID, requestID, AuditConfigUpdated, userID, map[string]interface{}{
		"defaultProvider":    updated.DefaultProvider,
		"enablePIIDetection": updated.EnablePIIDetection,
		"enableRuleEngine":   updated.EnableRuleEngine,
	})
	s.writeJSON(w, http.StatusOK, types.NewSuccessResponse(requestID, updated))
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	requestID := incomingRequestID(r)
	userID, apiErr := identity(r)
	if apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	var record usage.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		s.writeError(w, requestID, types.NewAPIError(types.CodeValidationError, "request body must be valid JSON"))
		return
	}
	record.UserID = userID

	if err := s.store.InsertUsage(r.Context(), record); err != nil {
		s.writeError(w, requestID, s.storeError(userID, requestID, "insert usage failed", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, types.NewSuccessResponse(requestID, nil))
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	requestID := incomingRequestID(r)
	userID, apiErr := identity(r)
	if apiErr != nil {
		s.writeError(w, requestID, apiErr)
		return
	}

	window := defaultSummaryWindow
	if raw := r.URL.Query().Get("windowHours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			s.writeError(w, requestID, types.NewAPIError(types.CodeValidationError, "windowHours must be a positive integer"))
			return
		}
		window = time.Duration(hours) * time.Hour
	}

	summary, err := s.store.UsageSummary(r.Context(), userID, time.Now().Add(-window))
	if err != nil {
		s.writeError(w, requestID, s.storeError(userID, requestID, "usage summary failed", err))
		return
	}
	s.writeJSON(w, http.StatusOK, types.NewSuccessResponse(requestID, summary))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "axonflow-controlplane",
	})
}

// validateConfig rejects config payloads the gateway could not act on.
func validateConfig(cfg types.GatewayConfig) *types.APIError {
	switch cfg.DefaultProvider {
	case "OPENAI", "CLAUDE", "GEMINI":
	default:
		return types.NewAPIError(types.CodeValidationError, "defaultProvider must be one of OPENAI, CLAUDE, GEMINI")
	}
	if cfg.RateLimitWindowMs < 0 || cfg.RateLimitMaxRequests < 0 {
		return types.NewAPIError(types.CodeValidationError, "rate limit values must not be negative")
	}
	return nil
}

// audit writes a best-effort audit entry when the user has audit logging
// enabled. Failures are logged, never surfaced.
func (s *Server) audit(r *http.Request, userID, requestID, action, resourceID string, detail map[string]interface{}) {
	cfg, err := s.store.GetConfig(r.Context(), userID)
	if err == nil && !cfg.EnableAuditLogging {
		return
	}

	entry := AuditEntry{
		UserID:     userID,
		RequestID:  requestID,
		Action:     action,
		ResourceID: resourceID,
		Detail:     detail,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.store.InsertAudit(r.Context(), entry); err != nil {
		s.log.Warn(userID, requestID, "audit write failed", map[string]interface{}{
			"action": action,
			"error":  err.Error(),
		})
	}
}

func (s *Server) storeError(userID, requestID, message string, err error) *types.APIError {
	if errors.Is(err, ErrNotFound) {
		return types.NewAPIError(types.CodeNotFound, "rule not found")
	}
	s.log.Error(userID, requestID, message, map[string]interface{}{
		"error": err.Error(),
	})
	return types.NewAPIError(types.CodeInternalError, err.Error())
}

func identity(r *http.Request) (string, *types.APIError) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		return "", types.NewAPIError(types.CodeAuthenticationError, "missing User-ID header")
	}
	return userID, nil
}

// incomingRequestID reuses the gateway's id when propagated, otherwise mints one.
func incomingRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) writeError(w http.ResponseWriter, requestID string, apiErr *types.APIError) {
	if s.production {
		apiErr = apiErr.Sanitized()
	}
	s.writeJSON(w, apiErr.Code.HTTPStatus(), types.NewErrorResponse(requestID, apiErr))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("", "", "failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
