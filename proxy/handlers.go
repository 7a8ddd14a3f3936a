// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"axonflow/gateway/proxy/llm"
	"axonflow/gateway/shared/types"
)

// Router builds the data plane's HTTP surface.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/proxy/chat", g.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.RequestTimeout)
	defer cancel()
	ctx = withRequestID(ctx, requestID)

	status := http.StatusOK
	defer func() {
		promRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	}()

	// Rate limiting is IP-keyed and runs before anything else, including
	// authentication.
	ip := clientIP(r)
	if !g.limiter.Allow(ctx, ip) {
		promRateLimited.Inc()
		status = g.writeError(w, requestID, types.NewAPIError(types.CodeRateLimitExceeded, "too many requests"))
		return
	}

	userID, authErr := g.auth.Authenticate(r)
	if authErr != nil {
		status = g.writeError(w, requestID, authErr)
		return
	}

	var req llm.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = g.writeError(w, requestID, types.NewAPIError(types.CodeValidationError, "request body must be valid JSON"))
		return
	}
	if apiErr := validateChatRequest(req); apiErr != nil {
		status = g.writeError(w, requestID, apiErr)
		return
	}

	g.log.Info(userID, requestID, "chat request received", map[string]interface{}{
		"provider":     req.Provider,
		"messageCount": len(req.Messages),
		"stream":       req.Stream,
	})

	data, apiErr := g.processChat(ctx, userID, requestID, req)
	if apiErr != nil {
		g.log.ErrorWithCode(userID, requestID, "chat request failed", apiErr.Code.HTTPStatus(), apiErr, map[string]interface{}{
			"code": apiErr.Code,
		})
		status = g.writeError(w, requestID, apiErr)
		return
	}

	provider := req.Provider
	if provider == "" {
		provider = "default"
	}
	durationMs := float64(time.Since(start).Milliseconds())
	promRequestDuration.WithLabelValues(provider).Observe(durationMs)
	g.log.InfoWithDuration(userID, requestID, "chat request completed", durationMs, map[string]interface{}{
		"provider":         provider,
		"piiDetected":      data.PIIDetected,
		"hasAnonymization": data.HasAnonymization,
	})

	g.writeJSON(w, http.StatusOK, types.NewSuccessResponse(requestID, data))
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "axonflow-gateway",
	})
}

// validateChatRequest rejects malformed requests before any security
// processing or provider spend.
func validateChatRequest(req llm.ChatRequest) *types.APIError {
	if req.Provider != "" && !isSupportedProvider(req.Provider) {
		return types.NewAPIError(types.CodeValidationError,
			fmt.Sprintf("unsupported provider: %q (supported: %s)", req.Provider, strings.Join(llm.SupportedProviders(), ", ")))
	}
	if len(req.Messages) == 0 {
		return types.NewAPIError(types.CodeValidationError, "messages must not be empty")
	}
	nonSystem := 0
	for i, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
		case llm.RoleUser, llm.RoleAssistant:
			nonSystem++
		default:
			return types.NewAPIError(types.CodeValidationError,
				fmt.Sprintf("messages[%d] has invalid role %q", i, msg.Role))
		}
	}
	if nonSystem == 0 {
		return types.NewAPIError(types.CodeValidationError, "conversation needs at least one user or assistant message")
	}
	return nil
}

func isSupportedProvider(provider string) bool {
	upper := strings.ToUpper(strings.TrimSpace(provider))
	for _, p := range llm.SupportedProviders() {
		if p == upper {
			return true
		}
	}
	return false
}

// writeError writes a failure envelope and returns the HTTP status it used.
func (g *Gateway) writeError(w http.ResponseWriter, requestID string, apiErr *types.APIError) int {
	if g.cfg.IsProduction() {
		apiErr = apiErr.Sanitized()
	}
	status := apiErr.Code.HTTPStatus()
	g.writeJSON(w, status, types.NewErrorResponse(requestID, apiErr))
	return status
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.log.Error("", "", "failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
