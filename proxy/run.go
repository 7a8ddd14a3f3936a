// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"

	"axonflow/gateway/shared/logger"
)

// Run loads configuration, builds the gateway, and serves until SIGINT or
// SIGTERM. It is the whole of cmd/gateway.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	log := logger.New("gateway")

	gateway, err := NewGateway(cfg, log)
	if err != nil {
		return err
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSOrigin, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", userIDHeader},
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler.Handler(gateway.Router()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "gateway listening", map[string]interface{}{
			"port":        cfg.Port,
			"environment": cfg.Environment,
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("", "", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("", "", "graceful shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	// Flush queued usage records before exiting.
	gateway.Close()
	return nil
}
