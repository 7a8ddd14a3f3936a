// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package controlplane

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"axonflow/gateway/shared/logger"
)

// Config is the control plane's process configuration.
type Config struct {
	Port           string
	StorageBackend string // "postgres" (default) or "mongodb"
	DatabaseURL    string
	MongoURL       string
	MongoDatabase  string
	Environment    string
}

// LoadConfig reads the environment and fails loudly on a missing or
// inconsistent storage configuration.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:           getEnv("PORT", "3001"),
		StorageBackend: getEnv("STORAGE_BACKEND", "postgres"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MongoURL:       os.Getenv("MONGO_URL"),
		MongoDatabase:  os.Getenv("MONGO_DATABASE"),
		Environment:    getEnv("ENVIRONMENT", "development"),
	}

	switch cfg.StorageBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case "mongodb":
		if cfg.MongoURL == "" {
			return Config{}, fmt.Errorf("MONGO_URL is required for the mongodb backend")
		}
	default:
		return Config{}, fmt.Errorf("STORAGE_BACKEND must be postgres or mongodb, got %q", cfg.StorageBackend)
	}

	return cfg, nil
}

// IsProduction reports whether error messages should be sanitized.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Run loads configuration, opens the configured store, and serves until
// SIGINT or SIGTERM. It is the whole of cmd/controlplane.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	log := logger.New("controlplane")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store Store
	switch cfg.StorageBackend {
	case "mongodb":
		store, err = OpenMongo(ctx, cfg.MongoURL, cfg.MongoDatabase, log)
	default:
		store, err = OpenPostgres(ctx, cfg.DatabaseURL, log)
	}
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      NewServer(store, log, cfg.IsProduction()).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "control plane listening", map[string]interface{}{
			"port":    cfg.Port,
			"backend": cfg.StorageBackend,
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
	return nil
}
