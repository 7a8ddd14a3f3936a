// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultRequestTimeout applies when REQUEST_TIMEOUT_MS is not set.
const DefaultRequestTimeout = 30 * time.Second

// Config is the data plane's process configuration, loaded from the
// environment at startup.
type Config struct {
	Port       string
	BackendURL string
	JWTSecret  []byte
	CORSOrigin string

	RateLimitWindowMs    int
	RateLimitMaxRequests int

	// Process-wide security switches. The effective per-request behavior is
	// the AND of these and the user's stored configuration.
	EnablePIIDetection     bool
	EnableRuleEngine       bool
	FallbackToRegex        bool
	BlockOnSecurityFailure bool

	PIIAnalyzerURL   string
	PIIAnonymizerURL string
	PIILanguage      string

	RedisURL           string
	RequestTimeout     time.Duration
	ProviderConfigFile string
	Environment        string
}

// LoadConfig reads the environment. The core variables, including all four
// security toggles, are required: a missing or malformed value fails loudly
// at startup rather than silently taking a default. Only the PII service
// addresses, Redis, the provider file, the request timeout, and the
// environment name are optional.
func LoadConfig() (Config, error) {
	cfg := Config{
		PIIAnalyzerURL:     os.Getenv("PII_ANALYZER_URL"),
		PIIAnonymizerURL:   os.Getenv("PII_ANONYMIZER_URL"),
		PIILanguage:        os.Getenv("PII_LANGUAGE"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ProviderConfigFile: os.Getenv("PROVIDER_CONFIG_FILE"),
		Environment:        getEnv("ENVIRONMENT", "development"),
	}

	var err error
	if cfg.Port, err = requireEnv("PORT"); err != nil {
		return Config{}, err
	}
	if cfg.BackendURL, err = requireEnv("BACKEND_URL"); err != nil {
		return Config{}, err
	}
	secret, err := requireEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}
	cfg.JWTSecret = []byte(secret)
	if cfg.CORSOrigin, err = requireEnv("CORS_ORIGIN"); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitWindowMs, err = requireEnvInt("RATE_LIMIT_WINDOW_MS"); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitMaxRequests, err = requireEnvInt("RATE_LIMIT_MAX_REQUESTS"); err != nil {
		return Config{}, err
	}
	if cfg.EnablePIIDetection, err = requireEnvBool("ENABLE_PII_DETECTION"); err != nil {
		return Config{}, err
	}
	if cfg.EnableRuleEngine, err = requireEnvBool("ENABLE_RULE_ENGINE"); err != nil {
		return Config{}, err
	}
	if cfg.FallbackToRegex, err = requireEnvBool("FALLBACK_TO_REGEX"); err != nil {
		return Config{}, err
	}
	if cfg.BlockOnSecurityFailure, err = requireEnvBool("BLOCK_ON_SECURITY_FAILURE"); err != nil {
		return Config{}, err
	}

	timeoutMs, err := getEnvInt("REQUEST_TIMEOUT_MS", int(DefaultRequestTimeout/time.Millisecond))
	if err != nil {
		return Config{}, err
	}
	cfg.RequestTimeout = time.Duration(timeoutMs) * time.Millisecond

	return cfg, nil
}

// IsProduction reports whether error messages should be sanitized before
// being surfaced to callers.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return n, nil
}

func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return value, nil
}

func requireEnvInt(key string) (int, error) {
	value, err := requireEnv(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return n, nil
}

func requireEnvBool(key string) (bool, error) {
	value, err := requireEnv(key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, value)
	}
	return b, nil
}
