package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the dialtone telephony service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// ProviderMode selects the signaling provider backend: "mock" or "gateway".
	ProviderMode string
	GatewayWSURL string

	TokenSigningSecret string
	TokenIssuer        string
	TokenAudience      string
	TokenTTL           time.Duration

	// Renewal scheduler timings. MaxTokenAge must stay below TokenTTL so a
	// forced renewal always lands before the credential actually expires.
	RenewInterval       time.Duration
	HealthCheckInterval time.Duration
	MaxTokenAge         time.Duration
	ReinitDelay         time.Duration

	DatabaseURL string
	RedisAddr   string

	// WorkspaceEndpointCap limits concurrently registered endpoints per
	// workspace. The product invariant is a single active endpoint.
	WorkspaceEndpointCap int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "dialtone"),
		AllowAnyOrigin:       false,
		ProviderMode:         envOrDefault("PROVIDER_MODE", "mock"),
		GatewayWSURL:         envTrimmed("PROVIDER_GATEWAY_WS_URL"),
		TokenSigningSecret:   envTrimmed("TOKEN_SIGNING_SECRET"),
		TokenIssuer:          envOrDefault("TOKEN_ISSUER", "dialtone"),
		TokenAudience:        envOrDefault("TOKEN_AUDIENCE", "signaling"),
		DatabaseURL:          envTrimmed("DATABASE_URL"),
		RedisAddr:            envTrimmed("REDIS_ADDR"),
		ShutdownTimeout:      15 * time.Second,
		TokenTTL:             time.Hour,
		RenewInterval:        30 * time.Minute,
		HealthCheckInterval:  5 * time.Minute,
		MaxTokenAge:          55 * time.Minute,
		ReinitDelay:          time.Second,
		WorkspaceEndpointCap: 1,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL, err = durationFromEnv("TOKEN_TTL", cfg.TokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.RenewInterval, err = durationFromEnv("TOKEN_RENEW_INTERVAL", cfg.RenewInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.HealthCheckInterval, err = durationFromEnv("TOKEN_HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTokenAge, err = durationFromEnv("TOKEN_MAX_AGE", cfg.MaxTokenAge)
	if err != nil {
		return Config{}, err
	}
	cfg.ReinitDelay, err = durationFromEnv("SESSION_REINIT_DELAY", cfg.ReinitDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkspaceEndpointCap, err = intFromEnv("WORKSPACE_ENDPOINT_CAP", cfg.WorkspaceEndpointCap)
	if err != nil {
		return Config{}, err
	}

	if cfg.TokenSigningSecret == "" {
		return Config{}, fmt.Errorf("TOKEN_SIGNING_SECRET is required")
	}
	switch cfg.ProviderMode {
	case "mock":
	case "gateway":
		if cfg.GatewayWSURL == "" {
			return Config{}, fmt.Errorf("PROVIDER_GATEWAY_WS_URL is required when PROVIDER_MODE=gateway")
		}
	default:
		return Config{}, fmt.Errorf("invalid PROVIDER_MODE: %q (expected mock|gateway)", cfg.ProviderMode)
	}
	if cfg.RenewInterval <= 0 || cfg.HealthCheckInterval <= 0 {
		return Config{}, fmt.Errorf("renewal intervals must be positive")
	}
	if cfg.MaxTokenAge <= cfg.RenewInterval {
		return Config{}, fmt.Errorf("TOKEN_MAX_AGE must exceed TOKEN_RENEW_INTERVAL")
	}
	if cfg.MaxTokenAge >= cfg.TokenTTL {
		return Config{}, fmt.Errorf("TOKEN_MAX_AGE must stay below TOKEN_TTL")
	}
	if cfg.ReinitDelay <= 0 {
		return Config{}, fmt.Errorf("SESSION_REINIT_DELAY must be positive")
	}
	if cfg.WorkspaceEndpointCap <= 0 {
		return Config{}, fmt.Errorf("WORKSPACE_ENDPOINT_CAP must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
