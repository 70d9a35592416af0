package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	SolanaRPCURL  string
	SolanaNetwork string

	RelayURL     string
	RelayEnabled bool

	CheckoutBaseURL string
	SessionTTL      time.Duration

	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration

	WebhookRequestTimeout time.Duration
	WebhookMaxAttempts    int
	WebhookReplayTTL      time.Duration

	CORSAllowedOrigins []string
	RateLimitPerMinute int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		SolanaRPCURL:  valueOrDefault(k.String("SOLANA_RPC_URL"), "https://api.devnet.solana.com"),
		SolanaNetwork: valueOrDefault(k.String("SOLANA_NETWORK"), "devnet"),

		RelayURL:     strings.TrimSpace(k.String("RELAY_URL")),
		RelayEnabled: parseBool(k.String("RELAY_ENABLED")),

		CheckoutBaseURL: valueOrDefault(k.String("CHECKOUT_BASE_URL"), "http://localhost:8080/pay"),
		SessionTTL:      parseDuration(k.String("SESSION_TTL"), "30m"),

		ConfirmPollInterval: parseDuration(k.String("CONFIRM_POLL_INTERVAL"), "2s"),
		ConfirmTimeout:      parseDuration(k.String("CONFIRM_TIMEOUT"), "90s"),

		WebhookRequestTimeout: parseDuration(k.String("WEBHOOK_REQUEST_TIMEOUT"), "10s"),
		WebhookMaxAttempts:    parseInt(k.String("WEBHOOK_MAX_ATTEMPTS"), 6),
		WebhookReplayTTL:      parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RateLimitPerMinute: parseInt(k.String("RATE_LIMIT_PER_MINUTE"), 120),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.RelayEnabled && cfg.RelayURL == "" {
		return nil, errors.New("RELAY_URL is required when RELAY_ENABLED is set")
	}
	switch cfg.SolanaNetwork {
	case "devnet", "mainnet-beta":
	default:
		return nil, fmt.Errorf("unsupported SOLANA_NETWORK %q", cfg.SolanaNetwork)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
