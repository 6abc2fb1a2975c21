// Package config loads backend configuration from the environment, with an
// optional YAML file overlaying the built-in defaults before env is applied.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for the backend process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Billing   BillingConfig   `yaml:"billing"`
	AI        AIConfig        `yaml:"ai"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"STRIDE_SERVER_HOST"`
	Port            int           `yaml:"port" env:"STRIDE_SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"STRIDE_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"STRIDE_SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"STRIDE_SERVER_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  string        `yaml:"allowed_origins" env:"STRIDE_SERVER_ALLOWED_ORIGINS"`
}

// Origins returns the CORS allow-list parsed from the comma-separated field.
func (s ServerConfig) Origins() []string {
	if strings.TrimSpace(s.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(s.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DatabaseConfig controls the postgres connection pool. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"STRIDE_DB_DRIVER"`
	DSN             string `yaml:"dsn" env:"STRIDE_DB_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"STRIDE_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"STRIDE_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"STRIDE_DB_CONN_MAX_LIFETIME"`
}

// RedisConfig controls the optional cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"STRIDE_REDIS_ADDR"`
	Password string `yaml:"password" env:"STRIDE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"STRIDE_REDIS_DB"`
}

// AuthConfig controls token issuing and verification. AdminToken guards the
// operational endpoints; when empty they are not served.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"STRIDE_AUTH_JWT_SECRET"`
	TokenTTL   time.Duration `yaml:"token_ttl" env:"STRIDE_AUTH_TOKEN_TTL"`
	Issuer     string        `yaml:"issuer" env:"STRIDE_AUTH_ISSUER"`
	AdminToken string        `yaml:"admin_token" env:"STRIDE_AUTH_ADMIN_TOKEN"`
}

// BillingConfig controls Apple receipt verification.
type BillingConfig struct {
	AppleProductionURL string        `yaml:"apple_production_url" env:"STRIDE_BILLING_APPLE_PRODUCTION_URL"`
	AppleSandboxURL    string        `yaml:"apple_sandbox_url" env:"STRIDE_BILLING_APPLE_SANDBOX_URL"`
	AppleSharedSecret  string        `yaml:"apple_shared_secret" env:"STRIDE_BILLING_APPLE_SHARED_SECRET"`
	VerifyTimeout      time.Duration `yaml:"verify_timeout" env:"STRIDE_BILLING_VERIFY_TIMEOUT"`
	SweepInterval      time.Duration `yaml:"sweep_interval" env:"STRIDE_BILLING_SWEEP_INTERVAL"`
	SweepLookahead     time.Duration `yaml:"sweep_lookahead" env:"STRIDE_BILLING_SWEEP_LOOKAHEAD"`
}

// AIConfig controls the chat-completions planner client. An empty APIKey
// disables the remote planner.
type AIConfig struct {
	BaseURL     string        `yaml:"base_url" env:"STRIDE_AI_BASE_URL"`
	APIKey      string        `yaml:"api_key" env:"STRIDE_AI_API_KEY"`
	Model       string        `yaml:"model" env:"STRIDE_AI_MODEL"`
	Timeout     time.Duration `yaml:"timeout" env:"STRIDE_AI_TIMEOUT"`
	MaxAttempts int           `yaml:"max_attempts" env:"STRIDE_AI_MAX_ATTEMPTS"`
}

// RateLimitConfig controls the per-client HTTP rate limiter.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" env:"STRIDE_RATELIMIT_ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"STRIDE_RATELIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"STRIDE_RATELIMIT_BURST"`
}

// AuditConfig controls the mutating-request audit trail.
type AuditConfig struct {
	LogFile string `yaml:"log_file" env:"STRIDE_AUDIT_LOG_FILE"`
}

// LoggingConfig mirrors pkg/logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"STRIDE_LOG_LEVEL"`
	Format     string `yaml:"format" env:"STRIDE_LOG_FORMAT"`
	Output     string `yaml:"output" env:"STRIDE_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"STRIDE_LOG_FILE_PREFIX"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
			Issuer:   "stride",
		},
		Billing: BillingConfig{
			AppleProductionURL: "https://buy.itunes.apple.com/verifyReceipt",
			AppleSandboxURL:    "https://sandbox.itunes.apple.com/verifyReceipt",
			VerifyTimeout:      15 * time.Second,
			SweepInterval:      6 * time.Hour,
			SweepLookahead:     24 * time.Hour,
		},
		AI: AIConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			Burst:             30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file named
// by STRIDE_CONFIG, then STRIDE_* environment variables. A local .env file is
// honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("STRIDE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Database.DSN != "" && c.Database.Driver == "" {
		return errors.New("database dsn set but driver empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}
	if c.Billing.AppleProductionURL == "" || c.Billing.AppleSandboxURL == "" {
		return errors.New("apple verification endpoints must be set")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return errors.New("rate limit rps must be positive when enabled")
	}
	return nil
}
