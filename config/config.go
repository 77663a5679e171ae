package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Token    TokenConfig    `mapstructure:"token"`
	MFA      MFAConfig      `mapstructure:"mfa"`
	Security SecurityConfig `mapstructure:"security"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AuthConfig controls session lifetimes and the public base URL embedded in
// verification and password-reset links.
type AuthConfig struct {
	SessionIdleTTL     time.Duration `mapstructure:"session_idle_ttl"`
	SessionAbsoluteTTL time.Duration `mapstructure:"session_absolute_ttl"`
	BaseURL            string        `mapstructure:"base_url"`
}

// TokenConfig configures the signed single-purpose link tokens
// (email verification, password reset). Sessions do not use these:
// session tokens are opaque random strings.
type TokenConfig struct {
	Secret    string        `mapstructure:"secret"`
	Issuer    string        `mapstructure:"issuer"`
	VerifyTTL time.Duration `mapstructure:"verify_ttl"`
	ResetTTL  time.Duration `mapstructure:"reset_ttl"`
}

type MFAConfig struct {
	Issuer      string `mapstructure:"issuer"`       // TOTP issuer shown in authenticator apps
	BackupCodes int    `mapstructure:"backup_codes"` // one-time backup codes issued on enable
}

// SecurityConfig holds the at-rest encryption key and the
// suspicious-activity policy knobs.
type SecurityConfig struct {
	AESKey      string `mapstructure:"aes_key"`      // 32-byte hex-encoded key for AES-256
	HistorySize int    `mapstructure:"history_size"` // recent sessions compared by the activity detector
}

// WebhookConfig describes the delivery destination and its retry policy.
type WebhookConfig struct {
	TargetURL  string        `mapstructure:"target_url"`
	Secret     string        `mapstructure:"secret"`   // HMAC key for outbound signatures
	Strategy   string        `mapstructure:"strategy"` // fixed, linear, exponential
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
	BatchSize  int           `mapstructure:"batch_size"` // events claimed per retry sweep
	Interval   time.Duration `mapstructure:"interval"`   // retry sweep period
	DedupTTL   time.Duration `mapstructure:"dedup_ttl"`  // ingestion dedup window
}

type BillingConfig struct {
	BaseURL string        `mapstructure:"base_url"` // empty = billing disabled
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CleanupConfig drives the background janitor.
type CleanupConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	AttemptRetention time.Duration `mapstructure:"attempt_retention"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: MW (MindWell).
// Nested keys use underscore: MW_DATABASE_HOST, MW_TOKEN_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "mindwell")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.session_idle_ttl", "30m")
	v.SetDefault("auth.session_absolute_ttl", "720h") // 30 days hard cap
	v.SetDefault("auth.base_url", "http://localhost:3000")
	v.SetDefault("token.secret", "")
	v.SetDefault("token.issuer", "mindwell-platform")
	v.SetDefault("token.verify_ttl", "24h")
	v.SetDefault("token.reset_ttl", "1h")
	v.SetDefault("mfa.issuer", "MindWell")
	v.SetDefault("mfa.backup_codes", 10)
	v.SetDefault("security.aes_key", "")
	v.SetDefault("security.history_size", 5)
	v.SetDefault("webhook.target_url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.strategy", "exponential")
	v.SetDefault("webhook.base_delay", "30s")
	v.SetDefault("webhook.max_delay", "1h")
	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.batch_size", 50)
	v.SetDefault("webhook.interval", "1m")
	v.SetDefault("webhook.dedup_ttl", "10m")
	v.SetDefault("billing.base_url", "")
	v.SetDefault("billing.api_key", "")
	v.SetDefault("billing.timeout", "10s")
	v.SetDefault("cleanup.interval", "30m")
	v.SetDefault("cleanup.attempt_retention", "720h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: MW_DATABASE_HOST -> database.host
	v.SetEnvPrefix("MW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
