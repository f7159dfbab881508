package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// insecureSecretDefault is only acceptable outside production. Load rejects it
// (and an empty secret) when environment is "production".
const insecureSecretDefault = "change-this-in-production"

type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Alerts      AlertsConfig    `mapstructure:"alerts"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	Issuer          string        `mapstructure:"issuer"`
	LockoutWindow   time.Duration `mapstructure:"lockout_window"`
	MaxFailedLogins int           `mapstructure:"max_failed_logins"`
}

type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds a pgx-compatible connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type AlertsConfig struct {
	NATSURL     string        `mapstructure:"nats_url"`
	NATSEnabled bool          `mapstructure:"nats_enabled"`
	WebhookURL  string        `mapstructure:"webhook_url"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("auth.jwt_secret", insecureSecretDefault)
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.issuer", "smarttutor-connect")
	v.SetDefault("auth.lockout_window", "15m")
	v.SetDefault("auth.max_failed_logins", 5)
	v.SetDefault("database.type", "memory")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("rate_limit.limit", 8)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("alerts.nats_enabled", false)
	v.SetDefault("alerts.nats_url", "nats://localhost:4222")
	v.SetDefault("alerts.send_timeout", "10s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/trustcore")
	}

	// Environment variables override
	v.SetEnvPrefix("TRUSTCORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate fails closed on insecure production setups. A missing or default
// signing secret must be a startup error, never a silent fallback.
func (c *Config) validate() error {
	if c.Environment == "production" {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == insecureSecretDefault {
			return fmt.Errorf("auth.jwt_secret must be set in production")
		}
	}
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("rate_limit.limit must be positive")
	}
	return nil
}
