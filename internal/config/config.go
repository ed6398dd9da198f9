package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
)

const envPrefix = "TRAVELPAY_"

type Config struct {
	Primary  Primary        `koanf:"primary"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Lock     LockConfig     `koanf:"lock"`
	Platform PlatformConfig `koanf:"platform"`
	Retry    RetryConfig    `koanf:"retry"`
	Webhook  WebhookConfig  `koanf:"webhook"`
	Auth     AuthConfig     `koanf:"auth"`
	Notify   NotifyConfig   `koanf:"notify"`
	Logger   LoggerConfig   `koanf:"logger"`
	Worker   WorkerConfig   `koanf:"worker"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port           string        `koanf:"port" validate:"required"`
	ReadTimeout    time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout   time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout    time.Duration `koanf:"idle_timeout" validate:"required"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"required"`
	// AllowedOrigins is a comma separated list of browser origins allowed by CORS.
	AllowedOrigins string `koanf:"allowed_origins"`
}

// Origins splits AllowedOrigins into its entries.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type DatabaseConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"required"`
	User            string        `koanf:"user" validate:"required"`
	Password        string        `koanf:"password" validate:"required"`
	Name            string        `koanf:"name" validate:"required"`
	SSLMode         string        `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"required"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type LockConfig struct {
	Backend   string        `koanf:"backend" validate:"required,oneof=local redis"`
	TTL       time.Duration `koanf:"ttl" validate:"required"`
	KeyPrefix string        `koanf:"key_prefix"`
}

type PlatformConfig struct {
	BaseURL     string        `koanf:"base_url" validate:"required,url"`
	APIKey      string        `koanf:"api_key" validate:"required"`
	CallTimeout time.Duration `koanf:"call_timeout" validate:"required"`
	Currency    string        `koanf:"currency" validate:"required"`
}

type RetryConfig struct {
	BaseDelay   time.Duration `koanf:"base_delay" validate:"required"`
	Multiplier  float64       `koanf:"multiplier" validate:"required,gte=1"`
	MaxAttempts int           `koanf:"max_attempts" validate:"required,min=1"`
}

const (
	// lockedPlatformCalls is the most platform calls one operation makes while holding a payment lock.
	lockedPlatformCalls = 3
	retryJitter         = 1.2
	maxRetryDelay       = 30 * time.Second
)

// CallBudget is the longest one retried platform call can take, jitter included.
func (r RetryConfig) CallBudget(callTimeout time.Duration) time.Duration {
	total := time.Duration(r.MaxAttempts) * callTimeout
	delay := float64(r.BaseDelay)
	for i := 1; i < r.MaxAttempts; i++ {
		total += time.Duration(math.Round(math.Min(delay*retryJitter, float64(maxRetryDelay))))
		delay *= r.Multiplier
	}
	return total
}

// LockBudget is the worst case time an operation holds a payment lock.
func (c *Config) LockBudget() time.Duration {
	return lockedPlatformCalls * c.Retry.CallBudget(c.Platform.CallTimeout)
}

func (c *Config) validateLockTTL() error {
	if budget := c.LockBudget(); c.Lock.TTL < budget {
		return fmt.Errorf("lock.ttl %s is shorter than the worst-case platform budget %s", c.Lock.TTL, budget)
	}
	return nil
}

type WebhookConfig struct {
	Secret          string        `koanf:"secret" validate:"required"`
	FreshnessWindow time.Duration `koanf:"freshness_window" validate:"required"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret" validate:"required"`
	Issuer    string `koanf:"issuer"`
}

type NotifyConfig struct {
	Timeout  time.Duration  `koanf:"timeout" validate:"required"`
	RabbitMQ RabbitMQConfig `koanf:"rabbitmq"`
	SMTP     SMTPConfig     `koanf:"smtp"`
}

type RabbitMQConfig struct {
	URL      string `koanf:"url"`
	Exchange string `koanf:"exchange"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

type LoggerConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type WorkerConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Interval   time.Duration `koanf:"interval" validate:"required"`
	BatchSize  int           `koanf:"batch_size" validate:"required"`
	StaleAfter time.Duration `koanf:"stale_after" validate:"required"`
}

func defaults() map[string]any {
	return map[string]any{
		"primary.env":                 "development",
		"server.port":                 "8080",
		"server.read_timeout":         "10s",
		"server.write_timeout":        "30s",
		"server.idle_timeout":         "60s",
		"server.request_timeout":      "25s",
		"server.allowed_origins":      "*",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     10,
		"database.max_idle_conns":     2,
		"database.conn_max_lifetime":  "1h",
		"database.conn_max_idle_time": "30m",
		"lock.backend":                "local",
		"lock.ttl":                    "3m",
		"lock.key_prefix":             "travelpay:lock:",
		"platform.base_url":           "https://api.minepi.com",
		"platform.call_timeout":       "10s",
		"platform.currency":           "PI",
		"retry.base_delay":            "200ms",
		"retry.multiplier":            2.0,
		"retry.max_attempts":          3,
		"webhook.freshness_window":    "5m",
		"notify.timeout":              "10s",
		"notify.rabbitmq.exchange":    "booking_events",
		"notify.smtp.port":            587,
		"logger.level":                "info",
		"logger.format":               "json",
		"worker.enabled":              false,
		"worker.interval":             "1m",
		"worker.batch_size":           50,
		"worker.stale_after":          "10m",
	}
}

func LoadConfig() (*Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		logger.Error("failed to load config defaults", "error", err)
		return nil, err
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, envPrefix)),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		logger.Error("failed to load environment variables", "error", err)
		return nil, err
	}

	mainConfig := &Config{}

	err = k.Unmarshal("", mainConfig)
	if err != nil {
		logger.Error("could not unmarshal main config", "error", err)
		return nil, err
	}

	validate := validator.New()

	err = validate.Struct(mainConfig)
	if err != nil {
		logger.Error("config validation failed", "error", err)
		return nil, err
	}

	if err := mainConfig.validateLockTTL(); err != nil {
		logger.Error("config validation failed", "error", err)
		return nil, err
	}

	return mainConfig, nil
}
