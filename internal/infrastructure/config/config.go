package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateways      GatewaysConfig      `mapstructure:"gateways"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Hooks         HooksConfig         `mapstructure:"hooks"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	WebhookRateLimit int           `mapstructure:"webhook_rate_limit"`
	CORS             CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// GatewayConfig holds one gateway's credentials and endpoint.
type GatewayConfig struct {
	MerchantID   string `mapstructure:"merchant_id"`
	APIKey       string `mapstructure:"api_key"`
	EventsSecret string `mapstructure:"events_secret"`
	BaseURL      string `mapstructure:"base_url"`
}

type GatewaysConfig struct {
	PayU      GatewayConfig `mapstructure:"payu"`
	Wompi     GatewayConfig `mapstructure:"wompi"`
	PayValida GatewayConfig `mapstructure:"payvalida"`
}

// ReconcileConfig tunes the reconciliation engine.
type ReconcileConfig struct {
	// LockTimeout bounds how long a reconciliation waits for the order row
	// lock before giving up and retrying.
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	ChargeTimeout time.Duration `mapstructure:"charge_timeout"`
}

type WorkerConfig struct {
	BatchSize          int64         `mapstructure:"batch_size"`
	BlockDuration      time.Duration `mapstructure:"block_duration"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	// NotificationRetryAge is how long a notification may sit unprocessed
	// before the retry loop picks it up.
	NotificationRetryAge     time.Duration `mapstructure:"notification_retry_age"`
	NotificationPollInterval time.Duration `mapstructure:"notification_poll_interval"`
	ConsumerGroup            string        `mapstructure:"consumer_group"`
	IdempotencyTTL           time.Duration `mapstructure:"idempotency_ttl"`
}

// HooksConfig holds the collaborator endpoints the hook consumers call.
type HooksConfig struct {
	CommissionURL   string `mapstructure:"commission_url"`
	StockURL        string `mapstructure:"stock_url"`
	NotificationURL string `mapstructure:"notification_url"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("GATEWIRE")
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/gatewire")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Reconcile.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.lock_timeout must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		for name, gw := range map[string]GatewayConfig{
			"payu": c.Gateways.PayU, "wompi": c.Gateways.Wompi, "payvalida": c.Gateways.PayValida,
		} {
			if gw.APIKey == "" {
				errs = append(errs, fmt.Errorf("gateways.%s.api_key required in production", name))
			}
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.webhook_rate_limit", 300)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gatewire")
	v.SetDefault("database.database", "gatewire")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Gateway defaults: sandbox endpoints, credentials come from env.
	v.SetDefault("gateways.payu.base_url", "https://sandbox.api.payulatam.com")
	v.SetDefault("gateways.wompi.base_url", "https://sandbox.wompi.co")
	v.SetDefault("gateways.payvalida.base_url", "https://sandbox.payvalida.com")

	// Reconcile defaults
	v.SetDefault("reconcile.lock_timeout", "3s")
	v.SetDefault("reconcile.max_retries", 3)
	v.SetDefault("reconcile.retry_delay", "100ms")
	v.SetDefault("reconcile.charge_timeout", "10s")

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.notification_retry_age", "1m")
	v.SetDefault("worker.notification_poll_interval", "30s")
	v.SetDefault("worker.consumer_group", "hook-consumers")
	v.SetDefault("worker.idempotency_ttl", "24h")

	// Hook collaborator defaults
	v.SetDefault("hooks.commission_url", "http://commission:8080/events")
	v.SetDefault("hooks.stock_url", "http://stock:8080/events")
	v.SetDefault("hooks.notification_url", "http://notifications:8080/events")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Instance ID
	v.SetDefault("instance_id", "gatewire-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
