package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
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

type PaymentConfig struct {
	Currency          string        `mapstructure:"currency"`
	OrderTimeout      time.Duration `mapstructure:"order_timeout"`
	CreateMaxAttempts uint          `mapstructure:"create_max_attempts"`
	CreateRetryDelay  time.Duration `mapstructure:"create_retry_delay"`
	CreateMaxDelay    time.Duration `mapstructure:"create_max_delay"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
}

type GatewayConfig struct {
	Default             string         `mapstructure:"default"`
	Timeout             time.Duration  `mapstructure:"timeout"`
	BreakerMaxRequests  uint32         `mapstructure:"breaker_max_requests"`
	BreakerInterval     time.Duration  `mapstructure:"breaker_interval"`
	BreakerTimeout      time.Duration  `mapstructure:"breaker_timeout"`
	BreakerMinRequests  uint32         `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio float64        `mapstructure:"breaker_failure_ratio"`
	EnableMock          bool           `mapstructure:"enable_mock"`
	Razorpay            RazorpayConfig `mapstructure:"razorpay"`
	Stripe              StripeConfig   `mapstructure:"stripe"`
}

type RazorpayConfig struct {
	KeyID         string `mapstructure:"key_id"`
	KeySecret     string `mapstructure:"key_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	BaseURL       string `mapstructure:"base_url"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	BaseURL       string `mapstructure:"base_url"`
}

type AuditConfig struct {
	MaxAttempts   uint          `mapstructure:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	DeadLetterKey string        `mapstructure:"dead_letter_stream"`
}

type NotifyConfig struct {
	RelayURL    string        `mapstructure:"relay_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts uint          `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type WorkerConfig struct {
	BatchSize           int64         `mapstructure:"batch_size"`
	BlockDuration       time.Duration `mapstructure:"block_duration"`
	OutboxPollInterval  time.Duration `mapstructure:"outbox_poll_interval"`
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
	ConsumerGroup       string        `mapstructure:"consumer_group"`
	AuditConsumerGroup  string        `mapstructure:"audit_consumer_group"`
	ReclaimAfter        time.Duration `mapstructure:"reclaim_after"`
	SweepBatchSize      int           `mapstructure:"sweep_batch_size"`
	HousekeepingEvery   time.Duration `mapstructure:"housekeeping_interval"`
	OutboxRetention     time.Duration `mapstructure:"outbox_retention"`
	IdempotencyTTL      time.Duration `mapstructure:"idempotency_ttl"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables, e.g. EVENTPAY_GATEWAY_RAZORPAY_KEY_ID
	v.SetEnvPrefix("EVENTPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/eventpay")

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
	if len(c.Payment.Currency) != 3 {
		errs = append(errs, fmt.Errorf("payment.currency must be a 3-letter ISO code"))
	}
	if c.Payment.OrderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("payment.order_timeout must be positive"))
	}
	if c.Payment.CreateMaxAttempts == 0 || c.Payment.CreateMaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("payment.create_max_attempts must be between 1 and 10"))
	}
	if c.Payment.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("payment.lock_ttl must be positive"))
	}
	switch c.Gateway.Default {
	case "razorpay", "stripe", "mock":
	default:
		errs = append(errs, fmt.Errorf("gateway.default must be razorpay, stripe or mock, got %q", c.Gateway.Default))
	}
	if c.Gateway.Default == "mock" && !c.Gateway.EnableMock {
		errs = append(errs, fmt.Errorf("gateway.default is mock but gateway.enable_mock is false"))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout must be positive"))
	}
	if c.Audit.MaxAttempts == 0 {
		errs = append(errs, fmt.Errorf("audit.max_attempts must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.SweepBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.sweep_batch_size must be positive"))
	}
	if c.Worker.ExpirySweepInterval <= 0 || c.Worker.OutboxPollInterval <= 0 || c.Worker.HousekeepingEvery <= 0 {
		errs = append(errs, fmt.Errorf("worker intervals must be positive"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Gateway.EnableMock {
			errs = append(errs, fmt.Errorf("gateway.enable_mock not allowed in production"))
		}
		if c.Gateway.Default == "razorpay" && (c.Gateway.Razorpay.KeySecret == "" || c.Gateway.Razorpay.WebhookSecret == "") {
			errs = append(errs, fmt.Errorf("gateway.razorpay credentials required in production"))
		}
		if c.Gateway.Default == "stripe" && (c.Gateway.Stripe.SecretKey == "" || c.Gateway.Stripe.WebhookSecret == "") {
			errs = append(errs, fmt.Errorf("gateway.stripe credentials required in production"))
		}
	}

	// JWT secret length validation
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
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
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "eventpay")
	v.SetDefault("database.database", "eventpay")
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

	// Payment defaults
	v.SetDefault("payment.currency", "INR")
	v.SetDefault("payment.order_timeout", "30m")
	v.SetDefault("payment.create_max_attempts", 3)
	v.SetDefault("payment.create_retry_delay", "200ms")
	v.SetDefault("payment.create_max_delay", "2s")
	v.SetDefault("payment.lock_ttl", "30s")

	// Gateway defaults
	v.SetDefault("gateway.default", "razorpay")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("gateway.breaker_max_requests", 10)
	v.SetDefault("gateway.breaker_interval", "60s")
	v.SetDefault("gateway.breaker_timeout", "30s")
	v.SetDefault("gateway.breaker_min_requests", 10)
	v.SetDefault("gateway.breaker_failure_ratio", 0.6)
	v.SetDefault("gateway.enable_mock", false)
	v.SetDefault("gateway.razorpay.base_url", "https://api.razorpay.com")
	v.SetDefault("gateway.stripe.base_url", "")

	// Audit defaults
	v.SetDefault("audit.max_attempts", 3)
	v.SetDefault("audit.retry_delay", "50ms")
	v.SetDefault("audit.max_delay", "500ms")
	v.SetDefault("audit.dead_letter_stream", "audit:dlq")

	// Notify defaults
	v.SetDefault("notify.relay_url", "http://localhost:8090")
	v.SetDefault("notify.timeout", "5s")
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.retry_delay", "500ms")

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.expiry_sweep_interval", "1m")
	v.SetDefault("worker.consumer_group", "notification-senders")
	v.SetDefault("worker.audit_consumer_group", "audit-replayers")
	v.SetDefault("worker.reclaim_after", "5m")
	v.SetDefault("worker.sweep_batch_size", 100)
	v.SetDefault("worker.housekeeping_interval", "1h")
	v.SetDefault("worker.outbox_retention", "168h")
	v.SetDefault("worker.idempotency_ttl", "24h")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "24h")

	// Instance ID
	v.SetDefault("instance_id", "eventpay-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the DSN in URL form, as golang-migrate expects.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
