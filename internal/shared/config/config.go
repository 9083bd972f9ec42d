package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Usage        UsageConfig        `mapstructure:"usage"`
	Gate         GateConfig         `mapstructure:"gate"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address        string        `mapstructure:"address" validate:"required"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"gt=0"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database" validate:"required"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as expected by the migrator.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CatalogConfig describes where the pricing catalog comes from and how long it is cached.
type CatalogConfig struct {
	Source       string        `mapstructure:"source" validate:"oneof=file http s3"`
	Path         string        `mapstructure:"path" validate:"required_if=Source file"`
	URL          string        `mapstructure:"url" validate:"required_if=Source http"`
	Bucket       string        `mapstructure:"bucket" validate:"required_if=Source s3"`
	Key          string        `mapstructure:"key" validate:"required_if=Source s3"`
	Watch        bool          `mapstructure:"watch"`
	TTL          time.Duration `mapstructure:"ttl" validate:"gt=0"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	FallbackPlan string        `mapstructure:"fallback_plan" validate:"required"`
}

// UsageConfig holds usage counter configuration.
type UsageConfig struct {
	Backend      string        `mapstructure:"backend" validate:"oneof=redis postgres"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	Retention    time.Duration `mapstructure:"retention"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
}

// GateConfig holds server guard configuration.
type GateConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	SubscriptionCache int           `mapstructure:"subscription_cache"`
	SubscriptionTTL   time.Duration `mapstructure:"subscription_ttl"`
}

// SubscriptionConfig holds subscription lifecycle configuration.
type SubscriptionConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period" validate:"gt=0"`
	GraceSweep  string        `mapstructure:"grace_sweep" validate:"required"`
}

// StripeConfig holds billing webhook configuration.
type StripeConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" validate:"required_if=Enabled true"`
	Issuer    string `mapstructure:"issuer"`
}

// StorageConfig holds object storage configuration for the s3 catalog source.
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/gate")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return load(v)
}

// LoadFile loads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return load(v)
}

var envKeyReplacer = strings.NewReplacer(".", "_")

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("GATE")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Secrets may come from the environment without touching the file
	if secret := os.Getenv("GATE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("GATE_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("GATE_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("GATE_STORAGE_SECRET_KEY"); key != "" {
		cfg.Storage.SecretAccessKey = key
	}
	if secret := os.Getenv("GATE_STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Stripe.WebhookSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct-level constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "gate")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Catalog defaults
	v.SetDefault("catalog.source", "file")
	v.SetDefault("catalog.path", "configs/catalog.json")
	v.SetDefault("catalog.watch", true)
	v.SetDefault("catalog.ttl", 5*time.Minute)
	v.SetDefault("catalog.fetch_timeout", 5*time.Second)
	v.SetDefault("catalog.retry_backoff", 30*time.Second)
	v.SetDefault("catalog.fallback_plan", "starter")

	// Usage defaults
	v.SetDefault("usage.backend", "redis")
	v.SetDefault("usage.token_ttl", 24*time.Hour)
	v.SetDefault("usage.retention", 90*24*time.Hour)
	v.SetDefault("usage.fetch_timeout", 3*time.Second)

	// Gate defaults
	v.SetDefault("gate.timeout", 3*time.Second)
	v.SetDefault("gate.subscription_cache", 4096)
	v.SetDefault("gate.subscription_ttl", 30*time.Second)

	// Subscription defaults
	v.SetDefault("subscription.grace_period", 14*24*time.Hour)
	v.SetDefault("subscription.grace_sweep", "@hourly")

	// Auth defaults
	v.SetDefault("auth.enabled", true)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
