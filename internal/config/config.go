package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	PaymentCacheTTL time.Duration `yaml:"payment_cache_ttl"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	EventsTopic string   `yaml:"events_topic"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type GatewayConfig struct {
	BaseURL     string        `yaml:"base_url"`
	SecretKey   string        `yaml:"-"`
	Timeout     time.Duration `yaml:"timeout"`
	CallbackURL string        `yaml:"callback_url"`
}

type CheckoutConfig struct {
	ShippingFee      decimal.Decimal `yaml:"shipping_fee"`
	FreeShippingOver decimal.Decimal `yaml:"free_shipping_over"`
	TaxRate          decimal.Decimal `yaml:"tax_rate"`
	DefaultCurrency  string          `yaml:"default_currency"`
	RateLimitRPS     float64         `yaml:"rate_limit_rps"`
	RateLimitBurst   int             `yaml:"rate_limit_burst"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Checkout CheckoutConfig `yaml:"checkout"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Port = "8080"
	cfg.App.LogLevel = "info"
	cfg.App.LogFormat = "console"

	cfg.Postgres.Port = "5432"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	cfg.Postgres.MigrationsPath = "migrations"

	cfg.Redis.PaymentCacheTTL = 30 * time.Minute
	cfg.Kafka.EventsTopic = "checkout.events"

	cfg.Gateway.BaseURL = "https://api.paystack.co"
	cfg.Gateway.Timeout = 10 * time.Second

	cfg.Checkout.ShippingFee = decimal.Zero
	cfg.Checkout.FreeShippingOver = decimal.Zero
	cfg.Checkout.TaxRate = decimal.Zero
	cfg.Checkout.DefaultCurrency = "USD"
	cfg.Checkout.RateLimitRPS = 50
	cfg.Checkout.RateLimitBurst = 100
	return cfg
}

// Load reads an optional .env file, an optional YAML base file named by
// CONFIG_FILE and then applies environment overrides.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("invalid config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")
	setString(&cfg.App.LogFormat, "LOG_FORMAT")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.MigrationsPath, "MIGRATIONS_PATH")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setString(&cfg.Kafka.EventsTopic, "KAFKA_EVENTS_TOPIC")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}

	setString(&cfg.Gateway.BaseURL, "GATEWAY_BASE_URL")
	setString(&cfg.Gateway.SecretKey, "GATEWAY_SECRET_KEY")
	setString(&cfg.Gateway.CallbackURL, "GATEWAY_CALLBACK_URL")
	setString(&cfg.Checkout.DefaultCurrency, "DEFAULT_CURRENCY")

	var err error
	if cfg.Postgres.MaxConns, err = int32Env("DB_MAX_CONNS", cfg.Postgres.MaxConns); err != nil {
		return err
	}
	if cfg.Postgres.MinConns, err = int32Env("DB_MIN_CONNS", cfg.Postgres.MinConns); err != nil {
		return err
	}
	if cfg.Postgres.MaxConnLifetime, err = durationEnv("DB_MAX_CONN_LIFETIME", cfg.Postgres.MaxConnLifetime); err != nil {
		return err
	}
	if cfg.Redis.DB, err = intEnv("REDIS_DB", cfg.Redis.DB); err != nil {
		return err
	}
	if cfg.Redis.PaymentCacheTTL, err = durationEnv("PAYMENT_CACHE_TTL", cfg.Redis.PaymentCacheTTL); err != nil {
		return err
	}
	if cfg.Gateway.Timeout, err = durationEnv("GATEWAY_TIMEOUT", cfg.Gateway.Timeout); err != nil {
		return err
	}
	if cfg.Checkout.ShippingFee, err = decimalEnv("CHECKOUT_SHIPPING_FEE", cfg.Checkout.ShippingFee); err != nil {
		return err
	}
	if cfg.Checkout.FreeShippingOver, err = decimalEnv("CHECKOUT_FREE_SHIPPING_OVER", cfg.Checkout.FreeShippingOver); err != nil {
		return err
	}
	if cfg.Checkout.TaxRate, err = decimalEnv("CHECKOUT_TAX_RATE", cfg.Checkout.TaxRate); err != nil {
		return err
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
		}
		cfg.Checkout.RateLimitRPS = rps
	}
	if cfg.Checkout.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", cfg.Checkout.RateLimitBurst); err != nil {
		return err
	}

	return nil
}

func (c *Config) validate() error {
	switch {
	case c.Postgres.Host == "":
		return errors.New("DB_HOST is required")
	case c.Postgres.User == "":
		return errors.New("DB_USER is required")
	case c.Postgres.DBName == "":
		return errors.New("DB_NAME is required")
	case c.Gateway.SecretKey == "":
		return errors.New("GATEWAY_SECRET_KEY is required")
	case c.Gateway.Timeout <= 0:
		return errors.New("GATEWAY_TIMEOUT must be positive")
	case c.Checkout.TaxRate.IsNegative():
		return errors.New("CHECKOUT_TAX_RATE cannot be negative")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func int32Env(key string, def int32) (int32, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return int32(n), nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func decimalEnv(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
