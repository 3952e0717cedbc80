package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	OrderNumberBackendPostgres = "postgres"
	OrderNumberBackendRedis    = "redis"
)

type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	AppPort  string `envconfig:"APP_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DBHost            string        `envconfig:"DB_HOST"`
	DBUser            string        `envconfig:"DB_USER"`
	DBPassword        string        `envconfig:"DB_PASSWORD"`
	DBName            string        `envconfig:"DB_NAME"`
	DBPort            string        `envconfig:"DB_PORT" default:"5432"`
	DBSSLMode         string        `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`

	RedisURL string `envconfig:"REDIS_URL"`

	JWTSecret          string   `envconfig:"JWT_SECRET"`
	InternalSecretKey  string   `envconfig:"INTERNAL_SECRET_KEY"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	OrderNumberBackend     string        `envconfig:"ORDER_NUMBER_BACKEND" default:"postgres"`
	OrderNumberMaxAttempts int           `envconfig:"ORDER_NUMBER_MAX_ATTEMPTS" default:"5"`
	StockStrictRelease     bool          `envconfig:"STOCK_STRICT_RELEASE" default:"false"`
	ReleaseMaxAttempts     uint64        `envconfig:"RELEASE_MAX_ATTEMPTS" default:"5"`
	ReleaseTimeout         time.Duration `envconfig:"RELEASE_TIMEOUT" default:"10s"`
	StoreTimezone          string        `envconfig:"STORE_TIMEZONE" default:"UTC"`
	RequestTimeout         time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DBHost == "" {
		return errors.New("environment variables not loaded properly: DB_HOST is required")
	}

	c.OrderNumberBackend = strings.ToLower(strings.TrimSpace(c.OrderNumberBackend))
	switch c.OrderNumberBackend {
	case OrderNumberBackendPostgres:
	case OrderNumberBackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when ORDER_NUMBER_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown ORDER_NUMBER_BACKEND %q", c.OrderNumberBackend)
	}

	if c.IsProduction() && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}

	if c.OrderNumberMaxAttempts < 1 {
		return errors.New("ORDER_NUMBER_MAX_ATTEMPTS must be at least 1")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	return nil
}

// Location resolves STORE_TIMEZONE, which decides the calendar day used in
// order numbers.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.StoreTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_TIMEZONE %q: %w", c.StoreTimezone, err)
	}
	return loc, nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}
