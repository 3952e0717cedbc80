package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Success loading from env", func(t *testing.T) {
		// t.Setenv sets the environment variable for the duration of the test
		// and automatically restores it afterwards.
		t.Setenv("DB_HOST", "localhost")
		t.Setenv("DB_USER", "testuser")
		t.Setenv("DB_PASSWORD", "testpass")
		t.Setenv("DB_NAME", "testdb")
		t.Setenv("DB_PORT", "5432")
		t.Setenv("APP_PORT", "8080")
		t.Setenv("APP_ENV", "test")
		t.Setenv("RELEASE_TIMEOUT", "3s")
		t.Setenv("STOCK_STRICT_RELEASE", "true")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, "localhost", cfg.DBHost)
		assert.Equal(t, "testuser", cfg.DBUser)
		assert.Equal(t, "testpass", cfg.DBPassword)
		assert.Equal(t, "testdb", cfg.DBName)
		assert.Equal(t, "5432", cfg.DBPort)
		assert.Equal(t, "8080", cfg.AppPort)
		assert.Equal(t, "test", cfg.AppEnv)
		assert.Equal(t, 3*time.Second, cfg.ReleaseTimeout)
		assert.True(t, cfg.StockStrictRelease)
	})

	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("DB_HOST", "localhost")

		cfg, err := LoadConfig()
		require.NoError(t, err)

		assert.Equal(t, OrderNumberBackendPostgres, cfg.OrderNumberBackend)
		assert.Equal(t, 5, cfg.OrderNumberMaxAttempts)
		assert.Equal(t, uint64(5), cfg.ReleaseMaxAttempts)
		assert.Equal(t, "UTC", cfg.StoreTimezone)
		assert.Equal(t, "disable", cfg.DBSSLMode)
	})

	t.Run("Missing DB host", func(t *testing.T) {
		t.Setenv("DB_HOST", "")

		cfg, err := LoadConfig()
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("Redis backend requires url", func(t *testing.T) {
		t.Setenv("DB_HOST", "localhost")
		t.Setenv("ORDER_NUMBER_BACKEND", "redis")
		t.Setenv("REDIS_URL", "")

		_, err := LoadConfig()
		assert.ErrorContains(t, err, "REDIS_URL")
	})

	t.Run("Unknown backend", func(t *testing.T) {
		t.Setenv("DB_HOST", "localhost")
		t.Setenv("ORDER_NUMBER_BACKEND", "etcd")

		_, err := LoadConfig()
		assert.ErrorContains(t, err, "unknown ORDER_NUMBER_BACKEND")
	})

	t.Run("Invalid timezone", func(t *testing.T) {
		t.Setenv("DB_HOST", "localhost")
		t.Setenv("STORE_TIMEZONE", "Mars/Olympus")

		_, err := LoadConfig()
		assert.ErrorContains(t, err, "STORE_TIMEZONE")
	})
}
