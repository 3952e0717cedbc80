package main

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"storefront-be/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type migrateCall struct {
	command string
	args    []string
}

func stub(t *testing.T, migrateErr error) *[]migrateCall {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")

	origOpen, origMigrate := openDBFunc, migrateFunc
	t.Cleanup(func() {
		openDBFunc = origOpen
		migrateFunc = origMigrate
	})

	openDBFunc = func(*config.Config) (*sql.DB, error) {
		db, _, err := sqlmock.New()
		return db, err
	}

	calls := []migrateCall{}
	migrateFunc = func(_ context.Context, _ *sql.DB, command string, args ...string) error {
		calls = append(calls, migrateCall{command: command, args: args})
		return migrateErr
	}
	return &calls
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Up", func(t *testing.T) {
		calls := stub(t, nil)

		require.NoError(t, run(ctx, "up", nil))
		assert.Equal(t, []migrateCall{{command: "up"}}, *calls)
	})

	t.Run("Down to version", func(t *testing.T) {
		calls := stub(t, nil)

		require.NoError(t, run(ctx, "down-to", []string{"0"}))
		assert.Equal(t, []migrateCall{{command: "down-to", args: []string{"0"}}}, *calls)
	})

	t.Run("Target version required", func(t *testing.T) {
		calls := stub(t, nil)

		assert.ErrorContains(t, run(ctx, "up-to", nil), "needs a target version")
		assert.Empty(t, *calls)
	})

	t.Run("Unknown mode", func(t *testing.T) {
		calls := stub(t, nil)

		assert.ErrorContains(t, run(ctx, "sideways", nil), "unknown mode")
		assert.Empty(t, *calls)
	})

	t.Run("Migration failure", func(t *testing.T) {
		stub(t, errors.New("goose up: syntax error"))

		assert.EqualError(t, run(ctx, "up", nil), "goose up: syntax error")
	})

	t.Run("Database unavailable", func(t *testing.T) {
		calls := stub(t, nil)
		openDBFunc = func(*config.Config) (*sql.DB, error) {
			return nil, errors.New("failed to ping DB")
		}

		assert.EqualError(t, run(ctx, "status", nil), "failed to ping DB")
		assert.Empty(t, *calls)
	})
}
