package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"slices"

	"storefront-be/internal/config"
	"storefront-be/internal/db"
	"storefront-be/internal/logger"

	"go.uber.org/zap"
)

var modes = []string{"up", "up-to", "down", "down-to", "status", "reset", "version"}

var (
	openDBFunc  = db.NewDatabase
	migrateFunc = db.Migrate
)

func main() {
	mode := flag.String("mode", "up", "migration mode: up, up-to, down, down-to, status, reset or version")
	flag.Parse()

	if err := run(context.Background(), *mode, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, mode string, args []string) error {
	if !slices.Contains(modes, mode) {
		return fmt.Errorf("unknown mode: %s (use one of %v)", mode, modes)
	}
	if (mode == "up-to" || mode == "down-to") && len(args) != 1 {
		return fmt.Errorf("mode %s needs a target version", mode)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.AppEnv, cfg.LogLevel)
	defer logger.Sync()

	database, err := openDBFunc(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.L().With(zap.String("mode", mode))
	log.Info("🚀 running migrations")
	if err := migrateFunc(ctx, database, mode, args...); err != nil {
		log.Error("❌ migration failed", zap.Error(err))
		return err
	}
	log.Info("✅ migrations finished")
	return nil
}
