package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-be/internal/cache"
	"storefront-be/internal/cart"
	"storefront-be/internal/config"
	"storefront-be/internal/db"
	"storefront-be/internal/logger"
	"storefront-be/internal/metrics"
	"storefront-be/internal/middleware"
	"storefront-be/internal/offlinesync"
	"storefront-be/internal/order"
	"storefront-be/internal/ordernumber"
	"storefront-be/internal/product"
	"storefront-be/internal/stock"
	"storefront-be/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	openDBFunc      = db.NewDatabase
	startServerFunc = func(srv *http.Server) error { return srv.ListenAndServe() }
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger.Init(cfg.AppEnv, cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := openDBFunc(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler, cleanup, err := newServer(ctx, cfg, database, registry)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("🚀 server listening", zap.String("addr", srv.Addr))
		errCh <- startServerFunc(srv)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newServer wires the store components onto database and returns the HTTP
// handler plus a func releasing what it opened.
func newServer(ctx context.Context, cfg *config.Config, database *sql.DB, reg *prometheus.Registry) (http.Handler, func(), error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	storeMetrics := metrics.NewStoreMetrics(reg)
	cleanup := func() {}

	var (
		numbers ordernumber.Generator = ordernumber.NewSQLGenerator(database, loc)
		locker  offlinesync.Locker
	)
	if cfg.RedisURL != "" {
		redisClient, err := cache.New(ctx, cfg.RedisURL)
		switch {
		case err != nil && cfg.OrderNumberBackend == config.OrderNumberBackendRedis:
			return nil, nil, fmt.Errorf("connecting redis: %w", err)
		case err != nil:
			logger.L().Warn("redis unavailable, continuing without draft locks", zap.Error(err))
		default:
			cleanup = func() { _ = redisClient.Close() }
			locker = redisClient
			if cfg.OrderNumberBackend == config.OrderNumberBackendRedis {
				numbers = ordernumber.NewRedisGenerator(redisClient, loc)
			}
		}
	}

	ledger := stock.NewPostgresLedger(database, stock.Options{StrictRelease: cfg.StockStrictRelease}, storeMetrics)

	productRepo := product.NewRepository(database)
	cartRepo := cart.NewRepository(database)
	orderRepo := order.NewRepository(database)

	cartSvc := cart.NewService(cartRepo, productRepo)
	orderSvc := order.NewService(orderRepo)
	coordinator := order.NewCoordinator(orderRepo, productRepo, ledger, numbers, cartSvc,
		order.CoordinatorConfig{
			OrderNumberAttempts: cfg.OrderNumberMaxAttempts,
			ReleaseAttempts:     cfg.ReleaseMaxAttempts,
			ReleaseTimeout:      cfg.ReleaseTimeout,
		},
		order.WithMetrics(storeMetrics),
	)

	syncOpts := []offlinesync.Option{offlinesync.WithMetrics(storeMetrics)}
	if locker != nil {
		syncOpts = append(syncOpts, offlinesync.WithLocker(locker))
	}
	reconciler := offlinesync.NewReconciler(cartSvc, cartRepo, productRepo, coordinator, orderSvc, syncOpts...)

	limiter := middleware.NewLimiter(cfg.InternalSecretKey)
	go limiter.RunCleanup(ctx)

	handler := transport.NewRouter(transport.Deps{
		Carts:          cartSvc,
		Orders:         orderSvc,
		Coordinator:    coordinator,
		Sync:           reconciler,
		DB:             database,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Limiter:        limiter,
		JWTSecret:      []byte(cfg.JWTSecret),
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})
	return handler, cleanup, nil
}
