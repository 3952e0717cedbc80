package stock

import (
	"context"
	"database/sql"
	"errors"

	"storefront-be/internal/logger"
	"storefront-be/internal/metrics"

	"go.uber.org/zap"
)

type postgresLedger struct {
	db      *sql.DB
	opts    Options
	metrics *metrics.StoreMetrics
}

func NewPostgresLedger(db *sql.DB, opts Options, m *metrics.StoreMetrics) Ledger {
	return &postgresLedger{db: db, opts: opts, metrics: m}
}

func (l *postgresLedger) Reserve(ctx context.Context, productID string, qty int) (Reservation, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "ledger"),
		zap.String("method", "Reserve"),
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
	)

	if qty <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}

	res := Reservation{ProductID: productID, Quantity: qty}

	// Check and decrement happen in one statement; the row lock taken by the
	// UPDATE serialises concurrent reservations on the same product.
	err := l.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $1,
		    stock_version = stock_version + 1,
		    updated_at = NOW()
		WHERE id = $2 AND stock >= $1
		RETURNING stock, stock_version
	`, qty, productID).Scan(&res.Remaining, &res.Version)

	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, l.diagnoseMiss(ctx, log, productID, qty)
	}
	if err != nil {
		log.Error("failed to reserve stock", zap.Error(err))
		l.metrics.ObserveReservation(metrics.ResultError)
		return Reservation{}, err
	}

	log.Debug("stock reserved",
		zap.Int("remaining", res.Remaining),
		zap.Int64("version", res.Version),
	)
	l.metrics.ObserveReservation(metrics.ResultOK)

	return res, nil
}

// diagnoseMiss explains why the conditional update matched nothing. It never
// changes the outcome, which was already decided by the update.
func (l *postgresLedger) diagnoseMiss(ctx context.Context, log *zap.Logger, productID string, qty int) error {
	var available int
	err := l.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("reserve on unknown product")
		l.metrics.ObserveReservation(metrics.ResultNotFound)
		return ErrProductNotFound
	}
	if err != nil {
		// The reservation still failed; report it as insufficient with an
		// unknown availability.
		log.Warn("failed to read stock after rejected reservation", zap.Error(err))
		available = -1
	}

	log.Info("insufficient stock", zap.Int("available", available))
	l.metrics.ObserveReservation(metrics.ResultInsufficient)

	return &InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
}

func (l *postgresLedger) Release(ctx context.Context, res Reservation) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "ledger"),
		zap.String("method", "Release"),
		zap.String("product_id", res.ProductID),
		zap.Int("quantity", res.Quantity),
		zap.Int64("reserved_version", res.Version),
		zap.Bool("strict", l.opts.StrictRelease),
	)

	if res.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	if l.opts.StrictRelease {
		return l.releaseStrict(ctx, log, res)
	}

	var version int64
	err := l.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $1,
		    stock_version = stock_version + 1,
		    updated_at = NOW()
		WHERE id = $2
		RETURNING stock_version
	`, res.Quantity, res.ProductID).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		log.Error("release on unknown product")
		l.metrics.ObserveRelease(metrics.ResultError)
		return ErrProductNotFound
	}
	if err != nil {
		log.Error("failed to release stock", zap.Error(err))
		l.metrics.ObserveRelease(metrics.ResultError)
		return err
	}

	if version != res.Version+1 {
		log.Warn("stock counter moved between reserve and release",
			zap.Int64("current_version", version),
		)
		l.metrics.ObserveRelease(metrics.ResultDrift)
		return nil
	}

	log.Debug("stock released")
	l.metrics.ObserveRelease(metrics.ResultOK)
	return nil
}

func (l *postgresLedger) releaseStrict(ctx context.Context, log *zap.Logger, res Reservation) error {
	var version int64
	err := l.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $1,
		    stock_version = stock_version + 1,
		    updated_at = NOW()
		WHERE id = $2 AND stock_version = $3
		RETURNING stock_version
	`, res.Quantity, res.ProductID, res.Version).Scan(&version)

	if err == nil {
		log.Debug("stock released")
		l.metrics.ObserveRelease(metrics.ResultOK)
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Error("failed to release stock", zap.Error(err))
		l.metrics.ObserveRelease(metrics.ResultError)
		return err
	}

	var current int64
	err = l.db.QueryRowContext(ctx, `SELECT stock_version FROM products WHERE id = $1`, res.ProductID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		log.Error("release on unknown product")
		l.metrics.ObserveRelease(metrics.ResultError)
		return ErrProductNotFound
	}
	if err != nil {
		log.Error("failed to read stock version", zap.Error(err))
		l.metrics.ObserveRelease(metrics.ResultError)
		return err
	}

	log.Error("strict release rejected, counter changed since reservation",
		zap.Int64("current_version", current),
	)
	l.metrics.ObserveRelease(metrics.ResultDrift)

	return &DriftError{ProductID: res.ProductID, ReservedVersion: res.Version, CurrentVersion: current}
}
