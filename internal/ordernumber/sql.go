package ordernumber

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"storefront-be/internal/logger"

	"go.uber.org/zap"
)

// SQLGenerator reads the highest sequence already used for the day and adds
// one. Two concurrent callers can compute the same number; the unique
// constraint on orders.order_number rejects the loser, who must regenerate.
type SQLGenerator struct {
	db  *sql.DB
	loc *time.Location
}

func NewSQLGenerator(db *sql.DB, loc *time.Location) *SQLGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &SQLGenerator{db: db, loc: loc}
}

func (g *SQLGenerator) Next(ctx context.Context, date time.Time) (string, error) {
	prefix := Prefix(date, g.loc)
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "ordernumber"),
		zap.String("method", "SQLGenerator.Next"),
		zap.String("prefix", prefix),
	)

	// Longer numbers sort first so that day sequences past 9999 are still
	// seen as the maximum.
	var last string
	err := g.db.QueryRowContext(ctx, `
		SELECT order_number
		FROM orders
		WHERE order_number LIKE $1
		ORDER BY LENGTH(order_number) DESC, order_number DESC
		LIMIT 1
	`, prefix+"%").Scan(&last)

	if errors.Is(err, sql.ErrNoRows) {
		return Format(date, g.loc, 1), nil
	}
	if err != nil {
		log.Error("failed to read last order number", zap.Error(err))
		return "", err
	}

	seq, err := Sequence(last, prefix)
	if err != nil {
		log.Error("unexpected order number in table", zap.String("order_number", last), zap.Error(err))
		return "", err
	}

	return Format(date, g.loc, seq+1), nil
}
