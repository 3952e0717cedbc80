package ordernumber

import (
	"context"
	"time"

	"storefront-be/internal/logger"

	"go.uber.org/zap"
)

const (
	counterName = "order_seq"
	counterTTL  = 48 * time.Hour
)

// Counter is the slice of the redis client used for sequences.
type Counter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	CounterKey(name string) string
}

// RedisGenerator draws sequences from an atomic INCR on a per-day key, so
// concurrent callers never receive the same number.
type RedisGenerator struct {
	counter Counter
	loc     *time.Location
}

func NewRedisGenerator(counter Counter, loc *time.Location) *RedisGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &RedisGenerator{counter: counter, loc: loc}
}

func (g *RedisGenerator) Next(ctx context.Context, date time.Time) (string, error) {
	prefix := Prefix(date, g.loc)
	key := g.counter.CounterKey(counterName + ":" + prefix)

	seq, err := g.counter.IncrWithTTL(ctx, key, counterTTL)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to increment order sequence",
			zap.String("layer", "ordernumber"),
			zap.String("key", key),
			zap.Error(err),
		)
		return "", err
	}

	return Format(date, g.loc, seq), nil
}
