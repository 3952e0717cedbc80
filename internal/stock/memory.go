package stock

import (
	"context"
	"sync"
)

type counter struct {
	stock   int
	version int64
}

// MemoryLedger is an in-process Ledger. The mutex makes each Reserve a single
// check-and-decrement, matching the conditional update of the SQL ledger.
type MemoryLedger struct {
	mu       sync.Mutex
	opts     Options
	counters map[string]*counter
}

func NewMemoryLedger(opts Options, initial map[string]int) *MemoryLedger {
	l := &MemoryLedger{opts: opts, counters: make(map[string]*counter, len(initial))}
	for id, qty := range initial {
		l.counters[id] = &counter{stock: qty}
	}
	return l
}

func (l *MemoryLedger) SetStock(productID string, qty int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[productID]
	if !ok {
		l.counters[productID] = &counter{stock: qty}
		return
	}
	c.stock = qty
	c.version++
}

// Stock returns the current counter and whether the product is known.
func (l *MemoryLedger) Stock(productID string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[productID]
	if !ok {
		return 0, false
	}
	return c.stock, true
}

func (l *MemoryLedger) Reserve(ctx context.Context, productID string, qty int) (Reservation, error) {
	if err := ctx.Err(); err != nil {
		return Reservation{}, err
	}
	if qty <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[productID]
	if !ok {
		return Reservation{}, ErrProductNotFound
	}
	if c.stock < qty {
		return Reservation{}, &InsufficientStockError{ProductID: productID, Requested: qty, Available: c.stock}
	}

	c.stock -= qty
	c.version++

	return Reservation{ProductID: productID, Quantity: qty, Remaining: c.stock, Version: c.version}, nil
}

func (l *MemoryLedger) Release(ctx context.Context, res Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if res.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[res.ProductID]
	if !ok {
		return ErrProductNotFound
	}
	if l.opts.StrictRelease && c.version != res.Version {
		return &DriftError{ProductID: res.ProductID, ReservedVersion: res.Version, CurrentVersion: c.version}
	}

	c.stock += res.Quantity
	c.version++
	return nil
}
