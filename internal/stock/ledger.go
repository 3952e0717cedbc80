package stock

import (
	"context"
	"errors"
	"fmt"
)

var (
	// -- Validation & Input --
	ErrInvalidQuantity = errors.New("stock quantity must be greater than zero")

	// -- Resource State --
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrVersionDrift      = errors.New("stock counter changed since reservation")
)

// Ledger exposes the only two operations allowed to touch a product's stock
// counter. Reserve is a single conditional decrement that never drives the
// counter below zero; Release is its compensating add.
type Ledger interface {
	Reserve(ctx context.Context, productID string, qty int) (Reservation, error)
	Release(ctx context.Context, res Reservation) error
}

// Reservation records a successful Reserve. Version is the counter version
// right after the decrement and lets Release detect interleaved writers.
type Reservation struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Remaining int    `json:"remaining"`
	Version   int64  `json:"version"`
}

// InsufficientStockError is returned by Reserve when the counter cannot
// cover the request. Available is diagnostic only and may already be stale.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// DriftError reports that another writer changed the counter between a
// reservation and its release.
type DriftError struct {
	ProductID       string
	ReservedVersion int64
	CurrentVersion  int64
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("stock counter for product %s moved from version %d to %d since reservation",
		e.ProductID, e.ReservedVersion, e.CurrentVersion)
}

func (e *DriftError) Is(target error) bool {
	return target == ErrVersionDrift
}

// Options tune release behaviour shared by all ledger implementations.
type Options struct {
	// StrictRelease makes Release a compare-and-swap on the version seen at
	// reserve time. A mismatch fails with ErrVersionDrift and adds nothing.
	StrictRelease bool
}
