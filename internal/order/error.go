package order

import "errors"

var (
	// -- Validation & Input --
	ErrInvalidDiscount = errors.New("discount exceeds order total")

	// -- Resource State --
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrderNumber  = errors.New("order number already exists")
	ErrDuplicateOfflineOrder = errors.New("offline order already synced")
	ErrConcurrentUpdate      = errors.New("order changed concurrently")

	// -- Constants (External Systems) --
	PgUniqueViolation = "23505"
)

// Unique constraint names on the orders table.
const (
	constraintOrderNumber  = "orders_order_number_uniq"
	constraintOfflineOrder = "orders_user_offline_uniq"
)
