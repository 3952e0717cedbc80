package cart

import "errors"

var (
	// -- Validation & Input --
	ErrInvalidQuantity = errors.New("invalid cart quantity")
	ErrQuantityLimit   = errors.New("cart item quantity cannot exceed 99")
	ErrMissingProduct  = errors.New("product id is required")

	// -- Catalog --
	ErrProductNotFound   = errors.New("product not found")
	ErrProductInactive   = errors.New("product is not available")
	ErrInsufficientStock = errors.New("insufficient stock")

	// -- Resource State --
	ErrCartItemNotFound = errors.New("cart item not found")
	ErrVersionConflict  = errors.New("cart was modified concurrently")
)
