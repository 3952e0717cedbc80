package transport

import (
	"errors"

	"storefront-be/internal/apperror"
	"storefront-be/internal/cart"
)

// cartError maps cart sentinels onto API error codes.
func cartError(err error) error {
	switch {
	case err == nil:
		return nil
	case apperror.As(err) != nil:
		return err
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrQuantityLimit),
		errors.Is(err, cart.ErrMissingProduct):
		return apperror.Wrap(apperror.CodeValidation, err, err.Error())
	case errors.Is(err, cart.ErrProductNotFound):
		return apperror.Wrap(apperror.CodeProductNotFound, err, err.Error())
	case errors.Is(err, cart.ErrProductInactive):
		return apperror.Wrap(apperror.CodeProductInactive, err, err.Error())
	case errors.Is(err, cart.ErrInsufficientStock):
		return apperror.Wrap(apperror.CodeInsufficientStock, err, err.Error())
	case errors.Is(err, cart.ErrCartItemNotFound):
		return apperror.Wrap(apperror.CodeNotFound, err, err.Error())
	case errors.Is(err, cart.ErrVersionConflict):
		return apperror.Wrap(apperror.CodeStateConflict, err, "cart was modified concurrently, retry")
	}
	return apperror.Wrap(apperror.CodeInternal, err, "cart operation failed")
}
