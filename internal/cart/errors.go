package cart

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxStock indicates the requested quantity exceeds the available stock.
	ErrMaxStock = errors.New("quantity exceeds available stock")
	// ErrOutOfStock indicates the variant has nothing left to sell.
	ErrOutOfStock = errors.New("variant is out of stock")
	// ErrInactive indicates the variant is not sellable.
	ErrInactive = errors.New("variant is not active")
	// ErrLineNotFound is returned when the variant is not in the cart.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrInvalidInput is returned when the provided variant payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// StockError carries the quantity that is actually available so callers can
// tell the cashier how many units remain.
type StockError struct {
	Err       error
	VariantID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: variant %s requested %d, available %d", e.Err, e.VariantID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return e.Err }

// Available extracts the available quantity from a stock error.
func Available(err error) (int, bool) {
	var se *StockError
	if errors.As(err, &se) {
		return se.Available, true
	}
	return 0, false
}
