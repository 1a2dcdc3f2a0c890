package pos

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/noah-isme/toko-pos/internal/backend"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/lock"
	"github.com/noah-isme/toko-pos/internal/search"
)

var (
	ErrSubmitInFlight = errors.New("a sale submission is already in progress")
	ErrEmptyCart      = errors.New("cart is empty")
	ErrCartNotEmpty   = errors.New("cart must be empty to resume a held cart")
	ErrHoldLimit      = errors.New("too many held carts")
	ErrHeldNotFound   = errors.New("held cart not found")
	ErrForbidden      = errors.New("session belongs to another cashier")
)

// toAppError maps domain and upstream errors to HTTP-facing errors.
func toAppError(err error) *common.AppError {
	if err == nil {
		return nil
	}
	if common.IsAppError(err) {
		return common.AsAppError(err)
	}
	var stockErr *cart.StockError
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &stockErr):
		code := "MAX_STOCK"
		if errors.Is(err, cart.ErrOutOfStock) {
			code = "OUT_OF_STOCK"
		}
		return common.NewAppError(code, stockMessage(stockErr), http.StatusConflict, err).WithDetails(map[string]any{
			"variantId": stockErr.VariantID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
	case errors.Is(err, ErrSessionNotFound):
		return common.NewAppError("SESSION_NOT_FOUND", ErrSessionNotFound.Error(), http.StatusNotFound, err)
	case errors.Is(err, ErrForbidden):
		return common.NewAppError("FORBIDDEN", ErrForbidden.Error(), http.StatusForbidden, err)
	case errors.Is(err, ErrSubmitInFlight):
		return common.NewAppError("SUBMIT_IN_FLIGHT", ErrSubmitInFlight.Error(), http.StatusConflict, err)
	case errors.Is(err, ErrEmptyCart):
		return common.NewAppError("EMPTY_CART", ErrEmptyCart.Error(), http.StatusConflict, err)
	case errors.Is(err, ErrCartNotEmpty):
		return common.NewAppError("CART_NOT_EMPTY", ErrCartNotEmpty.Error(), http.StatusConflict, err)
	case errors.Is(err, ErrHoldLimit):
		return common.NewAppError("HOLD_LIMIT", ErrHoldLimit.Error(), http.StatusConflict, err)
	case errors.Is(err, ErrHeldNotFound):
		return common.NewAppError("HELD_CART_NOT_FOUND", ErrHeldNotFound.Error(), http.StatusNotFound, err)
	case errors.Is(err, cart.ErrInactive):
		return common.NewAppError("VARIANT_INACTIVE", "variant is not available for sale", http.StatusConflict, err)
	case errors.Is(err, cart.ErrLineNotFound):
		return common.NewAppError("LINE_NOT_FOUND", "cart line not found", http.StatusNotFound, err)
	case errors.Is(err, cart.ErrInvalidInput):
		return common.NewAppError("BAD_REQUEST", err.Error(), http.StatusBadRequest, err)
	case errors.Is(err, search.ErrSuperseded):
		return common.NewAppError("SEARCH_SUPERSEDED", search.ErrSuperseded.Error(), http.StatusConflict, err)
	case errors.Is(err, lock.ErrNotAcquired):
		return common.NewAppError("SESSION_BUSY", "session is busy, retry", http.StatusConflict, err)
	case errors.Is(err, backend.ErrUnavailable):
		return common.NewAppError("UPSTREAM_UNAVAILABLE", "retail backend unavailable", http.StatusBadGateway, err)
	case errors.As(err, &apiErr):
		code := apiErr.Code
		if code == "" {
			code = "UPSTREAM_REJECTED"
		}
		appErr := common.NewAppError(code, apiErr.Message, apiErr.StatusCode, err)
		if apiErr.Details != nil {
			appErr = appErr.WithDetails(apiErr.Details)
		}
		return appErr
	case errors.Is(err, context.DeadlineExceeded):
		return common.NewAppError("UPSTREAM_TIMEOUT", "request timed out", http.StatusGatewayTimeout, err)
	case errors.Is(err, context.Canceled):
		return common.NewAppError("CANCELED", "request canceled", 499, err)
	}
	return common.AsAppError(err)
}

func stockMessage(e *cart.StockError) string {
	if e.Available <= 0 {
		return "out of stock"
	}
	return fmt.Sprintf("only %d available", e.Available)
}
