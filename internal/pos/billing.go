package pos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/auth"
	"github.com/noah-isme/toko-pos/internal/backend"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/pricing"
	"github.com/noah-isme/toko-pos/internal/reconcile"
)

// Backend is the subset of the retail backend the billing screen needs.
type Backend interface {
	Settings(ctx context.Context) (backend.Settings, error)
	SearchVariants(ctx context.Context, term string) ([]backend.Variant, error)
	Variant(ctx context.Context, id string) (backend.Variant, error)
	CreateSale(ctx context.Context, req backend.SaleRequest) (backend.Sale, error)
}

// Options are the collaborators and limits shared by every Billing.
type Options struct {
	Store           Store
	Recorder        reconcile.Recorder
	InFlightTimeout time.Duration
	MaxHeldCarts    int
	Now             func() time.Time
	NewID           func() string
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o Options) inFlightTimeout() time.Duration {
	if o.InFlightTimeout <= 0 {
		return 30 * time.Second
	}
	return o.InFlightTimeout
}

// SessionRef names a session and the cashier acting on it.
type SessionRef struct {
	ID      string
	Cashier common.Principal
}

// Billing runs the billing screen operations for one session on behalf of
// one cashier. Notifications raised by an operation go to the injected
// notifier.
type Billing struct {
	ref      SessionRef
	backend  Backend
	notifier Notifier
	opts     Options
}

// NewBilling binds a session to its backend and notifier.
func NewBilling(ref SessionRef, be Backend, notifier Notifier, opts Options) *Billing {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Billing{ref: ref, backend: be, notifier: notifier, opts: opts}
}

// SubmitInput carries the checkout fields entered by the cashier.
type SubmitInput struct {
	PaymentMode   string
	CustomerName  string
	CustomerPhone string
}

// Receipt is the outcome of a successful submission. Sale holds the
// backend's authoritative totals; Preview is what the cashier saw.
type Receipt struct {
	Sale    backend.Sale
	Preview pricing.Totals
	Record  reconcile.Record
	Session *Session
}

// Session loads the current state.
func (b *Billing) Session(ctx context.Context) (*Session, error) {
	s, err := b.opts.Store.Get(ctx, b.ref.ID)
	if err != nil {
		return nil, err
	}
	if err := b.authorize(s); err != nil {
		return nil, err
	}
	return s, nil
}

// AddVariant looks the variant up for fresh stock and puts one unit in the cart.
func (b *Billing) AddVariant(ctx context.Context, variantID string) (*Session, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return nil, fmt.Errorf("variant id required: %w", cart.ErrInvalidInput)
	}
	v, err := b.backend.Variant(ctx, variantID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			b.notify(ctx, LevelWarning, "VARIANT_NOT_FOUND", "Variant not found")
		} else {
			b.upstreamFailed(ctx, "Could not load the variant", err)
		}
		return nil, err
	}
	return b.mutate(ctx, func(s *Session) error {
		_, err := s.Cart.Add(v.CartVariant())
		return err
	})
}

// SetQuantity sets a line's quantity; zero or less removes it.
func (b *Billing) SetQuantity(ctx context.Context, variantID string, qty int) (*Session, error) {
	return b.mutate(ctx, func(s *Session) error {
		_, err := s.Cart.SetQuantity(variantID, qty)
		return err
	})
}

// Increment adds one unit to a line.
func (b *Billing) Increment(ctx context.Context, variantID string) (*Session, error) {
	return b.mutate(ctx, func(s *Session) error {
		_, err := s.Cart.Increment(variantID)
		return err
	})
}

// Decrement removes one unit from a line.
func (b *Billing) Decrement(ctx context.Context, variantID string) (*Session, error) {
	return b.mutate(ctx, func(s *Session) error {
		_, err := s.Cart.Decrement(variantID)
		return err
	})
}

// RefreshStock reloads a line's variant and records the backend's current
// stock on it. The quantity is left as it is; the next increase is checked
// against the new figure.
func (b *Billing) RefreshStock(ctx context.Context, variantID string) (*Session, error) {
	v, err := b.backend.Variant(ctx, variantID)
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			b.upstreamFailed(ctx, "Could not refresh stock", err)
		}
		return nil, err
	}
	return b.mutate(ctx, func(s *Session) error {
		return s.Cart.RefreshStock(variantID, v.StockQty)
	})
}

// Remove drops a line.
func (b *Billing) Remove(ctx context.Context, variantID string) (*Session, error) {
	return b.mutate(ctx, func(s *Session) error {
		return s.Cart.Remove(variantID)
	})
}

// Clear empties the cart and resets the discount.
func (b *Billing) Clear(ctx context.Context) (*Session, error) {
	return b.mutate(ctx, func(s *Session) error {
		s.Cart.Clear()
		s.Discount = DiscountInput{Mode: pricing.DiscountPercent}
		return nil
	})
}

// SetDiscount stores the discount input after coercion.
func (b *Billing) SetDiscount(ctx context.Context, d DiscountInput) (*Session, error) {
	return b.mutate(ctx, func(s *Session) error {
		s.Discount = d.Normalize()
		return nil
	})
}

// Hold parks the current cart and discount and starts an empty cart.
func (b *Billing) Hold(ctx context.Context, label string) (*Session, HeldCart, error) {
	var held HeldCart
	s, err := b.mutate(ctx, func(s *Session) error {
		if s.Cart.State() == cart.StateEmpty {
			return ErrEmptyCart
		}
		if limit := b.opts.MaxHeldCarts; limit > 0 && len(s.Held) >= limit {
			return fmt.Errorf("%w: limit %d", ErrHoldLimit, limit)
		}
		held = HeldCart{
			ID:       b.opts.newID(),
			Label:    strings.TrimSpace(label),
			Cart:     s.Cart.Clone(),
			Discount: s.Discount,
			HeldAt:   b.opts.now(),
		}
		s.Held = append(s.Held, held)
		s.Cart.Clear()
		s.Discount = DiscountInput{Mode: pricing.DiscountPercent}
		return nil
	})
	if err != nil {
		return nil, HeldCart{}, err
	}
	obs.IncCounter(obs.HeldCartsTotal, "hold")
	b.notify(ctx, LevelInfo, "CART_HELD", "Cart held")
	return s, held, nil
}

// Held lists parked carts.
func (b *Billing) Held(ctx context.Context) ([]HeldCart, error) {
	s, err := b.Session(ctx)
	if err != nil {
		return nil, err
	}
	if s.Held == nil {
		return []HeldCart{}, nil
	}
	return s.Held, nil
}

// Resume restores a held cart into the empty active cart.
func (b *Billing) Resume(ctx context.Context, holdID string) (*Session, error) {
	s, err := b.mutate(ctx, func(s *Session) error {
		if s.Cart.State() != cart.StateEmpty {
			return ErrCartNotEmpty
		}
		i := heldIndex(s.Held, holdID)
		if i < 0 {
			return ErrHeldNotFound
		}
		s.Cart = s.Held[i].Cart.Clone()
		s.Discount = s.Held[i].Discount
		s.Held = append(s.Held[:i], s.Held[i+1:]...)
		return nil
	})
	if err == nil {
		obs.IncCounter(obs.HeldCartsTotal, "resume")
	}
	return s, err
}

// Discard deletes a held cart.
func (b *Billing) Discard(ctx context.Context, holdID string) (*Session, error) {
	s, err := b.mutate(ctx, func(s *Session) error {
		i := heldIndex(s.Held, holdID)
		if i < 0 {
			return ErrHeldNotFound
		}
		s.Held = append(s.Held[:i], s.Held[i+1:]...)
		return nil
	})
	if err == nil {
		obs.IncCounter(obs.HeldCartsTotal, "discard")
	}
	return s, err
}

// Submit sends the cart to the backend as a sale. The request is made once.
// While it is in flight the session rejects a second submission and every
// cart mutation. On failure the cart is kept as it was.
func (b *Billing) Submit(ctx context.Context, in SubmitInput) (Receipt, error) {
	mode := strings.ToLower(strings.TrimSpace(in.PaymentMode))
	startedAt := b.opts.now()
	snap, err := b.mutate(ctx, func(s *Session) error {
		if s.Cart.State() == cart.StateEmpty {
			return ErrEmptyCart
		}
		s.Submitting = true
		s.SubmittingSince = startedAt
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	preview := snap.Totals()
	req := backend.SaleRequest{
		Items:           make([]backend.SaleItemRequest, 0, snap.Cart.Len()),
		DiscountPercent: preview.DiscountPercent.InexactFloat64(),
		PaymentMode:     mode,
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerPhone:   strings.TrimSpace(in.CustomerPhone),
	}
	for _, l := range snap.Cart.Lines {
		req.Items = append(req.Items, backend.SaleItemRequest{
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.InexactFloat64(),
		})
	}

	// The sale outlives a client disconnect; only the in-flight timeout bounds it.
	detached := context.WithoutCancel(ctx)
	callCtx, cancel := context.WithTimeout(detached, b.opts.inFlightTimeout())
	sale, err := b.backend.CreateSale(callCtx, req)
	cancel()
	if err != nil {
		if _, uerr := b.opts.Store.Update(detached, b.ref.ID, func(s *Session) error {
			if s.Submitting && s.SubmittingSince.Equal(startedAt) {
				s.Submitting = false
				s.SubmittingSince = time.Time{}
			}
			return nil
		}); uerr != nil {
			zerolog.Ctx(ctx).Error().Err(uerr).Str("session_id", b.ref.ID).Msg("release submit flag")
		}
		obs.IncCounter(obs.SalesSubmittedTotal, mode, "failed")
		b.upstreamFailed(ctx, "Sale could not be completed", err)
		return Receipt{}, err
	}

	final, err := b.opts.Store.Update(detached, b.ref.ID, func(s *Session) error {
		if s.SubmittingSince.Equal(startedAt) {
			s.Submitting = false
			s.SubmittingSince = time.Time{}
		}
		s.Cart.Clear()
		s.Discount = DiscountInput{Mode: pricing.DiscountPercent}
		s.LastSale = &sale
		return nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("session_id", b.ref.ID).Str("sale_id", sale.ID).Msg("finalise session after sale")
	}

	rec := reconcile.Build(sale.ID, sale.BillNumber, b.ref.ID, b.ref.Cashier.UserID, preview, reconcile.Amounts{
		Subtotal: sale.Subtotal,
		Discount: sale.Discount,
		Tax:      sale.Tax,
		Total:    sale.Total,
	}, b.opts.now())
	if b.opts.Recorder != nil {
		if err := b.opts.Recorder.Record(detached, rec); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("sale_id", sale.ID).Msg("record reconciliation")
		}
	}

	obs.IncCounter(obs.SalesSubmittedTotal, mode, "ok")
	b.notify(ctx, LevelSuccess, "SALE_COMPLETED", fmt.Sprintf("Sale %s completed", saleLabel(sale)))
	return Receipt{Sale: sale, Preview: preview, Record: rec, Session: final}, nil
}

func (b *Billing) mutate(ctx context.Context, fn func(*Session) error) (*Session, error) {
	s, err := b.opts.Store.Update(ctx, b.ref.ID, func(s *Session) error {
		if err := b.authorize(s); err != nil {
			return err
		}
		if s.submitInFlight(b.opts.now(), b.opts.inFlightTimeout()) {
			return ErrSubmitInFlight
		}
		return fn(s)
	})
	if err != nil {
		b.rejected(ctx, err)
		return nil, err
	}
	return s, nil
}

func (b *Billing) authorize(s *Session) error {
	if s.CashierID == b.ref.Cashier.UserID || b.ref.Cashier.HasRole(auth.RoleAdmin) {
		return nil
	}
	return ErrForbidden
}

func (b *Billing) rejected(ctx context.Context, err error) {
	var stockErr *cart.StockError
	switch {
	case errors.As(err, &stockErr):
		reason := "max_stock"
		if errors.Is(err, cart.ErrOutOfStock) {
			reason = "out_of_stock"
		}
		obs.IncCounter(obs.CartRejectionsTotal, reason)
		b.notify(ctx, LevelWarning, strings.ToUpper(reason), capitalize(stockMessage(stockErr)))
	case errors.Is(err, cart.ErrInactive):
		obs.IncCounter(obs.CartRejectionsTotal, "inactive")
		b.notify(ctx, LevelWarning, "VARIANT_INACTIVE", "Variant is not available for sale")
	case errors.Is(err, ErrSubmitInFlight):
		obs.IncCounter(obs.CartRejectionsTotal, "submit_in_flight")
		b.notify(ctx, LevelWarning, "SUBMIT_IN_FLIGHT", "A sale is being submitted, please wait")
	case errors.Is(err, ErrHoldLimit):
		b.notify(ctx, LevelWarning, "HOLD_LIMIT", "Too many held carts")
	}
}

func (b *Billing) upstreamFailed(ctx context.Context, msg string, err error) {
	zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", b.ref.ID).Msg(msg)
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = msg + ": " + apiErr.Message
	}
	b.notify(ctx, LevelError, "UPSTREAM_ERROR", msg)
}

func (b *Billing) notify(ctx context.Context, level Level, code, msg string) {
	b.notifier.Notify(ctx, Notification{Level: level, Code: code, Message: msg})
}

func heldIndex(held []HeldCart, id string) int {
	for i, h := range held {
		if h.ID == id {
			return i
		}
	}
	return -1
}

func saleLabel(s backend.Sale) string {
	if s.BillNumber != "" {
		return s.BillNumber
	}
	return s.ID
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
