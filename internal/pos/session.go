package pos

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/backend"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/money"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

// DiscountInput is the cashier's discount entry as typed.
type DiscountInput struct {
	Mode  pricing.DiscountMode `json:"mode"`
	Value decimal.Decimal      `json:"value"`
}

// Normalize coerces unknown modes to percent and negative values to zero.
func (d DiscountInput) Normalize() DiscountInput {
	return DiscountInput{
		Mode:  pricing.ParseDiscountMode(string(d.Mode)),
		Value: money.NonNegative(d.Value),
	}
}

func (d DiscountInput) pricing() pricing.Discount {
	n := d.Normalize()
	return pricing.Discount{Mode: n.Mode, Value: n.Value}
}

// HeldCart is a parked cart that can be resumed later in the same session.
type HeldCart struct {
	ID       string        `json:"id"`
	Label    string        `json:"label,omitempty"`
	Cart     cart.Cart     `json:"cart"`
	Discount DiscountInput `json:"discount"`
	HeldAt   time.Time     `json:"heldAt"`
}

// Session is one cashier's billing screen state.
type Session struct {
	ID              string           `json:"id"`
	CashierID       string           `json:"cashierId"`
	Cart            cart.Cart        `json:"cart"`
	Discount        DiscountInput    `json:"discount"`
	Settings        backend.Settings `json:"settings"`
	Submitting      bool             `json:"submitting"`
	SubmittingSince time.Time        `json:"submittingSince,omitempty"`
	Held            []HeldCart       `json:"held,omitempty"`
	LastSale        *backend.Sale    `json:"lastSale,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// Totals computes the preview for the current cart.
func (s *Session) Totals() pricing.Totals {
	return pricing.Compute(s.Cart.PricingLines(), s.Discount.pricing(), s.Settings.TaxPercent)
}

// submitInFlight reports whether a submission holds the session. A flag older
// than timeout is treated as abandoned.
func (s *Session) submitInFlight(now time.Time, timeout time.Duration) bool {
	if !s.Submitting {
		return false
	}
	if timeout > 0 && now.Sub(s.SubmittingSince) >= timeout {
		return false
	}
	return true
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Cart = s.Cart.Clone()
	if len(s.Held) > 0 {
		cp.Held = make([]HeldCart, len(s.Held))
		for i, h := range s.Held {
			h.Cart = h.Cart.Clone()
			cp.Held[i] = h
		}
	}
	if s.LastSale != nil {
		sale := *s.LastSale
		sale.Items = append([]backend.SaleItem(nil), s.LastSale.Items...)
		cp.LastSale = &sale
	}
	return &cp
}
