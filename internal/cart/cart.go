package cart

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/money"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

// State is the coarse cart lifecycle state.
type State string

const (
	StateEmpty    State = "empty"
	StateNonEmpty State = "non_empty"
)

// Variant is the subset of a catalog variant needed to put it in the cart.
type Variant struct {
	ID        string
	ProductID string
	Name      string
	SKU       string
	UnitPrice decimal.Decimal
	Stock     int
	Active    bool
}

// Line is a single cart row. UnitPrice is tax-inclusive.
type Line struct {
	VariantID      string          `json:"variantId"`
	ProductID      string          `json:"productId,omitempty"`
	Name           string          `json:"name"`
	SKU            string          `json:"sku,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	StockAvailable int             `json:"stockQuantityAvailable"`
}

// Cart holds lines in insertion order. The zero value is an empty cart.
// A Cart is not safe for concurrent use; callers serialise access per session.
type Cart struct {
	Lines []Line `json:"lines"`
}

// State reports whether the cart has any lines.
func (c *Cart) State() State {
	if c == nil || len(c.Lines) == 0 {
		return StateEmpty
	}
	return StateNonEmpty
}

// Len returns the number of distinct lines.
func (c *Cart) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Lines)
}

// Units returns the total quantity across lines.
func (c *Cart) Units() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// Line returns a copy of the line for variantID.
func (c *Cart) Line(variantID string) (Line, bool) {
	if i := c.index(variantID); i >= 0 {
		return c.Lines[i], true
	}
	return Line{}, false
}

func (c *Cart) index(variantID string) int {
	for i := range c.Lines {
		if c.Lines[i].VariantID == variantID {
			return i
		}
	}
	return -1
}

// Add puts one unit of v in the cart. An existing line is incremented within
// the stock bound; a new line is inserted with quantity 1. Rejected additions
// leave the cart unchanged.
func (c *Cart) Add(v Variant) (Line, error) {
	v.ID = strings.TrimSpace(v.ID)
	if v.ID == "" {
		return Line{}, fmt.Errorf("variant id required: %w", ErrInvalidInput)
	}
	if !v.Active {
		return Line{}, fmt.Errorf("add %s: %w", v.ID, ErrInactive)
	}
	if i := c.index(v.ID); i >= 0 {
		line := c.Lines[i]
		if line.Quantity+1 > v.Stock {
			return Line{}, &StockError{Err: ErrMaxStock, VariantID: v.ID, Requested: line.Quantity + 1, Available: max(v.Stock, 0)}
		}
		line.Quantity++
		line.StockAvailable = v.Stock
		line.UnitPrice = money.NonNegative(v.UnitPrice)
		c.Lines[i] = line
		return line, nil
	}
	if v.Stock <= 0 {
		return Line{}, &StockError{Err: ErrOutOfStock, VariantID: v.ID, Requested: 1, Available: 0}
	}
	line := Line{
		VariantID:      v.ID,
		ProductID:      v.ProductID,
		Name:           v.Name,
		SKU:            v.SKU,
		Quantity:       1,
		UnitPrice:      money.NonNegative(v.UnitPrice),
		StockAvailable: v.Stock,
	}
	c.Lines = append(c.Lines, line)
	return line, nil
}

// SetQuantity replaces a line's quantity. A non-positive quantity removes the
// line; a quantity above the recorded stock is rejected.
func (c *Cart) SetQuantity(variantID string, qty int) (Line, error) {
	i := c.index(variantID)
	if i < 0 {
		return Line{}, fmt.Errorf("set quantity %s: %w", variantID, ErrLineNotFound)
	}
	if qty <= 0 {
		removed := c.Lines[i]
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		removed.Quantity = 0
		return removed, nil
	}
	line := c.Lines[i]
	if qty > line.StockAvailable {
		return Line{}, &StockError{Err: ErrMaxStock, VariantID: variantID, Requested: qty, Available: max(line.StockAvailable, 0)}
	}
	line.Quantity = qty
	c.Lines[i] = line
	return line, nil
}

// Increment adds one unit to an existing line.
func (c *Cart) Increment(variantID string) (Line, error) {
	line, ok := c.Line(variantID)
	if !ok {
		return Line{}, fmt.Errorf("increment %s: %w", variantID, ErrLineNotFound)
	}
	return c.SetQuantity(variantID, line.Quantity+1)
}

// Decrement removes one unit; reaching zero removes the line.
func (c *Cart) Decrement(variantID string) (Line, error) {
	line, ok := c.Line(variantID)
	if !ok {
		return Line{}, fmt.Errorf("decrement %s: %w", variantID, ErrLineNotFound)
	}
	return c.SetQuantity(variantID, line.Quantity-1)
}

// Remove deletes the line for variantID.
func (c *Cart) Remove(variantID string) error {
	if c.index(variantID) < 0 {
		return fmt.Errorf("remove %s: %w", variantID, ErrLineNotFound)
	}
	_, err := c.SetQuantity(variantID, 0)
	return err
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.Lines = nil
}

// RefreshStock records new stock reported by the backend. The quantity is
// left alone even when it now exceeds stock; the next mutation is bounded.
func (c *Cart) RefreshStock(variantID string, stock int) error {
	i := c.index(variantID)
	if i < 0 {
		return fmt.Errorf("refresh stock %s: %w", variantID, ErrLineNotFound)
	}
	c.Lines[i].StockAvailable = stock
	return nil
}

// Clone returns a deep copy.
func (c *Cart) Clone() Cart {
	if c == nil || len(c.Lines) == 0 {
		return Cart{}
	}
	lines := make([]Line, len(c.Lines))
	copy(lines, c.Lines)
	return Cart{Lines: lines}
}

// PricingLines adapts the cart for the billing engine.
func (c *Cart) PricingLines() []pricing.Line {
	out := make([]pricing.Line, 0, c.Len())
	for _, l := range c.Lines {
		out = append(out, pricing.Line{VariantID: l.VariantID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}
