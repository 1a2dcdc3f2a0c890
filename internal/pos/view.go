package pos

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/backend"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/money"
	"github.com/noah-isme/toko-pos/internal/pricing"
	"github.com/noah-isme/toko-pos/internal/stock"
)

// FormattedTotals are display strings in the shop currency.
type FormattedTotals struct {
	Subtotal       string `json:"subtotal"`
	DiscountAmount string `json:"discountAmount"`
	TaxAmount      string `json:"taxAmount"`
	GrandTotal     string `json:"grandTotal"`
}

// TotalsView is the wire form of pricing.Totals.
type TotalsView struct {
	Subtotal        string          `json:"subtotalExclTax"`
	DiscountAmount  string          `json:"discountAmount"`
	DiscountPercent string          `json:"discountPercentEquivalent"`
	AfterDiscount   string          `json:"afterDiscount"`
	TaxPercent      string          `json:"taxPercent"`
	TaxAmount       string          `json:"taxAmount"`
	GrandTotal      string          `json:"grandTotal"`
	Formatted       FormattedTotals `json:"formatted"`
	Lines           []LineTotals    `json:"lines"`
}

// LineTotals is the per-line breakdown.
type LineTotals struct {
	VariantID           string `json:"variantId"`
	Quantity            int    `json:"quantity"`
	UnitPrice           string `json:"unitPrice"`
	BaseUnitPrice       string `json:"baseUnitPrice"`
	LineSubtotalExclTax string `json:"lineSubtotalExclTax"`
}

// NewTotalsView renders t.
func NewTotalsView(t pricing.Totals, taxPercent decimal.Decimal, f money.Formatter) TotalsView {
	lines := make([]LineTotals, 0, len(t.Lines))
	for _, l := range t.Lines {
		lines = append(lines, LineTotals{
			VariantID:           l.VariantID,
			Quantity:            l.Quantity,
			UnitPrice:           l.UnitPrice.StringFixed(2),
			BaseUnitPrice:       l.BaseUnitPrice.StringFixed(2),
			LineSubtotalExclTax: l.Subtotal.StringFixed(2),
		})
	}
	return TotalsView{
		Subtotal:        t.Subtotal.StringFixed(2),
		DiscountAmount:  t.DiscountAmount.StringFixed(2),
		DiscountPercent: t.DiscountPercent.String(),
		AfterDiscount:   t.AfterDiscount.StringFixed(2),
		TaxPercent:      money.NonNegative(taxPercent).String(),
		TaxAmount:       t.TaxAmount.StringFixed(2),
		GrandTotal:      t.GrandTotal.StringFixed(2),
		Formatted: FormattedTotals{
			Subtotal:       f.Format(t.Subtotal),
			DiscountAmount: f.Format(t.DiscountAmount),
			TaxAmount:      f.Format(t.TaxAmount),
			GrandTotal:     f.Format(t.GrandTotal),
		},
		Lines: lines,
	}
}

// LineView is a cart row with stock hints for the screen.
type LineView struct {
	VariantID              string       `json:"variantId"`
	ProductID              string       `json:"productId,omitempty"`
	Name                   string       `json:"name"`
	SKU                    string       `json:"sku,omitempty"`
	Quantity               int          `json:"quantity"`
	UnitPrice              string       `json:"unitPrice"`
	FormattedUnitPrice     string       `json:"formattedUnitPrice"`
	LineTotal              string       `json:"lineTotal"`
	StockQuantityAvailable int          `json:"stockQuantityAvailable"`
	StockStatus            stock.Status `json:"stockStatus"`
	AtStockLimit           bool         `json:"atStockLimit"`
}

// DiscountView echoes the discount input.
type DiscountView struct {
	Mode  pricing.DiscountMode `json:"mode"`
	Value string               `json:"value"`
}

// SessionView is the wire form of a session.
type SessionView struct {
	ID         string           `json:"id"`
	CashierID  string           `json:"cashierId"`
	State      cart.State       `json:"state"`
	Lines      []LineView       `json:"lines"`
	ItemCount  int              `json:"itemCount"`
	Units      int              `json:"units"`
	Discount   DiscountView     `json:"discount"`
	Totals     TotalsView       `json:"totals"`
	Settings   backend.Settings `json:"settings"`
	Submitting bool             `json:"submitting"`
	HeldCount  int              `json:"heldCount"`
	LastSale   *backend.Sale    `json:"lastSale,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// NewSessionView renders s. now and inFlightTimeout decide whether a
// submit flag is still live.
func NewSessionView(s *Session, now time.Time, inFlightTimeout time.Duration) SessionView {
	f := s.Settings.Formatter()
	lines := make([]LineView, 0, s.Cart.Len())
	for _, l := range s.Cart.Lines {
		lines = append(lines, LineView{
			VariantID:              l.VariantID,
			ProductID:              l.ProductID,
			Name:                   l.Name,
			SKU:                    l.SKU,
			Quantity:               l.Quantity,
			UnitPrice:              l.UnitPrice.StringFixed(2),
			FormattedUnitPrice:     f.Format(l.UnitPrice),
			LineTotal:              money.Round2(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))).StringFixed(2),
			StockQuantityAvailable: l.StockAvailable,
			StockStatus:            stock.Classify(l.StockAvailable, s.Settings.LowStockThreshold),
			AtStockLimit:           l.Quantity >= l.StockAvailable,
		})
	}
	d := s.Discount.Normalize()
	return SessionView{
		ID:         s.ID,
		CashierID:  s.CashierID,
		State:      s.Cart.State(),
		Lines:      lines,
		ItemCount:  s.Cart.Len(),
		Units:      s.Cart.Units(),
		Discount:   DiscountView{Mode: d.Mode, Value: d.Value.String()},
		Totals:     NewTotalsView(s.Totals(), s.Settings.TaxPercent, f),
		Settings:   s.Settings,
		Submitting: s.submitInFlight(now, inFlightTimeout),
		HeldCount:  len(s.Held),
		LastSale:   s.LastSale,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

// VariantView is a search hit decorated for the screen.
type VariantView struct {
	ID             string       `json:"id"`
	ProductID      string       `json:"productId"`
	Name           string       `json:"name"`
	SKU            string       `json:"sku"`
	Barcode        string       `json:"barcode,omitempty"`
	SellingPrice   string       `json:"sellingPrice"`
	FormattedPrice string       `json:"formattedPrice"`
	StockQty       int          `json:"stockQty"`
	StockStatus    stock.Status `json:"stockStatus"`
	Sellable       bool         `json:"sellable"`
}

// NewVariantViews renders search hits using settings for formatting and
// the low-stock threshold.
func NewVariantViews(vs []backend.Variant, settings backend.Settings) []VariantView {
	f := settings.Formatter()
	out := make([]VariantView, 0, len(vs))
	for _, v := range vs {
		out = append(out, VariantView{
			ID:             v.ID,
			ProductID:      v.ProductID,
			Name:           v.Name,
			SKU:            v.SKU,
			Barcode:        v.Barcode,
			SellingPrice:   v.SellingPrice.StringFixed(2),
			FormattedPrice: f.Format(v.SellingPrice),
			StockQty:       v.StockQty,
			StockStatus:    stock.Classify(v.StockQty, settings.LowStockThreshold),
			Sellable:       v.Active() && !stock.IsOutOfStock(v.StockQty),
		})
	}
	return out
}

// ReceiptView is returned after a successful submission.
type ReceiptView struct {
	Sale    backend.Sale `json:"sale"`
	Preview TotalsView   `json:"preview"`
	Drift   string       `json:"drift"`
	Session *SessionView `json:"session,omitempty"`
}
