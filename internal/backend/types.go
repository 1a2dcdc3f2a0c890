package backend

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/money"
)

// Settings is the shop-wide configuration served by GET /settings.
type Settings struct {
	Currency          string          `json:"currency"`
	CurrencyCode      string          `json:"currencyCode"`
	Locale            string          `json:"locale"`
	TaxPercent        decimal.Decimal `json:"taxPercent"`
	LowStockThreshold int             `json:"lowStockThreshold"`
	ShopName          string          `json:"shopName"`
}

// Normalized fills blanks with defaults and clamps negative numbers.
func (s Settings) Normalized() Settings {
	if strings.TrimSpace(s.Currency) == "" {
		s.Currency = money.DefaultSymbol
	}
	if strings.TrimSpace(s.Locale) == "" {
		s.Locale = money.DefaultLocale
	}
	s.TaxPercent = money.NonNegative(s.TaxPercent)
	if s.LowStockThreshold < 0 {
		s.LowStockThreshold = 0
	}
	return s
}

// Formatter returns a money formatter for the shop currency.
func (s Settings) Formatter() money.Formatter {
	return money.NewFormatter(s.Currency, s.Locale)
}

// VariantActive is the only variant status that can be sold.
const VariantActive = "active"

// Variant is a sellable product variant as stored by the backend.
type Variant struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	Barcode      string          `json:"barcode,omitempty"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	StockQty     int             `json:"stockQty"`
	Status       string          `json:"status"`
}

// Active reports whether the variant may be added to a cart.
func (v Variant) Active() bool {
	return strings.EqualFold(strings.TrimSpace(v.Status), VariantActive)
}

// CartVariant projects v into the cart's view of a variant.
func (v Variant) CartVariant() cart.Variant {
	return cart.Variant{
		ID:        v.ID,
		ProductID: v.ProductID,
		Name:      v.Name,
		SKU:       v.SKU,
		UnitPrice: v.SellingPrice,
		Stock:     v.StockQty,
		Active:    v.Active(),
	}
}

// SaleItemRequest is one line of a sale submission.
type SaleItemRequest struct {
	VariantID string  `json:"variantId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// SaleRequest is the body of POST /sales.
type SaleRequest struct {
	Items           []SaleItemRequest `json:"items"`
	DiscountPercent float64           `json:"discountPercent"`
	PaymentMode     string            `json:"paymentMode"`
	CustomerName    string            `json:"customerName,omitempty"`
	CustomerPhone   string            `json:"customerPhone,omitempty"`
}

// SaleItem is a persisted sale line.
type SaleItem struct {
	VariantID string          `json:"variantId"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total,omitempty"`
}

// Sale is the backend's record of a completed sale. Its totals are
// authoritative.
type Sale struct {
	ID            string          `json:"id"`
	BillNumber    string          `json:"billNumber"`
	Items         []SaleItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	PaymentMode   string          `json:"paymentMode"`
	CustomerName  string          `json:"customerName,omitempty"`
	CustomerPhone string          `json:"customerPhone,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}
