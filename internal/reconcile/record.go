package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/pricing"
)

// ErrNotFound is returned when no record exists for a sale.
var ErrNotFound = errors.New("reconcile: record not found")

// Amounts are the server-side totals of a sale.
type Amounts struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Record compares the totals a cashier was shown with what the backend
// persisted for the same sale.
type Record struct {
	SaleID          string          `json:"saleId"`
	BillNumber      string          `json:"billNumber"`
	SessionID       string          `json:"sessionId"`
	CashierID       string          `json:"cashierId"`
	PreviewSubtotal decimal.Decimal `json:"previewSubtotal"`
	PreviewDiscount decimal.Decimal `json:"previewDiscount"`
	PreviewTax      decimal.Decimal `json:"previewTax"`
	PreviewTotal    decimal.Decimal `json:"previewTotal"`
	ServerSubtotal  decimal.Decimal `json:"serverSubtotal"`
	ServerDiscount  decimal.Decimal `json:"serverDiscount"`
	ServerTax       decimal.Decimal `json:"serverTax"`
	ServerTotal     decimal.Decimal `json:"serverTotal"`
	Drift           decimal.Decimal `json:"drift"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Mismatch reports whether the grand totals differ.
func (r Record) Mismatch() bool {
	return !r.Drift.IsZero()
}

// Build assembles a record. Drift is the absolute grand total difference.
func Build(saleID, billNumber, sessionID, cashierID string, preview pricing.Totals, server Amounts, at time.Time) Record {
	return Record{
		SaleID:          saleID,
		BillNumber:      billNumber,
		SessionID:       sessionID,
		CashierID:       cashierID,
		PreviewSubtotal: preview.Subtotal,
		PreviewDiscount: preview.DiscountAmount,
		PreviewTax:      preview.TaxAmount,
		PreviewTotal:    preview.GrandTotal,
		ServerSubtotal:  server.Subtotal,
		ServerDiscount:  server.Discount,
		ServerTax:       server.Tax,
		ServerTotal:     server.Total,
		Drift:           preview.GrandTotal.Sub(server.Total).Abs(),
		CreatedAt:       at.UTC(),
	}
}

// Recorder accepts records for persistence.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Store persists records. Saving a sale twice keeps the first record.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, saleID string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
}
