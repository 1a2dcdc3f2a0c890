package reconcile

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/obs"
)

// StoreRecorder writes records synchronously.
type StoreRecorder struct {
	Store Store
}

func (r StoreRecorder) Record(ctx context.Context, rec Record) error {
	if err := r.Store.Save(ctx, rec); err != nil {
		return err
	}
	observe(ctx, rec)
	return nil
}

func observe(ctx context.Context, rec Record) {
	if obs.ReconcileDrift != nil {
		obs.ReconcileDrift.Observe(rec.Drift.InexactFloat64())
	}
	if !rec.Mismatch() {
		return
	}
	if obs.ReconcileMismatchTotal != nil {
		obs.ReconcileMismatchTotal.Inc()
	}
	zerolog.Ctx(ctx).Warn().
		Str("sale_id", rec.SaleID).
		Str("bill_number", rec.BillNumber).
		Str("preview_total", rec.PreviewTotal.StringFixed(2)).
		Str("server_total", rec.ServerTotal.StringFixed(2)).
		Msg("sale total differs from preview")
}
