package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/pricing"
	"github.com/noah-isme/toko-pos/internal/reconcile"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func preview() pricing.Totals {
	return pricing.Compute(
		[]pricing.Line{{VariantID: "v1", Quantity: 2, UnitPrice: dec("118")}},
		pricing.Discount{Mode: pricing.DiscountPercent, Value: dec("10")},
		dec("18"),
	)
}

func TestBuildComputesDrift(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("IST", 19800))
	rec := reconcile.Build("s1", "B-1", "sess", "cashier", preview(), reconcile.Amounts{
		Subtotal: dec("200"), Discount: dec("20"), Tax: dec("32.41"), Total: dec("212.41"),
	}, at)
	require.True(t, rec.Drift.Equal(dec("0.01")))
	require.True(t, rec.Mismatch())
	require.Equal(t, time.UTC, rec.CreatedAt.Location())

	same := reconcile.Build("s2", "B-2", "sess", "cashier", preview(), reconcile.Amounts{Total: dec("212.40")}, at)
	require.False(t, same.Mismatch())
}

func TestMemoryStoreKeepsFirstAndListsNewestFirst(t *testing.T) {
	store := reconcile.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, reconcile.Record{SaleID: "a", BillNumber: "1"}))
	require.NoError(t, store.Save(ctx, reconcile.Record{SaleID: "b", BillNumber: "2"}))
	require.NoError(t, store.Save(ctx, reconcile.Record{SaleID: "a", BillNumber: "dup"}))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "1", got.BillNumber)

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "b", list[0].SaleID)

	one, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)

	_, err = store.Get(ctx, "zzz")
	require.ErrorIs(t, err, reconcile.ErrNotFound)
}

func TestStoreRecorderSaves(t *testing.T) {
	store := reconcile.NewMemoryStore()
	rec := reconcile.Build("s9", "B-9", "sess", "c", preview(), reconcile.Amounts{Total: dec("200")}, time.Now())
	require.NoError(t, reconcile.StoreRecorder{Store: store}.Record(context.Background(), rec))
	got, err := store.Get(context.Background(), "s9")
	require.NoError(t, err)
	require.True(t, got.Drift.Equal(dec("12.4")))
}
