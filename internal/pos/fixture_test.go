package pos

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/backend"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/reconcile"
)

type fakeBackend struct {
	mu         sync.Mutex
	settings   backend.Settings
	settingErr error
	variants   map[string]backend.Variant
	searchHits []backend.Variant
	createSale func(ctx context.Context, req backend.SaleRequest) (backend.Sale, error)
	sales      []backend.SaleRequest
	tokens     []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		settings: backend.Settings{
			Currency:          "₹",
			CurrencyCode:      "INR",
			Locale:            "en-IN",
			TaxPercent:        decimal.NewFromInt(18),
			LowStockThreshold: 5,
			ShopName:          "Corner Store",
		},
		variants: map[string]backend.Variant{},
	}
}

func (f *fakeBackend) put(v backend.Variant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v.Status == "" {
		v.Status = backend.VariantActive
	}
	f.variants[v.ID] = v
}

func (f *fakeBackend) Settings(context.Context) (backend.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settingErr != nil {
		return backend.Settings{}, f.settingErr
	}
	return f.settings.Normalized(), nil
}

func (f *fakeBackend) SearchVariants(_ context.Context, term string) ([]backend.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchHits, nil
}

func (f *fakeBackend) Variant(_ context.Context, id string) (backend.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.variants[id]
	if !ok {
		return backend.Variant{}, &backend.APIError{StatusCode: 404, Code: "NOT_FOUND", Message: "variant not found"}
	}
	return v, nil
}

func (f *fakeBackend) CreateSale(ctx context.Context, req backend.SaleRequest) (backend.Sale, error) {
	f.mu.Lock()
	f.sales = append(f.sales, req)
	fn := f.createSale
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return backend.Sale{
		ID:          fmt.Sprintf("sale-%d", len(f.sales)),
		BillNumber:  fmt.Sprintf("B-%04d", len(f.sales)),
		Subtotal:    decimal.RequireFromString("200.00"),
		Discount:    decimal.Zero,
		Tax:         decimal.RequireFromString("36.00"),
		Total:       decimal.RequireFromString("236.00"),
		PaymentMode: req.PaymentMode,
	}, nil
}

func (f *fakeBackend) saleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sales)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc     *Service
	store   *MemoryStore
	be      *fakeBackend
	records *reconcile.MemoryStore
	clock   *fakeClock
	cashier common.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var seq atomic.Int64
	f := &fixture{
		store:   NewMemoryStore(time.Hour),
		be:      newFakeBackend(),
		records: reconcile.NewMemoryStore(),
		clock:   &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		cashier: common.Principal{UserID: "cashier-1", Roles: []string{"cashier"}, Token: "tok-1"},
	}
	f.store.Now = f.clock.Now
	f.svc = NewService(ServiceConfig{
		Store:           f.store,
		Backend:         func(token string) Backend { return f.be },
		Recorder:        reconcile.StoreRecorder{Store: f.records},
		SearchDebounce:  -1,
		InFlightTimeout: 30 * time.Second,
		MaxHeldCarts:    2,
		Now:             f.clock.Now,
		NewID:           func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	})
	f.be.put(backend.Variant{ID: "v1", ProductID: "p1", Name: "Tea 250g", SKU: "TEA-250", SellingPrice: decimal.RequireFromString("118.00"), StockQty: 2})
	f.be.put(backend.Variant{ID: "v2", ProductID: "p2", Name: "Sugar 1kg", SKU: "SUG-1", SellingPrice: decimal.RequireFromString("59.00"), StockQty: 0})
	f.be.put(backend.Variant{ID: "v3", ProductID: "p3", Name: "Old Stock", SKU: "OLD-1", SellingPrice: decimal.RequireFromString("10.00"), StockQty: 9, Status: "archived"})
	return f
}

func (f *fixture) open(t *testing.T) (*Billing, *Collector) {
	t.Helper()
	notes := &Collector{}
	s, err := f.svc.Open(context.Background(), f.cashier, notes)
	require.NoError(t, err)
	return f.svc.Billing(SessionRef{ID: s.ID, Cashier: f.cashier}, notes), notes
}

func (f *fakeBackend) hits(ids ...string) []backend.Variant {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]backend.Variant, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.variants[id])
	}
	return out
}
