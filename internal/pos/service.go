package pos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/backend"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/money"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/pricing"
	"github.com/noah-isme/toko-pos/internal/reconcile"
	"github.com/noah-isme/toko-pos/internal/search"
)

// ServiceConfig configures Service.
type ServiceConfig struct {
	Store           Store
	Backend         func(token string) Backend
	Recorder        reconcile.Recorder
	SearchDebounce  time.Duration
	SearchIdleTTL   time.Duration
	InFlightTimeout time.Duration
	MaxHeldCarts    int
	Now             func() time.Time
	NewID           func() string
}

// Service opens sessions and hands out Billing values bound to them.
type Service struct {
	backendFor func(token string) Backend
	searches   *search.Registry[backend.Variant]
	opts       Options
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		backendFor: cfg.Backend,
		opts: Options{
			Store:           cfg.Store,
			Recorder:        cfg.Recorder,
			InFlightTimeout: cfg.InFlightTimeout,
			MaxHeldCarts:    cfg.MaxHeldCarts,
			Now:             cfg.Now,
			NewID:           cfg.NewID,
		},
	}
	debounce := cfg.SearchDebounce
	s.searches = &search.Registry[backend.Variant]{
		IdleTTL: cfg.SearchIdleTTL,
		Now:     cfg.Now,
		New: func() *search.Coordinator[backend.Variant] {
			c := search.New(s.searchUpstream, debounce)
			c.OnSuperseded = func() { obs.IncCounter(obs.SearchesTotal, "superseded") }
			return c
		},
	}
	return s
}

func (s *Service) backend(p common.Principal) Backend {
	return s.backendFor(p.Token)
}

func (s *Service) searchUpstream(ctx context.Context, term string) ([]backend.Variant, error) {
	p, _ := common.PrincipalFrom(ctx)
	return s.backend(p).SearchVariants(ctx, term)
}

// Billing returns the operations for one session.
func (s *Service) Billing(ref SessionRef, notifier Notifier) *Billing {
	return NewBilling(ref, s.backend(ref.Cashier), notifier, s.opts)
}

// Open starts a session for p with a snapshot of the shop settings.
func (s *Service) Open(ctx context.Context, p common.Principal, notifier Notifier) (*Session, error) {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	settings, err := s.backend(p).Settings(ctx)
	if err != nil {
		notifier.Notify(ctx, Notification{Level: LevelError, Code: "UPSTREAM_ERROR", Message: "Could not load shop settings"})
		return nil, err
	}
	now := s.opts.now()
	sess := &Session{
		ID:        s.opts.newID(),
		CashierID: p.UserID,
		Discount:  DiscountInput{Mode: pricing.DiscountPercent},
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.opts.Store.Create(ctx, sess); err != nil {
		return nil, err
	}
	if obs.SessionsOpenedTotal != nil {
		obs.SessionsOpenedTotal.Inc()
	}
	return sess, nil
}

// Close deletes a session and cancels its pending search.
func (s *Service) Close(ctx context.Context, ref SessionRef) error {
	if _, err := s.Billing(ref, nil).Session(ctx); err != nil {
		return err
	}
	if err := s.opts.Store.Delete(ctx, ref.ID); err != nil {
		return err
	}
	s.searches.Forget(searchKey(ref.Cashier, ref.ID))
	return nil
}

// Settings returns the current shop settings.
func (s *Service) Settings(ctx context.Context, p common.Principal) (backend.Settings, error) {
	return s.backend(p).Settings(ctx)
}

// Search runs a debounced variant search. Calls sharing p and key are
// ordered last-write-wins; an overtaken call returns search.ErrSuperseded.
func (s *Service) Search(ctx context.Context, p common.Principal, key, term string) ([]backend.Variant, error) {
	c := s.searches.Get(searchKey(p, key))
	results, err := c.Do(common.WithPrincipal(ctx, p), term)
	switch {
	case errors.Is(err, search.ErrSuperseded):
	case err != nil:
		obs.IncCounter(obs.SearchesTotal, "error")
	case strings.TrimSpace(term) == "":
		obs.IncCounter(obs.SearchesTotal, "blank")
	default:
		obs.IncCounter(obs.SearchesTotal, "ok")
	}
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []backend.Variant{}
	}
	return results, nil
}

// PreviewInput is a stateless totals request.
type PreviewInput struct {
	Lines    []cart.Line
	Discount DiscountInput
	// TaxPercent overrides the shop rate when set.
	TaxPercent *decimal.Decimal
}

// Preview computes totals for an explicit cart without touching any session.
func (s *Service) Preview(ctx context.Context, p common.Principal, in PreviewInput) (pricing.Totals, backend.Settings, error) {
	settings, err := s.Settings(ctx, p)
	if err != nil {
		return pricing.Totals{}, backend.Settings{}, err
	}
	tax := settings.TaxPercent
	if in.TaxPercent != nil {
		tax = money.NonNegative(*in.TaxPercent)
		settings.TaxPercent = tax
	}
	c := cart.Cart{Lines: in.Lines}
	return pricing.Compute(c.PricingLines(), in.Discount.pricing(), tax), settings, nil
}

// InFlightTimeout is the age after which a submit flag is ignored.
func (s *Service) InFlightTimeout() time.Duration { return s.opts.inFlightTimeout() }

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.opts.now() }

func searchKey(p common.Principal, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "default"
	}
	return p.UserID + ":" + key
}
