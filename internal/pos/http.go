package pos

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/auth"
	"github.com/noah-isme/toko-pos/internal/backend"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/pricing"
	"github.com/noah-isme/toko-pos/internal/reconcile"
	"github.com/noah-isme/toko-pos/internal/stock"
)

// Handler exposes the billing API.
type Handler struct {
	Svc       *Service
	Reconcile reconcile.Store
	validate  *validator.Validate
}

// NewHandler constructs a handler. reconciliations may be nil.
func NewHandler(svc *Service, reconciliations reconcile.Store) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Svc: svc, Reconcile: reconciliations, validate: v}
}

// RouteOptions carries per-route middleware. Nil entries are skipped.
type RouteOptions struct {
	SearchLimit   func(http.Handler) http.Handler
	MutationLimit func(http.Handler) http.Handler
	SubmitLimit   func(http.Handler) http.Handler
	Idempotency   func(http.Handler) http.Handler
}

func chain(mws ...func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}

// Routes registers the billing endpoints on r. Authentication is expected
// to run before r.
func (h *Handler) Routes(r chi.Router, o RouteOptions) {
	r.Get("/settings", h.Settings)
	r.With(chain(o.SearchLimit)...).Get("/variants", h.Search)
	r.Post("/billing/preview", h.Preview)
	r.Get("/stock/status", h.StockStatus)

	r.Route("/billing/sessions", func(s chi.Router) {
		s.With(chain(o.MutationLimit)...).Post("/", h.Open)
		s.Route("/{id}", func(sr chi.Router) {
			sr.Get("/", h.Get)
			sr.Delete("/", h.Close)
			sr.Get("/held", h.Held)
			sr.Group(func(m chi.Router) {
				m.Use(chain(o.MutationLimit)...)
				m.Post("/lines", h.AddLine)
				m.Delete("/lines", h.ClearLines)
				m.Patch("/lines/{variantId}", h.SetQuantity)
				m.Delete("/lines/{variantId}", h.RemoveLine)
				m.Post("/lines/{variantId}/increment", h.Increment)
				m.Post("/lines/{variantId}/decrement", h.Decrement)
				m.Post("/lines/{variantId}/refresh", h.RefreshStock)
				m.Put("/discount", h.SetDiscount)
				m.Post("/hold", h.Hold)
				m.Post("/held/{holdId}/resume", h.Resume)
				m.Delete("/held/{holdId}", h.Discard)
			})
			sr.With(chain(o.SubmitLimit, o.Idempotency)...).Post("/submit", h.Submit)
		})
	})

	r.With(auth.RequireRole(auth.RoleAdmin)).Get("/admin/reconciliations", h.Reconciliations)
}

type envelope struct {
	Data          any            `json:"data"`
	Notifications []Notification `json:"notifications"`
}

type errorEnvelope struct {
	Error         common.ErrorBody `json:"error"`
	Notifications []Notification   `json:"notifications"`
}

type request struct {
	principal common.Principal
	notes     *Collector
	notifier  Notifier
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request) (request, bool) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok || p.UserID == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return request{}, false
	}
	notes := &Collector{}
	return request{principal: p, notes: notes, notifier: Fanout{notes, LogNotifier{}}}, true
}

func (req request) ref(r *http.Request) SessionRef {
	return SessionRef{ID: chi.URLParam(r, "id"), Cashier: req.principal}
}

func (h *Handler) respond(w http.ResponseWriter, status int, data any, req request) {
	common.JSON(w, status, envelope{Data: data, Notifications: req.notes.Drain()})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, req request) {
	appErr := toAppError(err)
	msg := appErr.Message
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", appErr.Code).Msg("billing request failed")
		if appErr.Code == "INTERNAL" {
			msg = "internal error"
		}
	}
	var notes []Notification
	if req.notes != nil {
		notes = req.notes.Drain()
	} else {
		notes = []Notification{}
	}
	common.JSON(w, appErr.HTTPStatus, errorEnvelope{
		Error:         common.ErrorBody{Code: appErr.Code, Message: msg, Details: appErr.Details},
		Notifications: notes,
	})
}

func (h *Handler) decode(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return common.NewAppError("BAD_REQUEST", "invalid payload", http.StatusBadRequest, err)
	}
	return nil
}

func (h *Handler) check(dst any) error {
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				field := fe.Namespace()
				if i := strings.IndexByte(field, '.'); i >= 0 {
					field = field[i+1:]
				}
				details[field] = fe.Tag()
			}
			return common.NewAppError("VALIDATION_FAILED", "invalid payload", http.StatusUnprocessableEntity, err).WithDetails(details)
		}
		return common.NewAppError("BAD_REQUEST", "invalid payload", http.StatusBadRequest, err)
	}
	return nil
}

// queryInt parses an optional integer query parameter; ok is false when the
// parameter is absent or blank.
func queryInt(r *http.Request, name string) (int, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, common.NewAppError("BAD_REQUEST", name+" must be an integer", http.StatusBadRequest, err).
			WithDetails(map[string]string{name: "integer"})
	}
	return v, true, nil
}

func (h *Handler) session(w http.ResponseWriter, status int, s *Session, req request) {
	h.respond(w, status, NewSessionView(s, h.Svc.Now(), h.Svc.InFlightTimeout()), req)
}

// Settings serves GET /settings.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	s, err := h.Svc.Settings(r.Context(), req.principal)
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	h.respond(w, http.StatusOK, s, req)
}

// Search serves GET /variants?q=&sessionId=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	hits, err := h.Svc.Search(r.Context(), req.principal, q.Get("sessionId"), q.Get("q"))
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	settings, err := h.Svc.Settings(r.Context(), req.principal)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("settings unavailable for search results")
		settings = backend.Settings{}.Normalized()
	}
	h.respond(w, http.StatusOK, NewVariantViews(hits, settings), req)
}

type discountRequest struct {
	Mode  string          `json:"mode" validate:"max=16"`
	Value decimal.Decimal `json:"value"`
}

func (d discountRequest) input() DiscountInput {
	return DiscountInput{Mode: pricing.DiscountMode(d.Mode), Value: d.Value}
}

type previewLineRequest struct {
	VariantID string          `json:"variantId" validate:"required,max=128"`
	Name      string          `json:"name" validate:"max=200"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type previewRequest struct {
	Lines      []previewLineRequest `json:"lines" validate:"max=500,dive"`
	Discount   discountRequest      `json:"discount"`
	TaxPercent *decimal.Decimal     `json:"taxPercent"`
}

// Preview serves POST /billing/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	var body previewRequest
	if err := h.decode(r, &body, false); err != nil {
		h.fail(w, r, err, req)
		return
	}
	if err := h.check(&body); err != nil {
		h.fail(w, r, err, req)
		return
	}
	lines := make([]cart.Line, 0, len(body.Lines))
	for _, l := range body.Lines {
		lines = append(lines, cart.Line{VariantID: l.VariantID, Name: l.Name, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	totals, settings, err := h.Svc.Preview(r.Context(), req.principal, PreviewInput{
		Lines:      lines,
		Discount:   body.Discount.input(),
		TaxPercent: body.TaxPercent,
	})
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	h.respond(w, http.StatusOK, NewTotalsView(totals, settings.TaxPercent, settings.Formatter()), req)
}

// StockStatus serves GET /stock/status?qty=&threshold=.
func (h *Handler) StockStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	qty, ok, err := queryInt(r, "qty")
	if err == nil && !ok {
		err = common.NewAppError("BAD_REQUEST", "qty is required", http.StatusBadRequest, nil)
	}
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	threshold, ok, err := queryInt(r, "threshold")
	if err == nil && ok && threshold < 0 {
		err = common.NewAppError("BAD_REQUEST", "threshold must not be negative", http.StatusBadRequest, nil)
	}
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	if !ok {
		settings, err := h.Svc.Settings(r.Context(), req.principal)
		if err != nil {
			h.fail(w, r, err, req)
			return
		}
		threshold = settings.LowStockThreshold
	}
	h.respond(w, http.StatusOK, map[string]any{
		"qty":        qty,
		"threshold":  threshold,
		"status":     stock.Classify(qty, threshold),
		"outOfStock": stock.IsOutOfStock(qty),
		"lowStock":   stock.IsLowStock(qty, threshold),
	}, req)
}

// Open serves POST /billing/sessions.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	s, err := h.Svc.Open(r.Context(), req.principal, req.notifier)
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	h.session(w, http.StatusCreated, s, req)
}

// Get serves GET /billing/sessions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	s, err := h.Svc.Billing(req.ref(r), req.notifier).Session(r.Context())
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	h.session(w, http.StatusOK, s, req)
}

// Close serves DELETE /billing/sessions/{id}.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Close(r.Context(), req.ref(r)); err != nil {
		h.fail(w, r, err, req)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addLineRequest struct {
	VariantID string `json:"variantId" validate:"required,max=128"`
}

// AddLine serves POST /billing/sessions/{id}/lines.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	var body addLineRequest
	if err := h.decode(r, &body, false); err != nil {
		h.fail(w, r, err, req)
		return
	}
	body.VariantID = strings.TrimSpace(body.VariantID)
	if err := h.check(&body); err != nil {
		h.fail(w, r, err, req)
		return
	}
	s, err := h.Svc.Billing(req.ref(r), req.notifier).AddVariant(r.Context(), body.VariantID)
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	h.session(w, http.StatusOK, s, req)
}

type quantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

// SetQuantity serves PATCH /billing/sessions/{id}/lines/{variantId}.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	var body quantityRequest
	if err := h.decode(r, &body, false); err != nil {
		h.fail(w, r, err, req)
		return
	}
	if err := h.check(&body); err != nil {
		h.fail(w, r, err, req)
		return
	}
	s, err := h.Svc.Billing(req.ref(r), req.notifier).SetQuantity(r.Context(), chi.URLParam(r, "variantId"), *body.Quantity)
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	h.session(w, http.StatusOK, s, req)
}

func (h *Handler) lineOp(op func(b *Billing, r *http.Request, variantID string) (*Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := h.begin(w, r)
		if !ok {
			return
		}
		s, err := op(h.Svc.Billing(req.ref(r), req.notifier), r, chi.URLParam(r, "variantId"))
		if err != nil {
			h.fail(w, r, err, req)
			return
		}
		h.session(w, http.StatusOK, s, req)
	}
}

// Increment serves POST .../lines/{variantId}/increment.
func (h *Handler) Increment(w http.ResponseWriter, r *http.Request) {
	h.lineOp(func(b *Billing, r *http.Request, id string) (*Session, error) {
		return b.Increment(r.Context(), id)
	})(w, r)
}

// Decrement serves POST .../lines/{variantId}/decrement.
func (h *Handler) Decrement(w http.ResponseWriter, r *http.Request) {
	h.lineOp(func(b *Billing, r *http.Request, id string) (*Session, error) {
		return b.Decrement(r.Context(), id)
	})(w, r)
}

// RefreshStock serves POST .../lines/{variantId}/refresh.
func (h *Handler) RefreshStock(w http.ResponseWriter, r *http.Request) {
	h.lineOp(func(b *Billing, r *http.Request, id string) (*Session, error) {
		return b.RefreshStock(r.Context(), id)
	})(w, r)
}

// RemoveLine serves DELETE .../lines/{variantId}.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	h.lineOp(func(b *Billing, r *http.Request, id string) (*Session, error) {
		return b.Remove(r.Context(), id)
	})(w, r)
}

// ClearLines serves DELETE .../lines.
func (h *Handler) ClearLines(w http.ResponseWriter, r *http.Request) {
	h.lineOp(func(b *Billing, r *http.Request, _ string) (*Session, error) {
		return b.Clear(r.Context())
	})(w, r)
}

// SetDiscount serves PUT .../discount.
func (h *Handler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	var body discountRequest
	if err := h.decode(r, &body, false); err != nil {
		h.fail(w, r, err, req)
		return
	}
	if err := h.check(&body); err != nil {
		h.fail(w, r, err, req)
		return
	}
	s, err := h.Svc.Billing(req.ref(r), req.notifier).SetDiscount(r.Context(), body.input())
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	h.session(w, http.StatusOK, s, req)
}

type holdRequest struct {
	Label string `json:"label" validate:"max=80"`
}

// Hold serves POST .../hold.
func (h *Handler) Hold(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	var body holdRequest
	if err := h.decode(r, &body, true); err != nil {
		h.fail(w, r, err, req)
		return
	}
	if err := h.check(&body); err != nil {
		h.fail(w, r, err, req)
		return
	}
	s, held, err := h.Svc.Billing(req.ref(r), req.notifier).Hold(r.Context(), body.Label)
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	view := NewSessionView(s, h.Svc.Now(), h.Svc.InFlightTimeout())
	h.respond(w, http.StatusCreated, map[string]any{"held": held, "session": view}, req)
}

// Held serves GET .../held.
func (h *Handler) Held(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	held, err := h.Svc.Billing(req.ref(r), req.notifier).Held(r.Context())
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	h.respond(w, http.StatusOK, held, req)
}

// Resume serves POST .../held/{holdId}/resume.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.lineOp(func(b *Billing, r *http.Request, _ string) (*Session, error) {
		return b.Resume(r.Context(), chi.URLParam(r, "holdId"))
	})(w, r)
}

// Discard serves DELETE .../held/{holdId}.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	h.lineOp(func(b *Billing, r *http.Request, _ string) (*Session, error) {
		return b.Discard(r.Context(), chi.URLParam(r, "holdId"))
	})(w, r)
}

type submitRequest struct {
	PaymentMode   string `json:"paymentMode" validate:"required,oneof=cash card upi"`
	CustomerName  string `json:"customerName" validate:"max=120"`
	CustomerPhone string `json:"customerPhone" validate:"omitempty,min=6,max=20"`
}

// Submit serves POST .../submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	var body submitRequest
	if err := h.decode(r, &body, false); err != nil {
		h.fail(w, r, err, req)
		return
	}
	body.PaymentMode = strings.ToLower(strings.TrimSpace(body.PaymentMode))
	body.CustomerPhone = strings.TrimSpace(body.CustomerPhone)
	if err := h.check(&body); err != nil {
		h.fail(w, r, err, req)
		return
	}
	receipt, err := h.Svc.Billing(req.ref(r), req.notifier).Submit(r.Context(), SubmitInput{
		PaymentMode:   body.PaymentMode,
		CustomerName:  body.CustomerName,
		CustomerPhone: body.CustomerPhone,
	})
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	settings := backend.Settings{}.Normalized()
	out := ReceiptView{Sale: receipt.Sale, Drift: receipt.Record.Drift.StringFixed(2)}
	if receipt.Session != nil {
		settings = receipt.Session.Settings
		view := NewSessionView(receipt.Session, h.Svc.Now(), h.Svc.InFlightTimeout())
		out.Session = &view
	}
	out.Preview = NewTotalsView(receipt.Preview, settings.TaxPercent, settings.Formatter())
	h.respond(w, http.StatusCreated, out, req)
}

// Reconciliations serves GET /admin/reconciliations?limit=.
func (h *Handler) Reconciliations(w http.ResponseWriter, r *http.Request) {
	req, ok := h.begin(w, r)
	if !ok {
		return
	}
	if h.Reconcile == nil {
		h.fail(w, r, common.NewAppError("NOT_CONFIGURED", "reconciliation store not configured", http.StatusNotImplemented, nil), req)
		return
	}
	limit, ok, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	if !ok {
		limit = 50
	}
	limit = min(max(limit, 1), 200)
	records, err := h.Reconcile.List(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err, req)
		return
	}
	h.respond(w, http.StatusOK, records, req)
}
