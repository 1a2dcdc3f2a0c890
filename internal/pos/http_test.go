package pos

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/common"
)

type apiResponse struct {
	Data          json.RawMessage   `json:"data"`
	Error         *common.ErrorBody `json:"error"`
	Notifications []Notification    `json:"notifications"`
}

type apiHarness struct {
	f      *fixture
	router http.Handler
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(f.svc, f.records)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user := r.Header.Get("X-Test-User"); user != "" {
				p := common.Principal{UserID: user, Roles: strings.Split(r.Header.Get("X-Test-Roles"), ","), Token: "tok"}
				r = r.WithContext(common.WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	})
	h.Routes(r, RouteOptions{})
	return &apiHarness{f: f, router: r}
}

func (a *apiHarness) call(t *testing.T, method, path, body string, roles ...string) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Test-User", "cashier-1")
	if len(roles) == 0 {
		roles = []string{"cashier"}
	}
	req.Header.Set("X-Test-Roles", strings.Join(roles, ","))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var out apiResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (a *apiHarness) openSession(t *testing.T) string {
	t.Helper()
	status, resp := a.call(t, http.MethodPost, "/billing/sessions", "")
	require.Equal(t, http.StatusCreated, status)
	var view SessionView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	require.NotEmpty(t, view.ID)
	return view.ID
}

func TestHandlerRequiresPrincipal(t *testing.T) {
	a := newAPIHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerSettings(t *testing.T) {
	a := newAPIHarness(t)
	status, resp := a.call(t, http.MethodGet, "/settings", "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Notifications)

	var s map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &s))
	require.Equal(t, "₹", s["currency"])
	require.Equal(t, "Corner Store", s["shopName"])
}

func TestHandlerCartFlow(t *testing.T) {
	a := newAPIHarness(t)
	id := a.openSession(t)
	base := "/billing/sessions/" + id

	status, resp := a.call(t, http.MethodPost, base+"/lines", `{"variantId":"v1"}`)
	require.Equal(t, http.StatusOK, status)
	var view SessionView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	require.Len(t, view.Lines, 1)
	require.Equal(t, "low_stock", string(view.Lines[0].StockStatus))
	require.False(t, view.Lines[0].AtStockLimit)
	require.Equal(t, "100.00", view.Totals.Subtotal)
	require.Equal(t, "118.00", view.Totals.GrandTotal)

	status, resp = a.call(t, http.MethodPost, base+"/lines/v1/increment", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	require.True(t, view.Lines[0].AtStockLimit)

	status, resp = a.call(t, http.MethodPost, base+"/lines/v1/increment", "")
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "MAX_STOCK", resp.Error.Code)
	require.Len(t, resp.Notifications, 1)
	require.Equal(t, LevelWarning, resp.Notifications[0].Level)

	status, resp = a.call(t, http.MethodPatch, base+"/lines/v1", `{"quantity":1}`)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	require.Equal(t, 1, view.Units)

	status, resp = a.call(t, http.MethodPatch, base+"/lines/v1", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "VALIDATION_FAILED", resp.Error.Code)

	status, resp = a.call(t, http.MethodPut, base+"/discount", `{"mode":"amount","value":"18"}`)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	require.Equal(t, "18.00", view.Totals.DiscountAmount)
	require.Equal(t, "18", view.Totals.DiscountPercent)

	status, _ = a.call(t, http.MethodDelete, base+"/lines/v1", "")
	require.Equal(t, http.StatusOK, status)

	status, resp = a.call(t, http.MethodDelete, base+"/lines/v1", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "LINE_NOT_FOUND", resp.Error.Code)
}

func TestHandlerSubmit(t *testing.T) {
	a := newAPIHarness(t)
	id := a.openSession(t)
	base := "/billing/sessions/" + id

	status, resp := a.call(t, http.MethodPost, base+"/submit", `{"paymentMode":"cash"}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "EMPTY_CART", resp.Error.Code)

	status, _ = a.call(t, http.MethodPost, base+"/lines", `{"variantId":"v1"}`)
	require.Equal(t, http.StatusOK, status)

	status, resp = a.call(t, http.MethodPost, base+"/submit", `{"paymentMode":"cheque"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
	details, ok := resp.Error.Details.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "oneof", details["paymentMode"])

	status, resp = a.call(t, http.MethodPost, base+"/submit", `{"paymentMode":`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "BAD_REQUEST", resp.Error.Code)

	status, resp = a.call(t, http.MethodPost, base+"/submit", `{"paymentMode":"Card","customerPhone":"98450 12345"}`)
	require.Equal(t, http.StatusCreated, status)
	var receipt ReceiptView
	require.NoError(t, json.Unmarshal(resp.Data, &receipt))
	require.Equal(t, "B-0001", receipt.Sale.BillNumber)
	require.Equal(t, "118.00", receipt.Preview.GrandTotal)
	require.Equal(t, "118.00", receipt.Drift)
	require.NotNil(t, receipt.Session)
	require.Equal(t, "empty", string(receipt.Session.State))
	require.Len(t, resp.Notifications, 1)
	require.Equal(t, LevelSuccess, resp.Notifications[0].Level)
}

func TestHandlerHoldAndResume(t *testing.T) {
	a := newAPIHarness(t)
	id := a.openSession(t)
	base := "/billing/sessions/" + id

	status, _ := a.call(t, http.MethodPost, base+"/lines", `{"variantId":"v1"}`)
	require.Equal(t, http.StatusOK, status)

	status, resp := a.call(t, http.MethodPost, base+"/hold", "")
	require.Equal(t, http.StatusCreated, status)
	var held struct {
		Held    HeldCart    `json:"held"`
		Session SessionView `json:"session"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &held))
	require.Equal(t, 0, held.Session.ItemCount)
	require.Equal(t, 1, held.Session.HeldCount)

	status, resp = a.call(t, http.MethodGet, base+"/held", "")
	require.Equal(t, http.StatusOK, status)
	var list []HeldCart
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)

	status, resp = a.call(t, http.MethodPost, base+"/held/"+held.Held.ID+"/resume", "")
	require.Equal(t, http.StatusOK, status)
	var view SessionView
	require.NoError(t, json.Unmarshal(resp.Data, &view))
	require.Equal(t, 1, view.ItemCount)
	require.Equal(t, 0, view.HeldCount)

	status, resp = a.call(t, http.MethodDelete, base+"/held/nope", "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "HELD_CART_NOT_FOUND", resp.Error.Code)
}

func TestHandlerSessionLifecycle(t *testing.T) {
	a := newAPIHarness(t)
	id := a.openSession(t)

	status, _ := a.call(t, http.MethodGet, "/billing/sessions/"+id, "")
	require.Equal(t, http.StatusOK, status)

	status, _ = a.call(t, http.MethodDelete, "/billing/sessions/"+id, "")
	require.Equal(t, http.StatusNoContent, status)

	status, resp := a.call(t, http.MethodGet, "/billing/sessions/"+id, "")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "SESSION_NOT_FOUND", resp.Error.Code)
}

func TestHandlerPreview(t *testing.T) {
	a := newAPIHarness(t)
	body := `{"lines":[{"variantId":"v1","quantity":2,"unitPrice":"118"}],"discount":{"mode":"percent","value":10}}`
	status, resp := a.call(t, http.MethodPost, "/billing/preview", body)
	require.Equal(t, http.StatusOK, status)
	var totals TotalsView
	require.NoError(t, json.Unmarshal(resp.Data, &totals))
	require.Equal(t, "200.00", totals.Subtotal)
	require.Equal(t, "212.40", totals.GrandTotal)
	require.Equal(t, "₹212.40", totals.Formatted.GrandTotal)

	status, resp = a.call(t, http.MethodPost, "/billing/preview", `{"lines":[{"quantity":1}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	details, ok := resp.Error.Details.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "required", details["lines[0].variantId"])
}

func TestHandlerStockStatus(t *testing.T) {
	a := newAPIHarness(t)

	status, resp := a.call(t, http.MethodGet, "/stock/status?qty=3", "")
	require.Equal(t, http.StatusOK, status)
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.Equal(t, "low_stock", out["status"])
	require.Equal(t, float64(5), out["threshold"])

	status, resp = a.call(t, http.MethodGet, "/stock/status?qty=3&threshold=0", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.Equal(t, "in_stock", out["status"])

	status, resp = a.call(t, http.MethodGet, "/stock/status?qty=-2", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.Equal(t, "out_of_stock", out["status"])
	require.Equal(t, true, out["outOfStock"])

	status, resp = a.call(t, http.MethodGet, "/stock/status?qty=lots", "")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "BAD_REQUEST", resp.Error.Code)

	status, _ = a.call(t, http.MethodGet, "/stock/status", "")
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = a.call(t, http.MethodGet, "/stock/status?qty=3&threshold=-1", "")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestHandlerSearch(t *testing.T) {
	a := newAPIHarness(t)
	a.f.be.searchHits = a.f.be.hits("v1", "v2")

	status, resp := a.call(t, http.MethodGet, "/variants?q=tea&sessionId=s1", "")
	require.Equal(t, http.StatusOK, status)
	var hits []VariantView
	require.NoError(t, json.Unmarshal(resp.Data, &hits))
	require.Len(t, hits, 2)
	require.True(t, hits[0].Sellable)
	require.Equal(t, "₹118.00", hits[0].FormattedPrice)
	require.False(t, hits[1].Sellable)
	require.Equal(t, "out_of_stock", string(hits[1].StockStatus))
}

func TestHandlerReconciliationsAdminOnly(t *testing.T) {
	a := newAPIHarness(t)
	id := a.openSession(t)
	status, _ := a.call(t, http.MethodPost, "/billing/sessions/"+id+"/lines", `{"variantId":"v1"}`)
	require.Equal(t, http.StatusOK, status)
	status, _ = a.call(t, http.MethodPost, "/billing/sessions/"+id+"/submit", `{"paymentMode":"upi"}`)
	require.Equal(t, http.StatusCreated, status)

	status, _ = a.call(t, http.MethodGet, "/admin/reconciliations", "")
	require.Equal(t, http.StatusForbidden, status)

	status, resp := a.call(t, http.MethodGet, "/admin/reconciliations?limit=5", "", "admin")
	require.Equal(t, http.StatusOK, status)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &records))
	require.Len(t, records, 1)
	require.Equal(t, "sale-1", records[0]["saleId"])
}
