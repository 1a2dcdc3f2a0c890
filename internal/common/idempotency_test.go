package common

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newIdem(t *testing.T) (Idem, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Idem{R: client, TTL: time.Minute}, mr
}

func TestIdempotencyReplaysSuccessfulResponse(t *testing.T) {
	idem, _ := newIdem(t)
	var calls atomic.Int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"bill": fmt.Sprintf("B-%d", n)}})
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/sessions/s1/submit", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "abc")
		req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "u1"}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	first := do()
	require.Equal(t, http.StatusCreated, first.Code)
	second := do()
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.EqualValues(t, 1, calls.Load())
}

func TestIdempotencyReleasesKeyOnClientError(t *testing.T) {
	idem, _ := newIdem(t)
	var calls atomic.Int32
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		JSONError(w, http.StatusUnprocessableEntity, "VALIDATION", "bad", nil)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set("Idempotency-Key", "k")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	}
	require.EqualValues(t, 2, calls.Load())
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	idem, mr := newIdem(t)
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Idempotency-Key", "k")
	require.NoError(t, mr.Set(idemKey(req, "k"), idemPending))

	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "IDEMPOTENT_IN_PROGRESS")
}

func TestWriteErrorUsesAppErrorShape(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, fmt.Errorf("wrap: %w", NewAppError("MAX_STOCK", "only 3 left", http.StatusConflict, nil).WithDetails(map[string]int{"available": 3})))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.JSONEq(t, `{"error":{"code":"MAX_STOCK","message":"only 3 left","details":{"available":3}}}`, rr.Body.String())

	rr = httptest.NewRecorder()
	WriteError(rr, fmt.Errorf("db exploded"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "exploded")
}

func TestPrincipalRoles(t *testing.T) {
	p := Principal{UserID: "u", Roles: []string{"Cashier"}}
	require.True(t, p.HasRole("admin", "cashier"))
	require.False(t, p.HasRole("admin"))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	idem, mr := newIdem(t)
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "backend down", nil)
	}))
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("Idempotency-Key", "k")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.False(t, mr.Exists(idemKey(req, "k")))
}

func TestIdempotencySettlesAfterClientDisconnect(t *testing.T) {
	idem, mr := newIdem(t)
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		JSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"billNumber": "B-0001"}})
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/sessions/s1/submit", nil).WithContext(ctx)
	req.Header.Set("Idempotency-Key", "k")
	h.ServeHTTP(httptest.NewRecorder(), req)

	stored, err := mr.Get(idemKey(req, "k"))
	require.NoError(t, err)
	require.NotEqual(t, idemPending, stored)

	retry := httptest.NewRequest(http.MethodPost, "/api/v1/billing/sessions/s1/submit", nil)
	retry.Header.Set("Idempotency-Key", "k")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, retry)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "true", rr.Header().Get("Idempotent-Replay"))
	require.Contains(t, rr.Body.String(), "B-0001")
	require.EqualValues(t, 1, calls.Load())
}

func TestIdempotencyReleasesAfterClientDisconnectOnFailure(t *testing.T) {
	idem, mr := newIdem(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		JSONError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "backend down", nil)
	}))
	req := httptest.NewRequest(http.MethodPost, "/x", nil).WithContext(ctx)
	req.Header.Set("Idempotency-Key", "k")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, mr.Exists(idemKey(req, "k")))
}
