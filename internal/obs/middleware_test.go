package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/noah-isme/toko-pos/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("pos", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/sessions/abc/lines", nil)
	req = req.WithContext(obs.WithRoute(req.Context(), "/api/v1/billing/sessions/{id}/lines"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rr.Code)
	}

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/api/v1/billing/sessions/{id}/lines", "409"))
	if total != 1 {
		t.Fatalf("expected counter to be 1, got %v", total)
	}
	if samples := testutil.CollectAndCount(metrics.ReqDur); samples == 0 {
		t.Fatalf("expected histogram sample")
	}
	if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
		t.Fatalf("expected no in-flight requests, got %v", val)
	}
}

func TestHTTPMetricsLabelNestedBillingRoute(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("pos", nil, registry)
	var seen obs.Route

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Route("/api/v1/billing/sessions/{id}", func(sr chi.Router) {
		sr.Post("/lines/{variantId}/increment", func(w http.ResponseWriter, req *http.Request) {
			seen = obs.RouteOf(req)
			w.WriteHeader(http.StatusOK)
		})
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/billing/sessions/s-42/lines/v1/increment", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if seen.SessionID != "s-42" || seen.VariantID != "v1" {
		t.Fatalf("unexpected route %+v", seen)
	}

	pattern := "/api/v1/billing/sessions/{id}/lines/{variantId}/increment"
	if total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, pattern, "200")); total != 1 {
		t.Fatalf("expected the nested pattern to be counted once, got %v", total)
	}
}

func TestRouteLabelFallsBackWhenUnrouted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := obs.RouteOf(req).Label("unknown"); got != "unknown" {
		t.Fatalf("expected fallback label, got %q", got)
	}
}

func TestHTTPMetricsReuseRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("pos", nil, registry)
	second := obs.NewHTTPMetrics("pos", nil, registry)
	if first.ReqTotal != second.ReqTotal {
		t.Fatalf("expected the collector to be reused")
	}
}

func TestParseBucketsCSV(t *testing.T) {
	got := obs.ParseBucketsCSV("10, x, -1, 250,,5")
	if len(got) != 3 || got[0] != 10 || got[1] != 250 || got[2] != 5 {
		t.Fatalf("unexpected buckets %v", got)
	}
}

func TestDomainMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("pos", registry)
	obs.MustRegisterDomainMetrics("pos", registry)
	obs.IncCounter(obs.CartRejectionsTotal, "max_stock")
	if v := testutil.ToFloat64(obs.CartRejectionsTotal.WithLabelValues("max_stock")); v != 1 {
		t.Fatalf("expected 1 rejection, got %v", v)
	}
}
