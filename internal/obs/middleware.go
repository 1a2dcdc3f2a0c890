package obs

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-pos/internal/common"
)

type routeKey struct{}

// WithRoute pins the route pattern reported for a request, overriding what
// the router matched.
func WithRoute(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routeKey{}, pattern)
}

// Route is what the router resolved for a served request. chi fills its
// route context while routing, so Route is only complete once the inner
// handler has returned.
type Route struct {
	Pattern   string
	SessionID string
	VariantID string
	HoldID    string
}

// RouteOf reads the route of r.
func RouteOf(r *http.Request) Route {
	var rt Route
	ctx := r.Context()
	if v, ok := ctx.Value(routeKey{}).(string); ok {
		rt.Pattern = v
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		if rt.Pattern == "" {
			rt.Pattern = rc.RoutePattern()
		}
		rt.SessionID = rc.URLParam("id")
		rt.VariantID = rc.URLParam("variantId")
		rt.HoldID = rc.URLParam("holdId")
	}
	return rt
}

// Label returns the pattern, or fallback for unrouted requests.
func (rt Route) Label(fallback string) string {
	if rt.Pattern == "" {
		return fallback
	}
	return rt.Pattern
}

// StatusRecorder wraps ResponseWriter to capture status code and bytes written.
type StatusRecorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

// NewStatusRecorder constructs a status recorder with default 200 status.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *StatusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *StatusRecorder) Write(p []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(p)
	sr.bytesWritten += int64(n)
	return n, err
}

// Status returns the response status code.
func (sr *StatusRecorder) Status() int { return sr.status }

// BytesWritten returns the number of bytes written to the client.
func (sr *StatusRecorder) BytesWritten() int64 { return sr.bytesWritten }

// HTTPObs records request counts and latency per route pattern.
type HTTPObs struct {
	Metrics *HTTPMetrics
}

func (o HTTPObs) Middleware(next http.Handler) http.Handler {
	if o.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := NewStatusRecorder(w)
		o.Metrics.InFlight.Inc()
		defer o.Metrics.InFlight.Dec()
		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := RouteOf(r).Label("unknown")
		o.Metrics.ReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.Status())).Inc()
		o.Metrics.ReqDur.WithLabelValues(r.Method, route).Observe(DurationMillis(time.Since(start)))
	})
}

// TracingMiddleware starts a span per request. The span is renamed to the
// route pattern after routing and carries the billing session, line and
// held cart ids of the route.
func TracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer("pos.http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		recorder := NewStatusRecorder(w)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		rt := RouteOf(r)
		route := rt.Label(r.URL.Path)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", recorder.Status()),
		)
		for key, v := range map[string]string{
			"pos.session_id": rt.SessionID,
			"pos.variant_id": rt.VariantID,
			"pos.hold_id":    rt.HoldID,
		} {
			if v != "" {
				span.SetAttributes(attribute.String(key, v))
			}
		}
		if user, ok := common.UserID(r.Context()); ok {
			span.SetAttributes(attribute.String("enduser.id", user))
		}
		if recorder.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.Status()))
		}
	})
}
