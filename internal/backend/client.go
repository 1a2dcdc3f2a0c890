package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/toko-pos/internal/cache"
	"github.com/noah-isme/toko-pos/internal/resilience"
)

// Config configures Client.
type Config struct {
	BaseURL      string
	HTTPClient   *http.Client
	Breaker      *resilience.Breaker
	Timeout      time.Duration
	ReadAttempts int
	Cache        *cache.JSON
	// OnCacheError receives settings cache failures, which never fail a call.
	OnCacheError func(error)
}

// Client talks to the retail backend. Use WithToken to obtain a copy that
// forwards the cashier's bearer token.
type Client struct {
	baseURL      string
	http         resilience.HTTPClient
	cache        *cache.JSON
	onCacheError func(error)
	token        string
	calls        metric.Int64Counter
}

// NewHTTPClient returns an http.Client whose transport is traced.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend: base url required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = NewHTTPClient()
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget("backend")
	}
	calls, err := otel.Meter("pos.backend").Int64Counter("pos.backend.calls",
		metric.WithDescription("Calls to the retail backend by operation and outcome."))
	if err != nil {
		return nil, fmt.Errorf("backend: create meter: %w", err)
	}
	return &Client{
		baseURL: base,
		http: resilience.HTTPClient{
			Client:      hc,
			Breaker:     breaker,
			MaxAttempts: cfg.ReadAttempts,
			Jitter:      0.2,
			Timeout:     cfg.Timeout,
			Target:      "backend",
		},
		cache:        cfg.Cache,
		onCacheError: cfg.OnCacheError,
		calls:        calls,
	}, nil
}

// BaseURL returns the backend root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// WithToken returns a copy forwarding token as the bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = strings.TrimSpace(token)
	return &cp
}

// Settings returns the shop settings, served from cache when fresh.
func (c *Client) Settings(ctx context.Context) (Settings, error) {
	s, err := cache.Load(ctx, c.cache, cache.KeySettings, func(ctx context.Context) (Settings, error) {
		var out Settings
		err := c.do(ctx, "settings", http.MethodGet, "/settings", nil, nil, &out)
		return out, err
	}, c.onCacheError)
	if err != nil {
		return Settings{}, err
	}
	return s.Normalized(), nil
}

// SearchVariants runs a free-text variant search.
func (c *Client) SearchVariants(ctx context.Context, term string) ([]Variant, error) {
	var out struct {
		Data []Variant `json:"data"`
	}
	q := url.Values{"q": []string{term}}
	if err := c.do(ctx, "search_variants", http.MethodGet, "/variants/search", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return []Variant{}, nil
	}
	return out.Data, nil
}

// Variant looks up one variant. A 404 matches ErrNotFound.
func (c *Client) Variant(ctx context.Context, id string) (Variant, error) {
	var out struct {
		Data Variant `json:"data"`
	}
	if err := c.do(ctx, "get_variant", http.MethodGet, "/variants/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return Variant{}, err
	}
	return out.Data, nil
}

// CreateSale submits a sale. The request is sent once and never retried.
func (c *Client) CreateSale(ctx context.Context, req SaleRequest) (Sale, error) {
	var out struct {
		Data Sale `json:"data"`
	}
	if err := c.do(ctx, "create_sale", http.MethodPost, "/sales", nil, req, &out); err != nil {
		return Sale{}, err
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode %s: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("backend: build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			c.record(ctx, op, "canceled")
			return ctx.Err()
		}
		c.record(ctx, op, "unavailable")
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		c.record(ctx, op, "rejected")
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.record(ctx, op, "ok")
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.record(ctx, op, "invalid")
		return fmt.Errorf("%w: %s: decode response: %w", ErrUnavailable, op, err)
	}
	c.record(ctx, op, "ok")
	return nil
}

func (c *Client) record(ctx context.Context, op, outcome string) {
	if c.calls == nil {
		return
	}
	c.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if len(data) > 0 && json.Unmarshal(data, &body) == nil {
		if body.Error != nil {
			apiErr.Code = body.Error.Code
			apiErr.Message = body.Error.Message
			apiErr.Details = body.Error.Details
		} else {
			apiErr.Message = body.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
