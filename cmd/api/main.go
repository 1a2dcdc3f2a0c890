package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/toko-pos/internal/app"
	"github.com/noah-isme/toko-pos/internal/auth"
	"github.com/noah-isme/toko-pos/internal/backend"
	"github.com/noah-isme/toko-pos/internal/cache"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/config"
	"github.com/noah-isme/toko-pos/internal/health"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/pos"
	"github.com/noah-isme/toko-pos/internal/ratelimit"
	"github.com/noah-isme/toko-pos/internal/resilience"
	"github.com/noah-isme/toko-pos/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLoggerWithConfig(obs.LogConfig{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSize,
	}).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "toko-pos",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, "toko-pos-api", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close(logger)

	httpClient := backend.NewHTTPClient()
	upstream, err := backend.New(backend.Config{
		BaseURL:    cfg.BackendBaseURL,
		HTTPClient: httpClient,
		Breaker: resilience.NewBreaker(cfg.BackendBreakerMinRequests, cfg.BackendBreakerFailureRatio, cfg.BackendBreakerOpenFor).
			WithTarget("backend").
			WithLogger(logger),
		Timeout:      cfg.BackendTimeout,
		ReadAttempts: cfg.BackendReadAttempts,
		Cache:        cache.New(deps.Redis, cfg.SettingsCacheTTL),
		OnCacheError: func(err error) {
			logger.Warn().Err(err).Msg("settings cache")
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise backend client")
	}

	var sessions pos.Store
	switch cfg.SessionStore {
	case "redis":
		sessions = pos.NewRedisStore(deps.Redis, cfg.SessionTTL)
	default:
		sessions = pos.NewMemoryStore(cfg.SessionTTL)
	}

	recorder, reconciliations := deps.Reconciliation(cfg.ReconcileAsync)

	svc := pos.NewService(pos.ServiceConfig{
		Store:           sessions,
		Backend:         func(token string) pos.Backend { return upstream.WithToken(token) },
		Recorder:        recorder,
		SearchDebounce:  cfg.SearchDebounce,
		SearchIdleTTL:   cfg.SearchIdleTTL,
		InFlightTimeout: cfg.SubmitInFlightTimeout,
		MaxHeldCarts:    cfg.MaxHeldCarts,
	})
	billingHandler := pos.NewHandler(svc, reconciliations)

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: 30 * time.Second,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	authMiddleware := auth.Middleware{Verifier: verifier}

	allower, err := app.NewLimiter(cfg.RateLimitDriver, deps.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	limit := func(scope string, perMinute int) func(http.Handler) http.Handler {
		if allower == nil || perMinute <= 0 {
			return nil
		}
		return ratelimit.Handler{
			Limiter: allower,
			Config:  ratelimit.Config{Key: ratelimit.PerCashier(scope), Window: time.Minute, Max: perMinute},
			OnError: func(err error) {
				logger.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable")
			},
		}.Middleware
	}
	routes := pos.RouteOptions{
		SearchLimit:   limit("search", cfg.RateLimitSearchPerMin),
		MutationLimit: limit("mutation", cfg.RateLimitMutationPerMin),
		SubmitLimit:   limit("submit", cfg.RateLimitSubmitPerMin),
	}
	if deps.Redis != nil {
		routes.Idempotency = common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}.Middleware
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, HSTSMaxAge: cfg.HSTSMaxAge, HSTSIncludeSubdomains: true}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	healthHandler := health.Handler{Probes: probes(cfg, deps, httpClient)}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.RequireAuth)
		billingHandler.Routes(v, routes)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("session_store", cfg.SessionStore).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

func probes(cfg *config.Config, deps *app.Dependencies, client *http.Client) []health.Probe {
	var out []health.Probe
	if deps.Redis != nil {
		out = append(out, health.RedisProbe(deps.Redis, cfg.HealthRedisTimeout))
	}
	if deps.DB != nil {
		out = append(out, health.PostgresProbe(deps.DB, cfg.HealthDBTimeout))
	}
	backendProbe := health.HTTPProbe("backend", client, cfg.BackendBaseURL+"/health", cfg.HealthBackendTimeout)
	backendProbe.Optional = true
	return append(out, backendProbe)
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	const prefix = "/debug/pprof/"
	mux := http.NewServeMux()
	mux.HandleFunc(prefix, pprof.Index)
	mux.HandleFunc(prefix+"cmdline", pprof.Cmdline)
	mux.HandleFunc(prefix+"profile", pprof.Profile)
	mux.HandleFunc(prefix+"symbol", pprof.Symbol)
	mux.HandleFunc(prefix+"trace", pprof.Trace)
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

