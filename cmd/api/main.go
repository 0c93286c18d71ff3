package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/auth"
	"github.com/noah-isme/backend-kasir/internal/bill"
	"github.com/noah-isme/backend-kasir/internal/cache"
	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/db"
	"github.com/noah-isme/backend-kasir/internal/discount"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/health"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/loyalty"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/payment"
	"github.com/noah-isme/backend-kasir/internal/ratelimit"
	"github.com/noah-isme/backend-kasir/internal/resilience"
	"github.com/noah-isme/backend-kasir/internal/security"
	"github.com/noah-isme/backend-kasir/internal/shift"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:    "kasir-api",
			ServiceVersion: cfg.AppVersion,
			Endpoint:       cfg.OTLPEndpoint,
			Exporter:       cfg.TracingExporter,
			SamplingRatio:  cfg.TracingSampleRate,
			Environment:    cfg.AppEnv,
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

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := db.NewPool(startCtx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: int32(cfg.DBMaxConns), ApplicationName: "kasir-api"})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient := mustInitRedis(startCtx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse task queue redis url")
	}
	taskClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	locker := lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockTTL}
	bus := &events.Bus{
		Store:     events.PgStore{Pool: pool},
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}, events.MetricsNotifier{}},
	}

	authService, err := auth.NewService(auth.Config{
		Store:          auth.PgStore{Pool: pool},
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Store: catalog.PgStore{Pool: pool},
		Cache: cache.NewJSON(redisClient, cfg.CatalogCacheTTL),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}

	discountService := &discount.Service{Store: discount.PgStore{Pool: pool}}
	loyaltyService := &loyalty.Service{
		Store:  loyalty.PgStore{Pool: pool},
		Cache:  cache.NewJSON(redisClient, cfg.LoyaltyCacheTTL),
		Policy: loyalty.Policy{Threshold: cfg.LoyaltyPurchaseThreshold},
		Logger: logger,
	}
	shiftService := &shift.Service{
		Store:          shift.PgStore{Pool: pool},
		Locker:         locker,
		LockTTL:        cfg.LockTTL,
		Events:         bus,
		MaxOpeningCash: cfg.MaxOpeningCash,
		Logger:         logger,
	}
	billService := &bill.Service{
		Store:     bill.PgStore{Pool: pool},
		Catalog:   catalogService,
		Discounts: discountService,
		Loyalty:   loyaltyService,
		Verifier:  newVerifier(cfg, logger),
		Events:    bus,
		Queue:     bill.AsynqEnqueuer{Client: taskClient, MaxRetry: cfg.QueueMaxAttempts},
		Logger:    logger,
	}

	h := handlers{
		auth:     &auth.Handler{Service: authService},
		authMW:   auth.Middleware{Service: authService},
		catalog:  catalog.Handler{Svc: catalogService},
		discount: &discount.Handler{Svc: discountService},
		loyalty:  &loyalty.Handler{Svc: loyaltyService},
		shift:    &shift.Handler{Svc: shiftService},
		bill:     &bill.Handler{Svc: billService},
		health: health.Handler{
			Checker:      health.Deps{Pool: pool, Redis: redisClient},
			DBTimeout:    cfg.HealthDBTimeout,
			RedisTimeout: cfg.HealthRedisTimeout,
		},
		idem: common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL},
		billLimit: ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:bills"},
			Config:  ratelimit.Config{Key: ratelimit.PerCashier("bill:create"), Window: cfg.BillRateLimitWindow, Max: cfg.BillRateLimitMax},
			OnError: func(err error) { logger.Warn().Err(err).Msg("bill rate limiter unavailable") },
		},
	}

	ipStore, err := ratelimit.NewRedisStore(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise ip rate limit store")
	}
	perIP, err := ratelimit.PerIP(ipStore, cfg.PublicRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise ip rate limit")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.MetricsEnabled {
		httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBucketsMS), nil)
		httpMetrics.SlowThreshold = cfg.SlowRequest
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.HSTSEnabled}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		r.Mount("/debug", debugRoutes(cfg.PprofUser, cfg.PprofPass))
	}
	r.Get("/health/live", h.health.Live)
	r.Get("/health/ready", h.health.Ready)
	r.With(perIP).Route("/api/v1", h.routes)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("draining connections")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	logger.Info().Msg("server stopped")
}

type handlers struct {
	auth      *auth.Handler
	authMW    auth.Middleware
	catalog   catalog.Handler
	discount  *discount.Handler
	loyalty   *loyalty.Handler
	shift     *shift.Handler
	bill      *bill.Handler
	health    health.Handler
	idem      common.Idem
	billLimit ratelimit.Handler
}

func (h handlers) routes(v chi.Router) {
	v.Route("/auth", func(a chi.Router) {
		a.Post("/login", h.auth.Login)
		a.With(h.authMW.RequireAuth).Get("/me", h.auth.Me)
	})

	v.Group(func(p chi.Router) {
		p.Use(h.authMW.RequireAuth)

		p.Get("/products", h.catalog.Products)
		p.Get("/products/{id}", h.catalog.Product)

		p.Get("/customers", h.loyalty.Find)
		p.With(h.idem.Middleware).Post("/customers", h.loyalty.Register)
		p.Get("/customers/{id}/loyalty", h.loyalty.Loyalty)

		p.Route("/shifts", func(s chi.Router) {
			s.With(h.idem.Middleware).Post("/open", h.shift.Open)
			s.Get("/current", h.shift.Current)
			s.With(h.idem.Middleware).Post("/close", h.shift.Close)
		})

		p.Route("/bills", func(b chi.Router) {
			b.Post("/preview", h.bill.Preview)
			b.With(h.billLimit.Middleware, h.idem.Middleware).Post("/", h.bill.Create)
			b.Get("/", h.bill.List)
			b.Get("/{id}", h.bill.Get)
		})

		p.Route("/admin/discounts", func(d chi.Router) {
			d.Use(auth.RequireRole(auth.RoleManager))
			d.With(h.idem.Middleware).Post("/", h.discount.Create)
			d.Get("/", h.discount.List)
			d.Delete("/{id}", h.discount.Deactivate)
		})
	})
}

// newVerifier picks how card and UPI references are confirmed. The gateway sits
// behind a circuit breaker.
func newVerifier(cfg *config.Config, logger zerolog.Logger) *payment.Service {
	if cfg.PaymentVerifier != "gateway" {
		return &payment.Service{Verifier: payment.Manual{}, Name: "manual"}
	}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Target:       "payment-gateway",
		MinRequests:  cfg.CircuitMinRequests,
		FailureRatio: cfg.CircuitFailureRatio,
		OpenFor:      cfg.CircuitOpenFor,
		Logger:       logger,
	})
	gateway := payment.NewGateway(cfg.PaymentGatewayURL, cfg.PaymentGatewayKey, cfg.PaymentGatewayTimeout, breaker,
		resilience.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts, Base: cfg.RetryBase, Jitter: 0.2})
	return &payment.Service{Verifier: gateway, Name: "gateway"}
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}
