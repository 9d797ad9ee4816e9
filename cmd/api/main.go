package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/kasir-api/db"
	"github.com/noah-isme/kasir-api/internal/catalog"
	"github.com/noah-isme/kasir-api/internal/checkout"
	"github.com/noah-isme/kasir-api/internal/common"
	"github.com/noah-isme/kasir-api/internal/config"
	"github.com/noah-isme/kasir-api/internal/credential"
	"github.com/noah-isme/kasir-api/internal/health"
	"github.com/noah-isme/kasir-api/internal/obs"
	"github.com/noah-isme/kasir-api/internal/order"
	"github.com/noah-isme/kasir-api/internal/payment"
	"github.com/noah-isme/kasir-api/internal/resilience"
	"github.com/noah-isme/kasir-api/internal/store"
	"github.com/noah-isme/kasir-api/internal/stripe"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := obs.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "kasir-api",
			Endpoint:      cfg.TracingEndpoint,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("tracer shutdown")
			}
		}()
	}

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("migrations applied")

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	if cfg.TracingEnabled {
		poolCfg.ConnConfig.Tracer = obs.PGXTracer{}
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	st := store.New(pool)
	creds := &credential.Resolver{
		Keys:            cfg.CurrencyKeys,
		DefaultCurrency: cfg.DefaultCurrency,
		Legacy: credential.KeyPair{
			Secret:      cfg.LegacySecretKey,
			Publishable: cfg.LegacyPublishable,
		},
	}

	breaker := resilience.NewBreaker(5, 0.5, 30*time.Second).
		WithTarget("stripe").
		WithLogger(log)
	gateway := &stripe.Client{
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{},
			Breaker:     breaker,
			BaseBackoff: 100 * time.Millisecond,
			MaxAttempts: cfg.StripeMaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.StripeTimeout,
		},
		BaseURL: cfg.StripeBaseURL,
	}

	validate := validator.New()
	checkoutSvc := &checkout.Service{
		Repo:       st,
		Gateway:    gateway,
		Creds:      creds,
		SuccessURL: cfg.SuccessURL,
		CancelURL:  cfg.CancelURL,
		MinCharges: cfg.MinCharges,
		Log:        log,
	}
	reconciler := &payment.Reconciler{
		Repo:      st,
		Redis:     rdb,
		ReplayTTL: cfg.WebhookReplayTTL,
		Log:       log,
	}

	catalogH := &catalog.Handler{Repo: st, Validate: validate, Creds: creds, DefaultCurrency: cfg.DefaultCurrency}
	orderH := &order.Handler{Repo: st, Validate: validate}
	checkoutH := &checkout.Handler{Svc: checkoutSvc}
	paymentH := &payment.Handler{Reconciler: reconciler, Secret: cfg.WebhookSecret, Tolerance: cfg.WebhookTolerance}
	healthH := health.Handler{Checker: readiness{pool: pool, rdb: rdb}}

	idem := common.Idem{R: rdb, TTL: cfg.IdempotencyTTL}
	metrics := obs.NewHTTPMetrics("kasir", nil, nil)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(obs.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz/live", healthH.Live)
	r.Get("/healthz/ready", healthH.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/items", func(r chi.Router) {
		r.Post("/", catalogH.CreateItem)
		r.Get("/", catalogH.ListItems)
		r.Get("/{id}", catalogH.GetItem)
		r.With(idem.Middleware).Post("/{id}/checkout", checkoutH.ChargeItem)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", orderH.Create)
		r.Get("/{id}", orderH.Get)
		r.With(idem.Middleware).Post("/{id}/checkout", checkoutH.ChargeOrder)
		r.With(idem.Middleware).Post("/{id}/payment-intent", checkoutH.PaymentIntent)
	})
	r.Route("/discounts", func(r chi.Router) {
		r.Post("/", catalogH.CreateDiscount)
		r.Get("/", catalogH.ListDiscounts)
		r.Get("/{id}", catalogH.GetDiscount)
	})
	r.Route("/taxes", func(r chi.Router) {
		r.Post("/", catalogH.CreateTax)
		r.Get("/", catalogH.ListTaxes)
		r.Get("/{id}", catalogH.GetTax)
	})
	r.Post("/webhooks/stripe", paymentH.Webhook)
	r.Get("/payments/{sessionID}/status", paymentH.Status)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// readiness probes the two hard dependencies for the ready endpoint.
type readiness struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func (r readiness) PingDB(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r readiness) PingRedis(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}
