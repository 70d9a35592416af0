package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/settlrhq/settlr/internal/chain"
	"github.com/settlrhq/settlr/internal/checkout"
	"github.com/settlrhq/settlr/internal/config"
	"github.com/settlrhq/settlr/internal/db"
	"github.com/settlrhq/settlr/internal/events"
	"github.com/settlrhq/settlr/internal/health"
	"github.com/settlrhq/settlr/internal/merchant"
	"github.com/settlrhq/settlr/internal/obs"
	"github.com/settlrhq/settlr/internal/payment"
	"github.com/settlrhq/settlr/internal/ratelimit"
	"github.com/settlrhq/settlr/internal/relay"
	"github.com/settlrhq/settlr/internal/sched"
	"github.com/settlrhq/settlr/internal/session"
	"github.com/settlrhq/settlr/internal/token"
	"github.com/settlrhq/settlr/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "settlr")
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	if envBool("OBS_ENABLE_TRACING", true) {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName: "settlr-api",
			Endpoint:    envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Environment: cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "settlr-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	taskRedis, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	taskClient := asynq.NewClient(taskRedis)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	network := token.Network(cfg.SolanaNetwork)
	registry := token.NewRegistry()
	codec := token.Codec{Registry: registry}
	ledger := chain.NewRPCLedger(cfg.SolanaRPCURL)
	builder := chain.Builder{Ledger: ledger, Codec: codec, Registry: registry, Network: network}

	var relayClient *relay.Client
	if cfg.RelayEnabled {
		relayClient = &relay.Client{
			BaseURL: cfg.RelayURL,
			HTTP:    &http.Client{Timeout: cfg.WebhookRequestTimeout},
			Builder: builder,
		}
	}

	sessionStore := session.NewPGStore(pool)
	merchantStore := merchant.NewPGStore(pool)
	endpointStore := webhook.NewPGEndpointStore(pool)

	dispatcher := &webhook.Dispatcher{
		Store:       endpointStore,
		Tasks:       taskClient,
		MaxAttempts: cfg.WebhookMaxAttempts,
		Enabled:     true,
	}
	bus := &events.Bus{
		Store:     events.NewPGEventStore(pool),
		Scheduler: dispatcher,
	}

	checkoutSvc := &checkout.Service{
		Sessions:  sessionStore,
		Builder:   builder,
		Tracker:   chain.Tracker{Ledger: ledger, Interval: cfg.ConfirmPollInterval, Timeout: cfg.ConfirmTimeout},
		Relay:     relayClient,
		Projector: payment.Projector{Codec: codec, CheckoutBaseURL: cfg.CheckoutBaseURL},
		Bus:       bus,
		TTL:       cfg.SessionTTL,
		Log:       logger,
	}
	checkoutHandlers := checkout.Handlers{Service: checkoutSvc, Validate: validator.New()}
	webhookAdmin := webhook.AdminHandlers{Store: endpointStore, Validate: validator.New()}

	rateLimiter, err := ratelimit.New(redisClient, cfg.RateLimitPerMinute)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.Handler{
		Checker: health.Probes{DB: pool, Redis: redisClient, Ledger: ledger},
	}
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)

	// Public checkout surface, rate limited per client IP.
	r.Group(func(pub chi.Router) {
		pub.Use(rateLimiter)
		checkoutHandlers.MountPublic(pub)
	})

	// Merchant surface behind API-key auth.
	r.Group(func(api chi.Router) {
		api.Use(merchant.RequireAPIKey(merchantStore))
		checkoutHandlers.MountMerchant(api)
		webhookAdmin.Mount(api)
	})

	runCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	sweeper := &sched.Runner{
		Name:     "session-expiry",
		Interval: 30 * time.Second,
		Task:     checkoutSvc.Sweep,
		Log:      logger,
	}
	sweeper.Start(runCtx)
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		<-runCtx.Done()
		health.SetReady(false)
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("network", cfg.SolanaNetwork).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}
