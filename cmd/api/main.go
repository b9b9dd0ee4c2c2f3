package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/storefront-gateway/internal/audit"
	"github.com/noah-isme/storefront-gateway/internal/auth"
	"github.com/noah-isme/storefront-gateway/internal/common"
	"github.com/noah-isme/storefront-gateway/internal/config"
	"github.com/noah-isme/storefront-gateway/internal/erp"
	"github.com/noah-isme/storefront-gateway/internal/events"
	"github.com/noah-isme/storefront-gateway/internal/health"
	httpmw "github.com/noah-isme/storefront-gateway/internal/http/middleware"
	"github.com/noah-isme/storefront-gateway/internal/lock"
	"github.com/noah-isme/storefront-gateway/internal/obs"
	"github.com/noah-isme/storefront-gateway/internal/pricing"
	"github.com/noah-isme/storefront-gateway/internal/ratelimit"
	"github.com/noah-isme/storefront-gateway/internal/resilience"
	"github.com/noah-isme/storefront-gateway/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "storefront")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "storefront-gateway",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
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

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
	defer cancel()

	redisClient := mustInitRedis(ctx, cfg, logger, metricsEnabled)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	var journalStore *audit.PGStore
	if cfg.JournalEnabled() {
		pool := mustInitDatabase(ctx, cfg, logger)
		defer pool.Close()
		if err := audit.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate journal schema")
		}
		journalStore = audit.NewPGStore(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set; change journal disabled")
	}

	erpClient, err := erp.New(erp.Options{
		BaseURL:    cfg.ERP.BaseURL,
		SuiteQLURL: cfg.ERP.SuiteQLURL,
		Signer: erp.Signer{
			Realm:          cfg.ERP.AccountRealm,
			ConsumerKey:    cfg.ERP.ConsumerKey,
			ConsumerSecret: cfg.ERP.ConsumerSecret,
			TokenID:        cfg.ERP.TokenID,
			TokenSecret:    cfg.ERP.TokenSecret,
		},
		Timeout:     cfg.ERP.Timeout,
		MaxAttempts: cfg.ERP.RetryMax,
		BaseBackoff: cfg.ERP.RetryBase,
		Jitter:      cfg.ERP.RetryJitter,
		Breaker:     resilience.NewBreaker(cfg.ERP.BreakerMinReq, cfg.ERP.BreakerRatio, cfg.ERP.BreakerOpenFor),
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise erp client")
	}

	pricingService, err := pricing.NewService(pricing.ServiceConfig{
		Source: pricing.ERPPromotions{Client: erpClient},
		Cache:  pricing.NewCache(redisClient, cfg.PromotionCacheTTL),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise pricing service")
	}
	pricingHandler := pricing.NewHandler(pricing.HandlerConfig{Service: pricingService})

	aliases := subscription.DefaultAliasTable()
	if cfg.ERP.AliasTablePath != "" {
		aliases, err = subscription.LoadAliasTable(cfg.ERP.AliasTablePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.ERP.AliasTablePath).Msg("load erp alias table")
		}
	}

	asynqOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis uri")
	}
	taskClient := asynq.NewClient(asynqOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	journal := audit.Journal{Enabled: journalStore != nil, SamplingRate: envFloat("JOURNAL_SAMPLING_RATE", 1.0)}
	if journalStore != nil {
		journal.Store = journalStore
	}
	bus := &events.Bus{Journal: journal, Enqueuer: taskClient}

	locker := lock.Locker{R: redisClient, Prefix: "subscriptions:lock"}
	sessions, err := subscription.NewSessions(subscription.SessionsConfig{
		Gateway:    subscription.ERPGateway{Client: erpClient},
		Normalizer: subscription.NewNormalizer(aliases, nil),
		Store:      subscription.RedisStore{R: redisClient, TTL: cfg.WorkspaceTTL},
		Serializer: locker,
		RowGuard:   locker,
		Recorder:   bus,
		BusyTTL:    cfg.RowLockTTL,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise subscription sessions")
	}
	subscriptionHandler := subscription.NewHandler(subscription.HandlerConfig{Sessions: sessions})

	var historyHandler audit.Handler
	if journalStore != nil {
		historyHandler.Store = journalStore
	}

	verifier, err := newVerifier(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	authMiddleware := auth.Middleware{Verifier: verifier}

	rateLimiter, err := ratelimit.New(redisClient, cfg.RateLimit, "storefront:ratelimit")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	limit := ratelimit.Handler{
		Limiter: rateLimiter,
		Key:     ratelimit.CustomerOrIP(cfg.TrustProxy),
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	requestLogger := obs.RequestLogger{Logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(requestLogger.Middleware)
	r.Use(requestLogger.Inject)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httpmw.Headers{EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(httpmw.BodyLimit{Max: int64(envInt("HTTP_MAX_BODY_BYTES", 1<<20))}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	checks := []health.Check{
		{Name: "redis", Timeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300), Run: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}},
		{Name: "erp", Run: erpClient.Ready},
	}
	if journalStore != nil {
		checks = append(checks, health.Check{Name: "postgres", Timeout: envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500), Run: journalStore.Ping})
	}
	healthHandler := health.Handler{Checks: checks}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.RequireAuth)
		v.Use(limit.Middleware)

		v.Post("/pricing/resolve", pricingHandler.Resolve)
		v.Post("/pricing/quote", pricingHandler.Quote)

		v.Route("/subscriptions", func(s chi.Router) {
			s.Use(httpmw.RequireCustomer)
			s.Get("/", subscriptionHandler.List)
			s.Get("/notices", subscriptionHandler.Notices)
			s.Get("/history", historyHandler.List)
			s.Delete("/cancel", subscriptionHandler.DismissCancel)
			s.Patch("/{roId}", subscriptionHandler.Update)
			s.Delete("/{roId}/draft", subscriptionHandler.Discard)
			s.Post("/{roId}/cancel", subscriptionHandler.RequestCancel)
			s.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Post("/save", subscriptionHandler.SaveAll)
				g.Post("/{roId}/save", subscriptionHandler.Save)
				g.Post("/cancel/confirm", subscriptionHandler.ConfirmCancel)
			})
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("HTTP_SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown http server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func newVerifier(ctx context.Context, cfg *config.Config) (*auth.Verifier, error) {
	validator := auth.TokenValidator{
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkew,
	}
	if cfg.Auth.JWKSURL != "" {
		client := &http.Client{Timeout: 5 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
		return auth.NewJWKSVerifier(ctx, cfg.Auth.JWKSURL, client, validator, cfg.Auth.CustomerClaim)
	}
	return auth.NewHMACVerifier([]byte(cfg.Auth.HMACSecret), validator, cfg.Auth.CustomerClaim)
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger, metrics bool) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "storefront-gateway"
	if maxConns := envInt("DB_MAX_CONNS", 0); maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
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

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
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
