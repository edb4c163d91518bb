package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/chargx/storefront-gateway/internal/applepay"
	"github.com/chargx/storefront-gateway/internal/checkout"
	"github.com/chargx/storefront-gateway/internal/common"
	"github.com/chargx/storefront-gateway/internal/config"
	"github.com/chargx/storefront-gateway/internal/health"
	"github.com/chargx/storefront-gateway/internal/obs"
	"github.com/chargx/storefront-gateway/internal/order"
	"github.com/chargx/storefront-gateway/internal/processor"
	"github.com/chargx/storefront-gateway/internal/ratelimit"
	"github.com/chargx/storefront-gateway/internal/resilience"
	"github.com/chargx/storefront-gateway/internal/security"
	"github.com/chargx/storefront-gateway/internal/settlement"
	"github.com/chargx/storefront-gateway/internal/subs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(nil)
	resilience.MustRegisterBreakerMetrics(nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "chargx-gateway",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: sampling,
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	taskClient := asynq.NewClient(asynq.RedisClientOpt{
		Network:  redisOpts.Network,
		Addr:     redisOpts.Addr,
		Username: redisOpts.Username,
		Password: redisOpts.Password,
		DB:       redisOpts.DB,
	})
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	procClient := processor.NewClient(
		cfg.ProcessorBaseURL,
		cfg.ProcessorAdminURL,
		cfg.ActivePublishableKey(),
		cfg.ActiveSecretKey(),
		cfg.HTTPTimeout,
		logger,
	)

	orders := &order.RedisStore{R: redisClient}
	orderHandler := &order.Handler{Store: orders, Put: orders, Log: logger}

	attempts := &checkout.RedisStore{R: redisClient, TTL: cfg.AttemptTTL}
	enqueuer := &subs.Enqueuer{Client: taskClient, Queue: cfg.SubscriptionQueue}
	settleSvc := &settlement.Service{
		API:         procClient,
		Orders:      orders,
		Subs:        enqueuer,
		CaptureMode: cfg.CaptureMode,
		Log:         logger,
	}
	settleHandler := &settlement.Handler{
		Svc:     settleSvc,
		Payouts: procClient,
		Gate:    &checkout.Gate{Store: attempts},
		Params: settlement.GatewayParams{
			CardGatewayID:   "chargx",
			AppleGatewayID:  "chargx_applepay",
			GoogleGatewayID: "chargx_googlepay",
			PublishableKey:  cfg.ActivePublishableKey(),
			Currency:        cfg.CurrencyCode,
			TestMode:        cfg.TestMode,
		},
		ReturnBase: cfg.PublicBaseURL,
		Log:        logger,
	}

	subsSvc := &subs.Service{API: procClient, Orders: orders, Log: logger}
	subsHandler := &subs.Handler{Svc: subsSvc, Log: logger}

	appleHandler := &applepay.Handler{Log: logger}
	if cfg.AppleConfigured() {
		validator, err := applepay.NewValidator(applepay.Config{
			MerchantID:    cfg.AppleMerchantID,
			DisplayName:   cfg.AppleMerchantName,
			Domain:        cfg.AppleMerchantDomain,
			CertPath:      cfg.AppleCertPath,
			KeyPath:       cfg.AppleKeyPath,
			KeyPassphrase: cfg.AppleKeyPassphrase,
			Timeout:       cfg.HTTPTimeout,
		}, logger)
		if err != nil {
			logger.Error().Err(err).Msg("initialise apple pay relay")
		} else {
			appleHandler.Validator = validator
		}
	}

	relayLimiter, err := ratelimit.New(redisClient, cfg.RelayRateLimit, "ratelimit:relay")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise relay rate limiter")
	}
	relay := ratelimit.Handler{
		Limiter: relayLimiter,
		OnError: func(err error) {
			logger.Error().Err(err).Msg("relay rate limiter")
		},
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics("chargx_gateway", nil)
	}

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
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      health.RedisChecker{R: redisClient},
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Get("/gateway/params", settleHandler.GatewayParams)

		v.With(relay.Middleware).Post("/applepay/validate-merchant", appleHandler.ValidateMerchant)

		v.Post("/orders", orderHandler.Upsert)
		v.Get("/orders/{orderId}", orderHandler.Get)

		v.Group(func(g chi.Router) {
			g.Use(idem.Middleware)
			g.Post("/checkout/card", settleHandler.SettleCard)
			g.Post("/checkout/wallet", settleHandler.SettleWallet)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(requireSecret(cfg.ActiveSecretKey()))
			admin.Post("/orders/{orderId}/capture", settleHandler.Capture)
			admin.Post("/orders/{orderId}/refund", settleHandler.Refund)
			admin.Post("/orders/{orderId}/void", settleHandler.Void)
			admin.Post("/payout", settleHandler.SubmitPayout)
			admin.Get("/subscriptions/{orderId}", subsHandler.Status)
			admin.Delete("/subscriptions/{orderId}", subsHandler.Cancel)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-stopCtx.Done()
	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// requireSecret guards admin routes with the processor secret key, matching
// the Basic scheme the processor's own admin API uses.
func requireSecret(secret string) func(http.Handler) http.Handler {
	secret = strings.TrimSpace(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				common.JSONError(w, http.StatusServiceUnavailable, "SECRET_KEY_MISSING", "admin operations require a secret key", nil)
				return
			}
			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Basic ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin credentials", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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
