package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"

	"github.com/chargx/storefront-gateway/internal/config"
	"github.com/chargx/storefront-gateway/internal/lock"
	"github.com/chargx/storefront-gateway/internal/obs"
	"github.com/chargx/storefront-gateway/internal/order"
	"github.com/chargx/storefront-gateway/internal/processor"
	"github.com/chargx/storefront-gateway/internal/subs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	procClient := processor.NewClient(
		cfg.ProcessorBaseURL,
		cfg.ProcessorAdminURL,
		cfg.ActivePublishableKey(),
		cfg.ActiveSecretKey(),
		cfg.HTTPTimeout,
		logger,
	)
	orders := &order.RedisStore{R: redisClient}
	subsSvc := &subs.Service{
		API:    procClient,
		Orders: orders,
		Locks:  &lock.Locker{R: redisClient},
		Log:    logger,
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Network:  redisOpts.Network,
			Addr:     redisOpts.Addr,
			Username: redisOpts.Username,
			Password: redisOpts.Password,
			DB:       redisOpts.DB,
		},
		asynq.Config{
			Concurrency: 5,
			Queues:      map[string]int{cfg.SubscriptionQueue: 1},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(subs.TaskTypeProvision, subsSvc.HandleProvisionTask)

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	logger.Info().Str("queue", cfg.SubscriptionQueue).Msg("worker starting")

	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
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
