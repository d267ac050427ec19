package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/farmcart-backend/api"
	"github.com/angelmondragon/farmcart-backend/internal/analytics/worker"
	"github.com/angelmondragon/farmcart-backend/internal/analytics/writer"
	"github.com/angelmondragon/farmcart-backend/pkg/bigquery"
	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/farmcart-backend/pkg/pubsub"
	"github.com/angelmondragon/farmcart-backend/pkg/redis"
)

const serviceKind = "analytics-worker"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceKind}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "analytics worker failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "analytics worker stopped")
}

// run wires the subscription to the BigQuery sink and blocks until ctx ends.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer closeQuietly(logg, "redis", redisClient.Close)

	psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	defer closeQuietly(logg, "pubsub", psClient.Close)

	if err := psClient.EnsureSubscription(ctx, cfg.PubSub.AnalyticsSubscription); err != nil {
		return fmt.Errorf("analytics subscription: %w", err)
	}
	subscriber := psClient.AnalyticsSubscriber()
	if subscriber == nil {
		return errors.New("analytics subscription not configured")
	}

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bigquery: %w", err)
	}
	defer closeQuietly(logg, "bigquery", bqClient.Close)

	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}
	sink, err := writer.New(bqClient, writer.Config{Table: cfg.BigQuery.PaymentEventsTable})
	if err != nil {
		return fmt.Errorf("payment events writer: %w", err)
	}
	service, err := worker.NewService(subscriber, sink, dedupe, logg)
	if err != nil {
		return fmt.Errorf("analytics service: %w", err)
	}

	go api.ServeMetrics(ctx, cfg, prometheus.DefaultGatherer, logg)
	logg.Info(ctx, "analytics worker ready")
	return service.Run(ctx)
}

func closeQuietly(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "failed to close "+name, err)
	}
}
