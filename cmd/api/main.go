package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/farmcart-backend/api"
	paymentcontrollers "github.com/angelmondragon/farmcart-backend/api/controllers/payments"
	"github.com/angelmondragon/farmcart-backend/api/routes"
	"github.com/angelmondragon/farmcart-backend/internal/platform"
	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/db"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/migrate"
	"github.com/angelmondragon/farmcart-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	core, err := platform.Build(ctx, platform.Params{
		Config:     cfg,
		DB:         dbClient,
		Redis:      redisClient,
		Registerer: registry,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to build services", err)
		os.Exit(1)
	}

	var (
		redirect paymentcontrollers.RedirectCapture
		async    paymentcontrollers.AsyncGateway
	)
	if core.PayPal != nil {
		redirect = core.PayPal
	}
	if core.PhonePe != nil {
		async = core.PhonePe
	}

	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	server := api.NewServer(cfg, routes.NewRouter(
		cfg, logg, dbClient, redisClient, registry,
		core.Orders, core.Ledger, core.Payments, redirect, async,
	))
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     server.Addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	if err := api.Serve(ctx, server, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
