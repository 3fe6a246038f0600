package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/verdeviva/verdeviva-backend/api"
	"github.com/verdeviva/verdeviva-backend/api/routes"
	"github.com/verdeviva/verdeviva-backend/internal/integrity"
	"github.com/verdeviva/verdeviva-backend/internal/matcher"
	"github.com/verdeviva/verdeviva-backend/internal/notifications"
	"github.com/verdeviva/verdeviva-backend/internal/reconciler"
	"github.com/verdeviva/verdeviva-backend/internal/reporting"
	"github.com/verdeviva/verdeviva-backend/internal/subscriptions"
	"github.com/verdeviva/verdeviva-backend/internal/users"
	"github.com/verdeviva/verdeviva-backend/internal/webhooklog"
	mpwebhook "github.com/verdeviva/verdeviva-backend/internal/webhooks/mercadopago"
	"github.com/verdeviva/verdeviva-backend/pkg/config"
	"github.com/verdeviva/verdeviva-backend/pkg/db"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
	"github.com/verdeviva/verdeviva-backend/pkg/mercadopago"
	"github.com/verdeviva/verdeviva-backend/pkg/metrics"
	"github.com/verdeviva/verdeviva-backend/pkg/migrate"
	"github.com/verdeviva/verdeviva-backend/pkg/redis"
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
	})

	// Platform-assigned port wins over configuration.
	if port := os.Getenv("PORT"); port != "" {
		cfg.App.Port = port
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	mpOpts := []mercadopago.Option{mercadopago.WithTimeout(cfg.MercadoPago.RequestTimeout)}
	if cfg.MercadoPago.BaseURL != "" {
		mpOpts = append(mpOpts, mercadopago.WithBaseURL(cfg.MercadoPago.BaseURL))
	}
	mpClient, err := mercadopago.NewClient(cfg.MercadoPago.AccessToken, mpOpts...)
	if err != nil {
		logg.Error(context.Background(), "failed to create mercadopago client", err)
		os.Exit(1)
	}

	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	userRepo := users.NewRepository(dbClient.DB())
	subRepo := subscriptions.NewRepository(dbClient.DB())
	webhookLogRepo := webhooklog.NewRepository(dbClient.DB())
	notificationRepo := notifications.NewRepository(dbClient.DB())

	notifier, err := notifications.NewService(notifications.ServiceParams{
		Repo:   notificationRepo,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification service", err)
		os.Exit(1)
	}

	subService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subRepo,
		UserRepo:          userRepo,
		TransactionRunner: dbClient,
		Logger:            logg,
		Notifier:          notifier,
		Provider:          mpClient,
		Metrics:           webhookMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	match, err := matcher.NewMatcher(matcher.MatcherParams{
		Lookup: subRepo,
		Logger: logg,
		Window: cfg.Reconciler.MatchWindow,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create matcher", err)
		os.Exit(1)
	}

	reconcilerService, err := reconciler.NewService(reconciler.ServiceParams{
		Lookup:      subRepo,
		Matcher:     match,
		Provider:    mpClient,
		Activator:   subService,
		Logger:      logg,
		MinAge:      cfg.Reconciler.PendingMinAge,
		BatchLimit:  cfg.Reconciler.SweepBatchLimit,
		Concurrency: cfg.Reconciler.SweepConcurrency,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	webhookService, err := mpwebhook.NewService(mpwebhook.ServiceParams{
		Logs:      webhookLogRepo,
		Provider:  mpClient,
		Matcher:   match,
		Activator: subService,
		Backstop:  reconcilerService,
		Metrics:   webhookMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	checker, err := integrity.NewChecker(integrity.CheckerParams{
		Users:         userRepo,
		Subscriptions: subRepo,
		WebhookLogs:   webhookLogRepo,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create integrity checker", err)
		os.Exit(1)
	}

	reportingService, err := reporting.NewService(reporting.ServiceParams{
		Repo:        reporting.NewRepository(dbClient.DB()),
		WebhookLogs: webhookLogRepo,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reporting service", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.RouterParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		Subscriptions: subService,
		Webhook:       webhookService,
		Reconciler:    reconcilerService,
		Integrity:     checker,
		Reporting:     reportingService,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"port": cfg.App.Port,
	})
	logg.Info(ctx, "starting api server")

	server := api.NewServer(cfg, handler, logg)
	if err := server.Run(ctx); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shut down gracefully")
}
