package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/verdeviva/verdeviva-backend/internal/cron"
	"github.com/verdeviva/verdeviva-backend/internal/matcher"
	"github.com/verdeviva/verdeviva-backend/internal/notifications"
	"github.com/verdeviva/verdeviva-backend/internal/reconciler"
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

const lockKeyFormat = "verdeviva:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

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

	activationJob, err := cron.NewPendingActivationJob(cron.PendingActivationJobParams{
		Logger:  logg,
		Sweeper: reconcilerService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pending activation job", err)
		os.Exit(1)
	}

	retryJob, err := cron.NewWebhookRetryJob(cron.WebhookRetryJobParams{
		Logger:   logg,
		Logs:     webhookLogRepo,
		Replayer: webhookService,
		MinAge:   cfg.Reconciler.PendingMinAge,
		Limit:    cfg.Reconciler.SweepBatchLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook retry job", err)
		os.Exit(1)
	}

	cleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notificationRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification cleanup job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(activationJob, retryJob, cleanupJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Reconciler.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
