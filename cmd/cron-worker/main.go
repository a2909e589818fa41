package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coachly/fitcoach-backend/internal/cron"
	"github.com/coachly/fitcoach-backend/internal/subscriptions"
	"github.com/coachly/fitcoach-backend/pkg/config"
	"github.com/coachly/fitcoach-backend/pkg/db"
	"github.com/coachly/fitcoach-backend/pkg/instance"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/coachly/fitcoach-backend/pkg/metrics"
	"github.com/coachly/fitcoach-backend/pkg/migrate"
	"github.com/coachly/fitcoach-backend/pkg/paystack"
	"github.com/coachly/fitcoach-backend/pkg/redis"
)

func main() {
	runOnce := flag.String("run", "", "run the named job once and exit (subscription-sync, subscription-expiry)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	paystackClient, err := paystack.NewClient(cfg.Paystack, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create paystack client", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:     subscriptions.NewRepository(dbClient.DB()),
		Provider: paystackClient,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg.Cron, logg, subscriptionService)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	locker, err := cron.NewRedisLocker(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locker:   locker,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
	})

	if *runOnce != "" {
		if err := service.RunOnce(ctx, *runOnce); err != nil {
			logg.Error(ctx, "job run failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg config.CronConfig, logg *logger.Logger, subs *subscriptions.Service) (*cron.Registry, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	syncAt, err := cron.ParseDaily(cfg.SyncTime, loc)
	if err != nil {
		return nil, err
	}
	expireAt, err := cron.ParseDaily(cfg.ExpiryTime, loc)
	if err != nil {
		return nil, err
	}

	syncJob, err := cron.NewSubscriptionSyncJob(cron.SubscriptionSyncJobParams{
		Logger:        logg,
		Subscriptions: subs,
		BatchLimit:    cfg.SyncBatchLimit,
	})
	if err != nil {
		return nil, err
	}
	expiryJob, err := cron.NewSubscriptionExpiryJob(cron.SubscriptionExpiryJobParams{
		Logger:        logg,
		Subscriptions: subs,
		GracePeriod:   cfg.GracePeriod,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	registry.Register(syncJob, syncAt)
	registry.Register(expiryJob, expireAt)
	return registry, nil
}
