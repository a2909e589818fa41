package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coachly/fitcoach-backend/api/routes"
	"github.com/coachly/fitcoach-backend/internal/coupons"
	"github.com/coachly/fitcoach-backend/internal/ledger"
	"github.com/coachly/fitcoach-backend/internal/notifications"
	"github.com/coachly/fitcoach-backend/internal/orders"
	"github.com/coachly/fitcoach-backend/internal/payments"
	"github.com/coachly/fitcoach-backend/internal/subscriptions"
	paystackwebhook "github.com/coachly/fitcoach-backend/internal/webhooks/paystack"
	"github.com/coachly/fitcoach-backend/pkg/config"
	"github.com/coachly/fitcoach-backend/pkg/db"
	"github.com/coachly/fitcoach-backend/pkg/instance"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/coachly/fitcoach-backend/pkg/metrics"
	"github.com/coachly/fitcoach-backend/pkg/migrate"
	"github.com/coachly/fitcoach-backend/pkg/paystack"
	"github.com/coachly/fitcoach-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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

	dispatcher, err := newDispatcher(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification dispatcher", err)
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

	couponIssuer, err := coupons.NewIssuer(coupons.IssuerParams{
		Repo:   coupons.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create coupon issuer", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:   orders.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	webhookService, err := paystackwebhook.NewService(paystackwebhook.ServiceParams{
		Ledger:            ledger.NewRepository(dbClient.DB()),
		Subscriptions:     subscriptionService,
		Coupons:           couponIssuer,
		Orders:            orderService,
		Notifier:          dispatcher,
		TransactionRunner: dbClient,
		Metrics:           metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	guard, err := paystackwebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, "paystack-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Provider:      paystackClient,
		Subscriptions: subscriptionService,
		Logger:        logg,
		Currency:      cfg.Paystack.Currency,
		CallbackURL:   cfg.Paystack.CallbackURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Dependencies{
			Config:          cfg,
			Logger:          logg,
			DB:              dbClient,
			Redis:           redisClient,
			Payments:        paymentService,
			PaystackWebhook: webhookService,
			WebhookGuard:    guard,
			WebhookSecret:   paystackClient.SigningSecret(),
			Gatherer:        prometheus.DefaultGatherer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}

	// let queued emails and texts finish before the pools close
	dispatcher.Wait()
	logg.Info(ctx, "api server stopped")
}

func newDispatcher(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*notifications.Dispatcher, error) {
	params := notifications.DispatcherParams{
		Repo:   notifications.NewRepository(dbClient.DB()),
		Logger: logg,
	}
	if cfg.SMTP.Enabled() {
		sender, err := notifications.NewSMTPSender(cfg.SMTP)
		if err != nil {
			return nil, err
		}
		params.Email = sender
	} else {
		logg.Warn(context.Background(), "smtp not configured; email notifications disabled")
	}
	if cfg.Twilio.Enabled() {
		sender, err := notifications.NewTwilioSender(cfg.Twilio)
		if err != nil {
			return nil, err
		}
		params.SMS = sender
	} else {
		logg.Warn(context.Background(), "twilio not configured; sms notifications disabled")
	}
	return notifications.NewDispatcher(params)
}
