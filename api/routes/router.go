package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coachly/fitcoach-backend/api/controllers"
	paymentcontrollers "github.com/coachly/fitcoach-backend/api/controllers/payments"
	webhookcontrollers "github.com/coachly/fitcoach-backend/api/controllers/webhooks"
	"github.com/coachly/fitcoach-backend/api/middleware"
	"github.com/coachly/fitcoach-backend/internal/payments"
	paystackwebhook "github.com/coachly/fitcoach-backend/internal/webhooks/paystack"
	"github.com/coachly/fitcoach-backend/pkg/config"
	"github.com/coachly/fitcoach-backend/pkg/logger"
)

// Dependencies are the services the HTTP surface is wired to.
type Dependencies struct {
	Config          *config.Config
	Logger          *logger.Logger
	DB              controllers.Pinger
	Redis           controllers.Pinger
	Payments        *payments.Service
	PaystackWebhook webhookcontrollers.PaystackWebhookService
	WebhookGuard    *paystackwebhook.IdempotencyGuard
	WebhookSecret   string
	Gatherer        prometheus.Gatherer
}

func NewRouter(deps Dependencies) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	paystackHook := webhookcontrollers.PaystackWebhook(webhookcontrollers.PaystackWebhookParams{
		Service:      deps.PaystackWebhook,
		Guard:        guardOrNil(deps.WebhookGuard),
		SecretKey:    deps.WebhookSecret,
		MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		Logger:       logg,
	})
	// Paystack dashboards in the wild still point at the legacy path.
	r.Post("/webhook", paystackHook)
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paystack", paystackHook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Post("/payments/initialize", paymentcontrollers.Initialize(deps.Payments, logg))
	})

	return r
}

// guardOrNil keeps a typed nil guard from reaching the handler as a non-nil
// interface.
func guardOrNil(g *paystackwebhook.IdempotencyGuard) webhookcontrollers.PaystackWebhookGuard {
	if g == nil {
		return nil
	}
	return g
}
