package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts processed processor events by outcome.
type WebhookMetrics struct {
	events *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paystack_webhook_events_total",
		Help: "Paystack webhook deliveries by event and outcome.",
	}, []string{"event", "outcome"})
	reg.MustRegister(events)
	return &WebhookMetrics{events: events}
}

// Observe records one delivery. outcome is e.g. processed, duplicate, ignored, failed.
func (w *WebhookMetrics) Observe(event, outcome string) {
	if w == nil || w.events == nil {
		return
	}
	w.events.WithLabelValues(normalizeLabel(event), normalizeLabel(outcome)).Inc()
}
