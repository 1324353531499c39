package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the payment-path counters exposed on /metrics.
type Metrics struct {
	WebhookEvents    *prometheus.CounterVec
	CheckoutSessions *prometheus.CounterVec
	RefundsTotal     prometheus.Counter
	RecurringCharges *prometheus.CounterVec
}

// New registers the counters on reg. Tests pass a private registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studiodesk",
			Name:      "webhook_events_total",
			Help:      "Processor webhook events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		CheckoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studiodesk",
			Name:      "checkout_sessions_total",
			Help:      "Hosted checkout sessions created, by flow.",
		}, []string{"flow"}),
		RefundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studiodesk",
			Name:      "refunds_total",
			Help:      "Refunds issued through the API.",
		}),
		RecurringCharges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studiodesk",
			Name:      "recurring_charges_total",
			Help:      "Recurring batch charge attempts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.WebhookEvents, m.CheckoutSessions, m.RefundsTotal, m.RecurringCharges)
	return m
}

func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
