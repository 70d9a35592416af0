package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SessionsCreatedTotal counts checkout session creations.
	SessionsCreatedTotal prometheus.Counter
	// SessionCompletionsTotal counts completion attempts by outcome.
	SessionCompletionsTotal *prometheus.CounterVec
	// GaslessBuildTotal counts gasless build outcomes.
	GaslessBuildTotal *prometheus.CounterVec
	// ConfirmationLatency records time from submission to ledger confirmation in milliseconds.
	ConfirmationLatency prometheus.Histogram
	// WebhookDeliveriesTotal tracks webhook dispatch outcomes.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// WebhookAttemptLatency records delivery attempt latency in milliseconds.
	WebhookAttemptLatency *prometheus.HistogramVec
	// WebhookDispatchAttempts counts dispatcher attempts regardless of outcome.
	WebhookDispatchAttempts prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_created_total",
			Help:      "Count of checkout sessions created.",
		})
		SessionCompletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_completions_total",
			Help:      "Count of session completion attempts by result.",
		}, []string{"result"})
		GaslessBuildTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gasless_build_total",
			Help:      "Count of gasless transaction build outcomes.",
		}, []string{"outcome"})
		ConfirmationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirmation_duration_ms",
			Help:      "Time from submission to ledger confirmation in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 90000},
		})
		WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Count of webhook delivery outcomes.",
		}, []string{"result"})
		WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_attempt_duration_ms",
			Help:      "Latency for webhook delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})
		WebhookDispatchAttempts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_dispatch_attempts_total",
			Help:      "Total number of webhook dispatch attempts.",
		})

		reg.MustRegister(
			SessionsCreatedTotal,
			SessionCompletionsTotal,
			GaslessBuildTotal,
			ConfirmationLatency,
			WebhookDeliveriesTotal,
			WebhookAttemptLatency,
			WebhookDispatchAttempts,
		)
	})
}
