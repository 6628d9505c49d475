package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IntentsClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intents_classified_total",
		Help: "Total number of classified intents by kind",
	}, []string{"kind"})

	ClassifierFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classifier_fallback_total",
		Help: "Total number of unparseable classifier responses downgraded to OTHER",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created at the commerce backend",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders marked paid",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

	PaymentsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Total number of payment intents created",
	}, []string{"provider"})

	PaymentsCapturedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_captured_total",
		Help: "Total number of captured payments",
	}, []string{"provider"})

	PaymentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Total number of failed payment operations",
	}, []string{"provider", "reason"})

	CaptureShortCircuitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_short_circuit_total",
		Help: "Total number of capture calls answered from the recorded result",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of received provider webhook events",
	}, []string{"provider", "kind"})

	WebhookDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_duplicates_total",
		Help: "Total number of duplicate webhook deliveries skipped",
	})

	CatalogRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_request_latency_seconds",
		Help:    "Latency of catalog backend calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation"})

	PaymentRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_request_latency_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
