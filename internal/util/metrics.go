package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"payment_method"})

	OrdersPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders marked paid",
	}, []string{"source"})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	}, []string{"source"})

	OrderStatusOverridesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_overrides_total",
		Help: "Total number of admin status overrides",
	}, []string{"to"})

	OrderCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_create_latency_seconds",
		Help:    "Latency of order creation",
		Buckets: prometheus.DefBuckets,
	})

	WebhookNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_notifications_total",
		Help: "Total number of payment notifications by outcome",
	}, []string{"outcome"})

	PaymentAmountMismatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_amount_mismatch_total",
		Help: "Paid notifications whose amount differs from the attempt",
	}, []string{"direction"})

	ReconcileLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_reconcile_latency_seconds",
		Help:    "Latency of payment notification reconciliation",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_events_dropped_total",
		Help: "Order events dropped because a subscriber was slow",
	})

	NotificationSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "order_event_subscribers",
		Help: "Number of active order event subscriptions",
	})

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
