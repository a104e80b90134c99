package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order placements",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	PlaceOrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "place_order_latency_seconds",
		Help:    "Latency of order placement",
		Buckets: prometheus.DefBuckets,
	})

	PaymentIntentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_intents_total",
		Help: "Total number of payment intents issued",
	})

	PaymentSucceededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_succeeded_total",
		Help: "Total number of successful payment callbacks applied",
	})

	PaymentFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payment callbacks applied",
	})

	PaymentCallbacksUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_callbacks_unmatched_total",
		Help: "Payment callbacks referencing no known order",
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
