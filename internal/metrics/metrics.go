// Package metrics exposes Prometheus counters for the order workflow.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersPlaced counts successfully persisted orders.
	OrdersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storefront",
		Subsystem: "orders",
		Name:      "placed_total",
		Help:      "Total orders placed.",
	})

	// OrderTransitions counts lifecycle transitions by name.
	OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order lifecycle transitions.",
		},
		[]string{"transition"}, // paid | delivered | returned | deleted
	)

	// PaymentVerifications counts signature checks by result.
	PaymentVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "payments",
			Name:      "verifications_total",
			Help:      "Payment signature verifications.",
		},
		[]string{"result"}, // valid | invalid
	)

	// GatewayDuration tracks outbound calls to the payment gateway and identity provider.
	GatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound gateway requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"gateway", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersPlaced,
		OrderTransitions,
		PaymentVerifications,
		GatewayDuration,
	)
}

// ObserveGateway records one outbound call that started at start.
func ObserveGateway(gateway, outcome string, start time.Time) {
	GatewayDuration.WithLabelValues(gateway, outcome).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
