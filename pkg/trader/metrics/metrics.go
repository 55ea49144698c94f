// Package metrics provides Prometheus metrics for the trading system.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// Signal metrics
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgetrader_signals_total",
			Help: "Signals produced by the analyzer, by risk tier",
		},
		[]string{"tier"},
	)
	SignalsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgetrader_signals_rejected_total",
			Help: "Signals refused by a gate before order placement",
		},
	)
	SignalEdge = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgetrader_signal_edge_points",
			Help:    "Edge in percentage points at signal creation",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30},
		},
	)

	// Order metrics
	OrdersPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgetrader_orders_placed_total",
			Help: "Orders accepted by the venue (or simulated in dry-run)",
		},
	)
	OrdersFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgetrader_orders_failed_total",
			Help: "Orders rejected or failed at the venue",
		},
	)
	PicksSettled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "edgetrader_picks_settled_total",
			Help: "Picks settled win or loss",
		},
	)

	// Arbitrage metrics
	ArbOpportunities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgetrader_arb_opportunities_total",
			Help: "Cross-venue arbitrage opportunities detected, by risk tier",
		},
		[]string{"tier"},
	)

	// Venue metrics
	VenueRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgetrader_venue_requests_total",
			Help: "Signed venue requests, by venue and outcome",
		},
		[]string{"venue", "outcome"},
	)

	// Webhook metrics
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgetrader_webhook_deliveries_total",
			Help: "Webhook delivery attempts, by result",
		},
		[]string{"result"},
	)

	// Model quality
	TrailingBrier = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgetrader_trailing_brier",
			Help: "Brier score over the calibration gate's trailing window",
		},
	)
)

func init() {
	registry.MustRegister(
		SignalsTotal,
		SignalsRejected,
		SignalEdge,
		OrdersPlaced,
		OrdersFailed,
		PicksSettled,
		ArbOpportunities,
		VenueRequests,
		WebhookDeliveries,
		TrailingBrier,
	)
}

// Registry returns the registry all trading metrics are registered on.
func Registry() *prometheus.Registry { return registry }

// Handler serves the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
