package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campustix_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campustix_registrations_total",
			Help: "Registrations created, by outcome",
		},
		[]string{"outcome"},
	)

	InventoryConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campustix_inventory_conflicts_total",
			Help: "Reservation attempts rejected for insufficient inventory",
		},
	)

	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campustix_payment_webhooks_total",
			Help: "Payment provider notifications, by result",
		},
		[]string{"result"},
	)

	CheckInsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campustix_checkins_total",
			Help: "Check-in attempts, by result",
		},
		[]string{"result"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "campustix_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campustix_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	SweepItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campustix_sweep_items_total",
			Help: "Registrations processed by periodic sweeps",
		},
		[]string{"sweep"},
	)
)
