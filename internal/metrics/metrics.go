package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelrelay_webhooks_received_total",
		Help: "Total number of inbound webhook requests, labelled by event type.",
	}, []string{"event_type"})

	WebhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelrelay_webhooks_rejected_total",
		Help: "Total number of webhooks rejected before delivery, labelled by reason.",
	}, []string{"reason"})

	EventsIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pixelrelay_events_ignored_total",
		Help: "Total number of webhooks carrying event types the relay does not handle.",
	})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pixelrelay_deliveries_total",
		Help: "Total number of pixel delivery attempts, labelled by status.",
	}, []string{"status"})

	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pixelrelay_delivery_duration_ms",
		Help:    "End-to-end webhook-to-pixel delivery latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)
