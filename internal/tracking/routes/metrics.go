package routes

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	channelsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracking_route_channels",
		Help: "Number of route channels currently held in the table.",
	})

	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracking_subscribers",
		Help: "Number of subscriber entries across all route channels.",
	})

	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_broadcasts_total",
		Help: "Outbound events enqueued to subscribers, grouped by event.",
	}, []string{"event"})

	graceExpirationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_grace_expirations_total",
		Help: "Rides implicitly ended because the publisher never returned.",
	})
)
