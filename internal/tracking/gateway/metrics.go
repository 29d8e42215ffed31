package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ridesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_rides_total",
		Help: "Ride lifecycle outcomes grouped by result.",
	}, []string{"result"})

	samplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_location_samples_total",
		Help: "Inbound location samples grouped by result.",
	}, []string{"result"})
)
