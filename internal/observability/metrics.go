package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PositionsPublished = promauto.NewCounter(prometheus.CounterOpts{Namespace: "nightsafe", Name: "positions_published_total", Help: "Position samples written to shared storage"})
	PositionsDropped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "nightsafe", Name: "positions_dropped_total", Help: "Position samples dropped on storage write failure"})
	AlertsPosted       = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "nightsafe", Name: "alerts_posted_total", Help: "Alerts appended to the community feed"}, []string{"kind"})
	AlertsExpired      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "nightsafe", Name: "alerts_expired_total", Help: "Alerts hard-deleted by the expiry sweep"})
	SOSTriggered       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "nightsafe", Name: "sos_triggered_total", Help: "SOS broadcasts, manual and voice"})
	CabVerifications   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "nightsafe", Name: "cab_verifications_total", Help: "Cab verification outcomes"}, []string{"outcome"})
	ActivePublishers   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "nightsafe", Name: "active_publishers", Help: "Location publishers currently running"})
	WatchersConnected  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "nightsafe", Name: "ws_watchers_connected", Help: "Websocket watchers currently connected"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "nightsafe", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nightsafe",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
