package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dhtnode_session_active",
			Help: "1 while a wallet owns a running node session",
		},
	)
	sessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dhtnode_session_transitions_total",
			Help: "Session operations by outcome",
		},
		[]string{"op", "result"},
	)
	peerPingSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dhtnode_peer_ping_seconds",
			Help:    "Round trip time of status pings",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)
)

func observeTransition(op string, err error) {
	result := "ok"
	if err != nil {
		result = Kind(err)
	}
	sessionTransitions.WithLabelValues(op, result).Inc()
}
