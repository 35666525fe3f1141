package miner

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusBlocksMined   prometheus.Counter
	prometheusStaleAttempts prometheus.Counter
	prometheusNonceRollover prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlocksMined = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dpcnode",
			Name:      "blocks_mined_total",
			Help:      "Number of blocks mined locally and committed",
		},
	)

	prometheusStaleAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dpcnode",
			Subsystem: "miner",
			Name:      "stale_attempts_total",
			Help:      "Number of candidates abandoned because the tip changed",
		},
	)

	prometheusNonceRollover = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dpcnode",
			Subsystem: "miner",
			Name:      "nonce_exhausted_total",
			Help:      "Number of times the nonce space was exhausted for a timestamp",
		},
	)
}
