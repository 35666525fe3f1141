package node

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusTipHeight        prometheus.Gauge
	prometheusBlocksCommitted  prometheus.Counter
	prometheusBlocksRejected   prometheus.Counter
	prometheusReorganizations  prometheus.Counter
	prometheusConnectedPeers   prometheus.Gauge
	prometheusRPCRequests      *prometheus.CounterVec
	prometheusBannedPeersTotal prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusTipHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dpcnode",
			Name:      "tip_height",
			Help:      "Height of the main chain",
		},
	)

	prometheusBlocksCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dpcnode",
			Name:      "blocks_committed_total",
			Help:      "Number of blocks appended to the main chain",
		},
	)

	prometheusBlocksRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dpcnode",
			Name:      "blocks_rejected_total",
			Help:      "Number of blocks that failed validation",
		},
	)

	prometheusReorganizations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dpcnode",
			Name:      "reorganizations_total",
			Help:      "Number of main chain reorganizations",
		},
	)

	prometheusConnectedPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dpcnode",
			Name:      "connected_peers",
			Help:      "Number of connected peers",
		},
	)

	prometheusRPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dpcnode",
			Name:      "rpc_requests_total",
			Help:      "Number of RPC requests received, by command",
		},
		[]string{"command"},
	)

	prometheusBannedPeersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dpcnode",
			Name:      "banned_peers_total",
			Help:      "Number of peers banned for misbehavior",
		},
	)
}
