package mempool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusMempoolTransactions prometheus.Gauge
	prometheusMempoolBytes        prometheus.Gauge
	prometheusMempoolRejections   *prometheus.CounterVec
	prometheusMempoolEvictions    prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusMempoolTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dpcnode",
			Subsystem: "mempool",
			Name:      "transactions",
			Help:      "Number of transactions in the mempool",
		},
	)

	prometheusMempoolBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dpcnode",
			Subsystem: "mempool",
			Name:      "bytes",
			Help:      "Encoded size of the transactions in the mempool",
		},
	)

	prometheusMempoolRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dpcnode",
			Subsystem: "mempool",
			Name:      "rejections_total",
			Help:      "Number of transactions refused by the mempool, by error kind",
		},
		[]string{"kind"},
	)

	prometheusMempoolEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dpcnode",
			Subsystem: "mempool",
			Name:      "evictions_total",
			Help:      "Number of transactions evicted to make room for higher fees",
		},
	)
}
