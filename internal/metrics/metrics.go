// Package metrics holds the process's Prometheus metrics, grounded on
// the teacher's metrics.go: same NewCounterVec/NewGauge/NewHistogramVec
// shapes and Register entry point, trimmed from HLS-segment-cache
// metrics to the queue/worker surface this core actually exercises.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "engine",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	QueuePendingDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "queue_pending_downloads",
		Help:      "Number of downloads waiting for a free worker slot.",
	})

	QueueActiveWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "queue_active_workers",
		Help:      "Number of worker-pool slots currently running a download.",
	})

	PeerClientRebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "peer_client_rebuilds_total",
		Help:      "Total number of peer client rebuilds after a fatal error.",
	})

	DownloadOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "download_outcomes_total",
		Help:      "Total downloads reaching a terminal status, by status.",
	}, []string{"status"})

	TranscodeInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "engine",
		Name:      "transcode_invocations_total",
		Help:      "Total streaming transcode invocations, by outcome.",
	}, []string{"outcome"})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all live sessions.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QueuePendingDownloads,
		QueueActiveWorkers,
		PeerClientRebuildsTotal,
		DownloadOutcomesTotal,
		TranscodeInvocationsTotal,
		PeersConnected,
	)
}
