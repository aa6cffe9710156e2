// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Stream metrics
	TransactionsProcessed prometheus.Counter
	BurnsDetected         *prometheus.CounterVec
	PoolUpdatesDetected   prometheus.Counter
	StreamAnomalies       prometheus.Counter

	// Enrichment metrics
	EnrichmentOutcomes *prometheus.CounterVec
	TokensTracked      prometheus.Gauge

	// Catch-up metrics
	CatchupRuns             prometheus.Counter
	CatchupLedgersProcessed prometheus.Counter
	CatchupLedgersSkipped   prometheus.Counter

	// Node pool metrics
	ConnectedNodes   prometheus.Gauge
	NodeReconnects   prometheus.Counter
	ResyncsTriggered prometheus.Counter
	QueryRetries     prometheus.Counter

	// Write retry-queue metrics
	WatermarkQueueSize     prometheus.Gauge
	WatermarkWritesDropped prometheus.Counter
	SampleQueueSize        prometheus.Gauge
	SampleWritesDropped    prometheus.Counter

	// Broadcast metrics
	BroadcastClients prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "xrpl_token_watch"
	}

	return &Metrics{
		TransactionsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "transactions_processed_total",
			Help:      "Total number of live-stream transactions classified",
		}),
		BurnsDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "burns_detected_total",
			Help:      "Total number of candidate burns detected by confidence",
		}, []string{"confidence"}),
		PoolUpdatesDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "pool_updates_detected_total",
			Help:      "Total number of pool-update transactions matched to tracked tokens",
		}),
		StreamAnomalies: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "anomalies_total",
			Help:      "Total number of per-transaction parse/processing anomalies",
		}),

		EnrichmentOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "outcomes_total",
			Help:      "Total number of enrichment workflows by outcome",
		}, []string{"outcome"}),
		TokensTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "tokens_tracked",
			Help:      "Number of tokens currently in the catalog",
		}),

		CatchupRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catchup",
			Name:      "runs_total",
			Help:      "Total number of catch-up reconciliations",
		}),
		CatchupLedgersProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catchup",
			Name:      "ledgers_processed_total",
			Help:      "Total number of ledgers replayed by catch-up",
		}),
		CatchupLedgersSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catchup",
			Name:      "ledgers_skipped_total",
			Help:      "Total number of ledgers skipped due to fetch failures",
		}),

		ConnectedNodes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nodepool",
			Name:      "connected_nodes",
			Help:      "Number of live node connections",
		}),
		NodeReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nodepool",
			Name:      "reconnects_total",
			Help:      "Total number of successful node reconnects",
		}),
		ResyncsTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nodepool",
			Name:      "resyncs_triggered_total",
			Help:      "Total number of catch-up resync signals after reconnect",
		}),
		QueryRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nodepool",
			Name:      "query_retries_total",
			Help:      "Total number of retried node queries",
		}),

		WatermarkQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watermark",
			Name:      "retry_queue_size",
			Help:      "Number of watermark writes waiting for retry",
		}),
		WatermarkWritesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watermark",
			Name:      "writes_dropped_total",
			Help:      "Total number of watermark writes dropped on queue overflow",
		}),
		SampleQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "perf",
			Name:      "pending_queue_size",
			Help:      "Number of metric samples waiting for retry",
		}),
		SampleWritesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "perf",
			Name:      "samples_dropped_total",
			Help:      "Total number of metric samples dropped on queue overflow",
		}),

		BroadcastClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "clients",
			Help:      "Number of connected dashboard WebSocket clients",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
