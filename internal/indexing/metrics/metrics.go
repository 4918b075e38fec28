package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks ingestion runs by outcome (completed, idle, failed, busy)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_runs_total",
			Help: "Total number of ingestion runs by status",
		},
		[]string{"status"},
	)

	// RunDuration tracks how long a run holds the run lock
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketindexer_run_duration_seconds",
			Help:    "Ingestion run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RowsCommitted tracks newly inserted rows by kind
	RowsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_rows_committed_total",
			Help: "Total number of rows inserted by the pipeline",
		},
		[]string{"kind"},
	)

	// LogsSkipped tracks logs that matched a known topic but failed to decode
	LogsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_logs_skipped_total",
			Help: "Total number of undecodable logs",
		},
		[]string{"event"},
	)

	// RPCCallsTotal tracks RPC calls per provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketindexer_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// ChainHead tracks the latest block reported by the chain
	ChainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketindexer_chain_head_block",
			Help: "Latest block height reported by the chain",
		},
	)

	// Checkpoint tracks the last committed block
	Checkpoint = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketindexer_checkpoint_block",
			Help: "Last block committed by the pipeline",
		},
	)

	// APIRequests tracks query API requests by route and status code
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "code"},
	)

	// APICacheHits tracks response cache lookups
	APICacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketindexer_api_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	// DBConnectionPoolUsage tracks percentage of open connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketindexer_db_connection_pool_usage_percent",
			Help: "Percentage of DB connections open",
		},
	)

	// DBBatchSize tracks rows per batch insert
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketindexer_db_batch_size",
			Help:    "Rows per batch insert",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"operation"},
	)
)
