package metrics

import "github.com/prometheus/client_golang/prometheus"

// Vector store, ingestion, retrieval and telemetry metrics.
var (
	VectorStoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_store_operations_total",
			Help:      "Vector store operations by kind and outcome",
		},
		[]string{"op", "status"},
	)

	VectorStoreOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vector_store_operation_duration_seconds",
			Help:      "Vector store operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"op"},
	)

	IndexInitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_index_init_total",
			Help:      "Index initialization attempts by outcome",
		},
		[]string{"status"},
	)

	IngestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Document ingestions by outcome and failing stage",
		},
		[]string{"status", "stage"},
	)

	IngestedChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_chunks_total",
			Help:      "Chunks written to the vector store",
		},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "End-to-end document ingestion duration",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexing_state_transitions_total",
			Help:      "Indexing state machine transitions",
		},
		[]string{"from", "to"},
	)

	RetrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrieval calls by outcome (hit, empty, error)",
		},
		[]string{"status"},
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Passages returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	TelemetrySubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "telemetry_subscribers",
			Help:      "Active telemetry stream subscribers",
		},
	)

	TelemetrySessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "telemetry_sessions",
			Help:      "Telemetry sessions held in memory",
		},
	)

	TelemetryDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_dropped_total",
			Help:      "Events dropped because a subscriber buffer was full",
		},
	)
)

func pipelineCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		VectorStoreOpsTotal,
		VectorStoreOpDuration,
		IndexInitTotal,
		IngestionsTotal,
		IngestedChunksTotal,
		IngestionDuration,
		StateTransitionsTotal,
		RetrievalsTotal,
		RetrievalResults,
		TelemetrySubscribers,
		TelemetrySessions,
		TelemetryDroppedTotal,
	}
}
