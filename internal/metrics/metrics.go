package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExtractionTotal counts template extraction attempts by outcome ("ok", "skipped", "error")
	ExtractionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irisgauge_extraction_total",
			Help: "Template extraction attempts by outcome",
		},
		[]string{"status"},
	)

	// ExtractorThrottleTotal counts rate limiter decisions for extractor calls ("immediate", "delayed", "rejected")
	ExtractorThrottleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irisgauge_extractor_throttle_total",
			Help: "Extractor invocations by rate limiter outcome",
		},
		[]string{"result"},
	)

	// BreakerTransitionsTotal counts circuit breaker state changes by target state
	BreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irisgauge_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "state"},
	)

	// BufferPoolOperations counts extractor output buffer pool operations ("get", "put", "drop")
	BufferPoolOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irisgauge_buffer_pool_operations_total",
			Help: "Extractor output buffer pool operations",
		},
		[]string{"op"},
	)

	// TemplatesLoaded reports the size of the current enrollment set
	TemplatesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "irisgauge_templates_loaded",
			Help: "Number of enrollment records in the current dataset",
		},
	)

	// PairsComputedTotal counts scored template pairs
	PairsComputedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "irisgauge_pairs_computed_total",
			Help: "Total number of template pairs scored",
		},
	)

	// TaskFailuresTotal counts faulted pool tasks by phase ("pairwise", "sweep")
	TaskFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irisgauge_task_failures_total",
			Help: "Worker pool tasks that faulted, by phase",
		},
		[]string{"phase"},
	)

	// MatrixCacheTotal counts persisted matrix lookups by result ("hit", "miss", "invalid")
	MatrixCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irisgauge_matrix_cache_total",
			Help: "Persisted distance matrix lookups by result",
		},
		[]string{"result"},
	)

	// ThresholdsEvaluatedTotal counts threshold evaluations
	ThresholdsEvaluatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "irisgauge_thresholds_evaluated_total",
			Help: "Total number of thresholds evaluated",
		},
	)

	// UndefinedRatesTotal counts evaluations yielding an undefined FAR or FRR
	UndefinedRatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irisgauge_undefined_rates_total",
			Help: "Evaluations whose FAR or FRR denominator was zero",
		},
		[]string{"rate"},
	)

	// PhaseDurationSeconds measures the duration of pipeline phases
	PhaseDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "irisgauge_phase_duration_seconds",
			Help:    "Duration of pipeline phases",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1200},
		},
		[]string{"phase"},
	)

	// PersistDurationSeconds measures artifact write latency
	PersistDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "irisgauge_persist_duration_seconds",
			Help:    "Time taken to persist an artifact",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"artifact"},
	)

	// PersistBytes tracks the size of written artifacts
	PersistBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "irisgauge_persist_bytes",
			Help: "Size in bytes of the last written artifact",
		},
		[]string{"artifact"},
	)
)
