package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_runs_total",
			Help: "Total number of orchestrated runs",
		},
		[]string{"task_kind", "provider", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refineflow_run_duration_seconds",
			Help:    "End-to-end run latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task_kind", "provider"},
	)

	BudgetTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refineflow_budget_tokens",
			Help:    "Output token budget granted per run",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144},
		},
		[]string{"task_kind"},
	)

	EstimatedInputTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refineflow_estimated_input_tokens",
			Help:    "Estimated prompt size in tokens per run",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 200000},
		},
		[]string{"task_kind"},
	)

	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_tokens_used_total",
			Help: "Tokens reported by providers",
		},
		[]string{"provider", "model"},
	)

	CostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_cost_usd_total",
			Help: "Estimated spend in USD",
		},
		[]string{"provider", "model"},
	)

	UnknownModels = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_unknown_models_total",
			Help: "Lookups that fell back to the conservative model profile",
		},
		[]string{"model"},
	)

	BudgetExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_budget_exceeded_total",
			Help: "Runs rejected because prompt plus budget exceeded the context window",
		},
		[]string{"task_kind"},
	)

	// Response handling
	ResponseRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_response_repairs_total",
			Help: "Structured responses that needed a repair pass",
		},
		[]string{"task_kind", "result"},
	)

	ParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_parse_failures_total",
			Help: "Responses rejected by validation",
		},
		[]string{"task_kind", "reason"},
	)

	FallbacksUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_fallbacks_used_total",
			Help: "Text runs answered by a fallback strategy",
		},
		[]string{"task_kind", "strategy"},
	)

	// State metrics
	MergeAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_merge_added_total",
			Help: "Entries appended to activity state by merges",
		},
		[]string{"field"},
	)

	MergeDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refineflow_merge_duplicates_total",
			Help: "Delta entries dropped as duplicates",
		},
	)

	QuestionsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refineflow_questions_resolved_total",
			Help: "Open questions resolved by merged answers",
		},
	)

	StateStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_state_store_ops_total",
			Help: "State store operations by backend and result",
		},
		[]string{"backend", "op", "result"},
	)

	LeaseWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refineflow_lease_wait_seconds",
			Help:    "Time spent acquiring an activity lease",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"backend"},
	)

	// Template metrics
	TemplatesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_templates_loaded_total",
			Help: "Prompt templates loaded by task kind",
		},
		[]string{"task_kind"},
	)

	TemplateValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_template_validation_errors_total",
			Help: "Template validation issues by code",
		},
		[]string{"code"},
	)

	TemplateReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_template_reloads_total",
			Help: "Template directory reloads by result",
		},
		[]string{"result"},
	)

	// Pricing
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_pricing_fallback_total",
			Help: "Number of times pricing fell back to defaults",
		},
		[]string{"reason"},
	)

	// Execution records
	RecordWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refineflow_record_write_errors_total",
			Help: "Execution records that failed to persist",
		},
		[]string{"reason"},
	)

	RecordQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "refineflow_record_queue_depth",
			Help: "Execution records waiting to be written",
		},
	)
)

// RecordRunMetrics records metrics for a finished run
func RecordRunMetrics(taskKind, provider, model, status string, durationSeconds float64, tokensUsed int, costUSD float64) {
	RunsTotal.WithLabelValues(taskKind, provider, status).Inc()
	RunDuration.WithLabelValues(taskKind, provider).Observe(durationSeconds)

	if tokensUsed > 0 {
		TokensUsed.WithLabelValues(provider, model).Add(float64(tokensUsed))
	}
	if costUSD > 0 {
		CostUSD.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordBudget records the granted budget and prompt estimate of a run
func RecordBudget(taskKind string, budget, estimatedInput int) {
	BudgetTokens.WithLabelValues(taskKind).Observe(float64(budget))
	if estimatedInput > 0 {
		EstimatedInputTokens.WithLabelValues(taskKind).Observe(float64(estimatedInput))
	}
}
