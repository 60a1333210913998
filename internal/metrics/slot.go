package metrics

import "github.com/prometheus/client_golang/prometheus"

// SlotMetrics tracks the single-slot supervisor's load/unload/generate
// activity: a gauge for the active slot plus latency histograms and
// counters keyed by model.
//
// Metrics:
//   - llamagate_model_loads_total
//   - llamagate_model_load_duration_seconds
//   - llamagate_model_unloads_total
//   - llamagate_active_model
//   - llamagate_generate_duration_seconds
//   - llamagate_tokens_generated_total
//   - llamagate_reaper_evictions_total
type SlotMetrics struct {
	loads            *prometheus.CounterVec
	loadDuration     *prometheus.HistogramVec
	unloads          *prometheus.CounterVec
	active           *prometheus.GaugeVec
	generateDuration *prometheus.HistogramVec
	tokensGenerated  *prometheus.CounterVec
	reaperEvictions  *prometheus.CounterVec
}

func newSlotMetrics(namespace string, registry *prometheus.Registry) *SlotMetrics {
	sm := &SlotMetrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_loads_total",
			Help:      "Total number of successful model loads, by model.",
		}, []string{"model"}),

		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_duration_seconds",
			Help:      "Time spent loading a model into the worker process.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),

		unloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_unloads_total",
			Help:      "Total number of model unloads, by model and reason.",
		}, []string{"model", "reason"}),

		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_model",
			Help:      "1 for the currently active model, absent when the slot is empty.",
		}, []string{"model"}),

		generateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generate_duration_seconds",
			Help:      "Time spent servicing a generate or generate_stream call.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"model", "kind", "status"}),

		tokensGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_generated_total",
			Help:      "Total number of completion tokens generated, by model.",
		}, []string{"model"}),

		reaperEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_evictions_total",
			Help:      "Total number of models unloaded by the idle reaper, by model.",
		}, []string{"model"}),
	}

	registry.MustRegister(
		sm.loads,
		sm.loadDuration,
		sm.unloads,
		sm.active,
		sm.generateDuration,
		sm.tokensGenerated,
		sm.reaperEvictions,
	)

	return sm
}
