// Package metrics wires Prometheus instrumentation for the supervisor,
// proxy, reaper, and HTTP surface: one Collector orchestrating two
// per-concern metric structs — SlotMetrics (supervisor/proxy/reaper) and
// HTTPMetrics (the OpenAI surface) — all registered against a private
// prometheus.Registry rather than the global default one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains configuration for NewCollector.
type Config struct {
	// Namespace is the metric name prefix (e.g., "llamagate").
	Namespace string

	// Enabled controls whether recording methods do anything. When false,
	// every Record* method is a no-op. Registration still happens either
	// way; the setting is fixed for the Collector's lifetime.
	Enabled bool
}

// Collector is the process-wide metrics orchestrator.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	slot *SlotMetrics
	http *HTTPMetrics
}

// NewCollector creates a Collector registered against a fresh private
// registry.
func NewCollector(cfg Config) *Collector {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "llamagate"
	}

	registry := prometheus.NewRegistry()

	return &Collector{
		enabled:  cfg.Enabled,
		registry: registry,
		slot:     newSlotMetrics(namespace, registry),
		http:     newHTTPMetrics(namespace, registry),
	}
}

// RecordLoad records a successful model load and how long it took.
func (c *Collector) RecordLoad(model string, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.slot.loads.WithLabelValues(model).Inc()
	c.slot.loadDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordUnload records a model unload, tagged with why it happened
// ("replaced", "explicit", "idle", "reload", "crashed", "shutdown").
func (c *Collector) RecordUnload(model, reason string) {
	if !c.enabled {
		return
	}
	c.slot.unloads.WithLabelValues(model, reason).Inc()
}

// SetActiveModel updates the active-slot gauge. An empty name clears it.
func (c *Collector) SetActiveModel(model string) {
	if !c.enabled {
		return
	}
	if model == "" {
		c.slot.active.Reset()
		return
	}
	c.slot.active.Reset()
	c.slot.active.WithLabelValues(model).Set(1)
}

// RecordGenerate records a completed GENERATE or GENERATE_STREAM call.
func (c *Collector) RecordGenerate(model, kind, status string, duration time.Duration, tokens int) {
	if !c.enabled {
		return
	}
	c.slot.generateDuration.WithLabelValues(model, kind, status).Observe(duration.Seconds())
	c.slot.tokensGenerated.WithLabelValues(model).Add(float64(tokens))
}

// RecordReaperEviction records the idle reaper unloading a model.
func (c *Collector) RecordReaperEviction(model string) {
	if !c.enabled {
		return
	}
	c.slot.reaperEvictions.WithLabelValues(model).Inc()
}

// RecordHTTPRequest records a completed HTTP request.
func (c *Collector) RecordHTTPRequest(route, method, status string, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.http.requests.WithLabelValues(route, method, status).Inc()
	c.http.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Registry returns the private Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the HTTP handler to mount at the configured metrics path.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
