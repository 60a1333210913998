package metrics

import "github.com/prometheus/client_golang/prometheus"

// HTTPMetrics tracks the OpenAI-compatible HTTP surface: a
// counter-plus-histogram pair keyed by route/method/status, with
// LLM-latency-shaped histogram buckets.
//
// Metrics:
//   - llamagate_http_requests_total
//   - llamagate_http_request_duration_seconds
type HTTPMetrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newHTTPMetrics(namespace string, registry *prometheus.Registry) *HTTPMetrics {
	hm := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests, by route, method, and status.",
		}, []string{"route", "method", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds, by route and method.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"route", "method"}),
	}

	registry.MustRegister(hm.requests, hm.requestDuration)

	return hm
}
