// Package metrics exposes the store's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	checkoutTotal   *prometheus.CounterVec
}

const (
	CheckoutClaimed   = "claimed"
	CheckoutExhausted = "exhausted"
	CheckoutNotFound  = "not_found"
	CheckoutFailed    = "failed"
)

func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "droidhub",
			Name:        "http_requests_total",
			Help:        "HTTP requests handled, by method and status.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "droidhub",
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),
		checkoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "droidhub",
			Name:        "checkout_total",
			Help:        "Task checkout attempts by outcome.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"outcome"}),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration, m.checkoutTotal)
	return m
}

func (m *Metrics) ObserveCheckout(outcome string) {
	if m == nil {
		return
	}
	m.checkoutTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts and times every request passing through.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.requestsTotal.WithLabelValues(r.Method, strconv.Itoa(sw.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
