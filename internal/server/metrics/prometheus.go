package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter holds the server's Prometheus metrics on its own registry.
type Exporter struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	writes       *prometheus.CounterVec
}

// NewExporter creates an exporter with a fresh registry.
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Exporter{
		registry: reg,
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordsync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recordsync_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"method", "route"},
		),
		writes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recordsync_writes_total",
				Help: "Record writes by model, action and answered status",
			},
			[]string{"model", "action", "status"},
		),
	}
}

// RecordWrite counts a save or delete answered with status.
func (e *Exporter) RecordWrite(model, action, status string) {
	e.writes.WithLabelValues(model, action, status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Middleware records count and duration of every request, labelled with
// the matched chi route pattern.
func (e *Exporter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		e.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(code)).Inc()
		e.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
