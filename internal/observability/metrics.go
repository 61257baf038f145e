package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// Metrics mengumpulkan metrik Prometheus untuk ledger, job, dan endpoint ops.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	postingsTotal   *prometheus.CounterVec
	postingDuration *prometheus.HistogramVec
	postingLines    prometheus.Histogram
	periodsTotal    *prometheus.CounterVec
	periodDuration  *prometheus.HistogramVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry beserta seluruh metrik.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	// metrik runtime Go dan proses worker
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_postings_total",
		Help: "Jumlah posting per operasi dan hasil (accepted atau kode error).",
	}, []string{"operation", "outcome"})
	postingDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_posting_duration_seconds",
		Help:    "Durasi transaksi posting per operasi.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	lines := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_posting_lines",
		Help:    "Jumlah baris jurnal per posting yang diterima.",
		Buckets: []float64{2, 3, 4, 6, 10, 20, 50},
	})
	periods := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_period_operations_total",
		Help: "Jumlah close/reopen periode per hasil.",
	}, []string{"operation", "outcome"})
	periodDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_period_operation_duration_seconds",
		Help:    "Durasi close/reopen periode termasuk retry.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	registry.MustRegister(requests, duration, postings, postingDuration, lines, periods, periodDuration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		postingsTotal:   postings,
		postingDuration: postingDuration,
		postingLines:    lines,
		periodsTotal:    periods,
		periodDuration:  periodDuration,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObservePosting mencatat hasil post, reverse, atau void.
func (m *Metrics) ObservePosting(operation, outcome string, lines int, took time.Duration) {
	if m == nil {
		return
	}
	m.postingsTotal.WithLabelValues(operation, outcome).Inc()
	m.postingDuration.WithLabelValues(operation).Observe(took.Seconds())
	if outcome == "accepted" && lines > 0 {
		m.postingLines.Observe(float64(lines))
	}
}

// ObservePeriod mencatat hasil close atau reopen periode.
func (m *Metrics) ObservePeriod(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.periodsTotal.WithLabelValues(operation, outcome).Inc()
	m.periodDuration.WithLabelValues(operation).Observe(took.Seconds())
}

// Jobs mengembalikan metrik job yang terdaftar pada registry yang sama.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
