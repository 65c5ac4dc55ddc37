package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abidjan-digital/declaration-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	declarations    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	receiptsIssued  prometheus.Counter
	receiptRenders  *prometheus.HistogramVec
}

// NewMetricsService registers the core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_cache_hits_total",
		Help: "Pending-count lookups answered from cache",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_cache_misses_total",
		Help: "Pending-count lookups answered from the database",
	})

	declarations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "declarations_created_total",
		Help: "Declarations filed, by type",
	}, []string{"type"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "declaration_transitions_total",
		Help: "Declaration lifecycle transitions, by target status",
	}, []string{"status"})

	receiptsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "receipts_issued_total",
		Help: "Receipt references issued",
	})

	receiptRenders := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "receipt_render_duration_seconds",
		Help:    "Receipt PDF rendering duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, declarations, transitions, receiptsIssued, receiptRenders, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		declarations:    declarations,
		transitions:     transitions,
		receiptsIssued:  receiptsIssued,
		receiptRenders:  receiptRenders,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (m *MetricsService) Handler() http.Handler {
	return m.handler
}

// ObserveHTTPRequest records a completed HTTP request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	m.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(labels...).Inc()
}

// RecordCacheLookup tracks a pending-count cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// RecordDeclarationCreated tracks a filed declaration.
func (m *MetricsService) RecordDeclarationCreated(t models.DeclarationType) {
	m.declarations.WithLabelValues(string(t)).Inc()
}

// RecordTransition tracks a lifecycle transition.
func (m *MetricsService) RecordTransition(status models.DeclarationStatus) {
	m.transitions.WithLabelValues(string(status)).Inc()
}

// RecordReceiptIssued tracks receipt issuance.
func (m *MetricsService) RecordReceiptIssued() {
	m.receiptsIssued.Inc()
}

// ObserveReceiptRender tracks a rendering attempt.
func (m *MetricsService) ObserveReceiptRender(duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.receiptRenders.WithLabelValues(outcome).Observe(duration.Seconds())
}
