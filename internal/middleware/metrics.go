package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gateway metrics
	gatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_chat_gateway_requests_total",
		Help: "Total number of gateway requests by provider and status",
	}, []string{"provider", "status"})

	gatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "persona_chat_gateway_request_duration_seconds",
		Help:    "Duration of gateway provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "status"})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persona_chat_cache_hits_total",
		Help: "Total number of response cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persona_chat_cache_misses_total",
		Help: "Total number of response cache misses",
	})

	// Rate limit metrics
	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_chat_rate_limit_rejections_total",
		Help: "Total number of rate limit rejections by scope",
	}, []string{"scope"})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_chat_storage_operations_total",
		Help: "Total number of conversation store operations",
	}, []string{"operation", "status"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "persona_chat_storage_operation_duration_seconds",
		Help:    "Duration of conversation store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// OCR metrics
	interpretRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_chat_interpret_requests_total",
		Help: "Total number of OCR interpretation requests by mode",
	}, []string{"mode", "status"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordGatewayRequest records one provider call outcome
func (m *Metrics) RecordGatewayRequest(provider, status string, duration time.Duration) {
	gatewayRequestsTotal.WithLabelValues(provider, status).Inc()
	gatewayRequestDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
}

// RecordCacheHit records a response cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a response cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitRejected records a rejection; scope is "gateway" for
// the per-provider window limiter and "http" for the API middleware
func (m *Metrics) RecordRateLimitRejected(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// RecordStorageOperation records a conversation store operation
func (m *Metrics) RecordStorageOperation(operation, status string, duration time.Duration) {
	storageOperations.WithLabelValues(operation, status).Inc()
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordInterpretRequest records an OCR interpretation request
func (m *Metrics) RecordInterpretRequest(mode, status string) {
	interpretRequests.WithLabelValues(mode, status).Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
