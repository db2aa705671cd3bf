// Package metrics provides Prometheus instrumentation for the forward engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PositionsOpenedTotal counts positions opened, partitioned by direction.
	PositionsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forward_positions_opened_total",
		Help: "Total number of positions opened",
	}, []string{"direction"})

	// PositionsSettledTotal counts positions settled, by direction and outcome.
	PositionsSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forward_positions_settled_total",
		Help: "Total number of positions settled",
	}, []string{"direction", "outcome"})

	// OpenRejectionsTotal counts rejected open attempts by reason.
	OpenRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forward_open_rejections_total",
		Help: "Open attempts rejected, by reason",
	}, []string{"reason"})

	// OpenLatency tracks open execution latency in seconds.
	OpenLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forward_open_latency_seconds",
		Help:    "Position open latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})

	// ActiveMarkets tracks the number of markets accepting positions.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forward_active_markets",
		Help: "Number of markets currently accepting positions",
	})

	// PoolCollateral tracks the pool-side collateral locked per market.
	PoolCollateral = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forward_pool_collateral",
		Help: "Pool collateral locked per market, in collateral units",
	}, []string{"market_id"})

	// NotionalVolume tracks cumulative opened notional per market and side.
	NotionalVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forward_notional_volume_total",
		Help: "Cumulative opened notional in collateral units",
	}, []string{"market_id", "direction"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forward_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forward_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forward_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
