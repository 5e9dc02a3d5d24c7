// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementRunsTotal counts settlement runs by outcome.
	SettlementRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_runs_total",
		Help: "Total number of settlement runs computed",
	}, []string{"outcome"})

	// SettlementRunLatency tracks facade latency per operation.
	SettlementRunLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_run_latency_seconds",
		Help:    "Settlement computation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// TradesPriced counts trades fed through the facade.
	TradesPriced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_trades_priced_total",
		Help: "Trades priced across all settlement runs",
	})

	// CashFlowsEmitted counts settlement cash flows emitted, by type.
	CashFlowsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_cash_flows_emitted_total",
		Help: "Settlement cash flows emitted after netting",
	}, []string{"type"})

	// NettingCancellations counts opposite flows that netted to within epsilon.
	NettingCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_netting_cancellations_total",
		Help: "Opposite-direction flows cancelled by netting",
	})

	// CompressionIterations observes explain compression merges per run.
	CompressionIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_explain_compression_iterations",
		Help:    "Explain compression merges performed per settlement run",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 500, 1000},
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
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

		// Route pattern keeps run IDs out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
