// Package metrics provides Prometheus instrumentation for the wager engine.
package metrics

import (
	"bufio"
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
	// OperationsTotal counts engine mutations by operation and result kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_operations_total",
		Help: "Total engine operations, by result",
	}, []string{"op", "result"})

	// OperationLatency tracks how long a serialized mutation takes,
	// including time spent waiting for the lock.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// OpenProjects tracks the number of unresolved projects.
	OpenProjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_open_projects",
		Help: "Number of projects accepting stakes",
	})

	TicketsMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_tickets_minted_total",
		Help: "Tickets minted by stake purchases",
	})

	ListingsFilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_listings_filled_total",
		Help: "Secondary-market listings filled",
	})

	// PayoutsTotal is approximate; the ledger holds the exact amounts.
	PayoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_payouts_total",
		Help: "Cumulative amount paid out to winning tickets",
	})

	// EventsArchived counts journal events written to object storage.
	EventsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_events_archived_total",
		Help: "Journal events uploaded by the archiver",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label by route pattern to keep token ids out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
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

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes through so WebSocket upgrades work behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
