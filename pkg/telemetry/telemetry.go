package telemetry

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesCreated counts accepted sends by initial delivery state.
	MessagesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_messages_created_total",
		Help: "Messages accepted for delivery, by initial status.",
	}, []string{"status"})

	// EventsPublished counts events handed to live connections, by kind.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_events_published_total",
		Help: "Events enqueued to websocket connections, by kind.",
	}, []string{"kind"})

	// EventsDropped counts events that found no live connection.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_events_dropped_total",
		Help: "Events dropped because the recipient had no live connection.",
	}, []string{"kind"})

	// ActiveConnections tracks open websocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_active_connections",
		Help: "Currently open websocket connections.",
	})

	// OnlineUsers tracks distinct users with at least one connection.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_online_users",
		Help: "Distinct users with at least one live connection.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_http_requests_total",
		Help: "HTTP requests served, by method and status code.",
	}, []string{"method", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pairchat_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying writer so websocket upgrades work
// through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Middleware records request counts and latency for every handler it wraps.
// Hijacked connections (websocket upgrades) are counted with the status
// written before the hijack, usually 101.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
