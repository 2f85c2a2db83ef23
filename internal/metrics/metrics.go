// Package metrics provides Prometheus instrumentation for the betting engine.
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
	// WagersTotal counts accepted wagers, partitioned by side.
	WagersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cazino_wagers_total",
		Help: "Total number of wagers placed",
	}, []string{"side"})

	// WagerLatency tracks wager placement latency, lock wait included.
	WagerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cazino_wager_latency_seconds",
		Help:    "Wager placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// CoinsWagered tracks cumulative coins staked, by side.
	CoinsWagered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cazino_coins_wagered_total",
		Help: "Cumulative coins staked on bets",
	}, []string{"side"})

	// BetsCreated counts bets proposed.
	BetsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cazino_bets_created_total",
		Help: "Total number of bets created",
	})

	// BetsResolved counts resolved bets by outcome.
	BetsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cazino_bets_resolved_total",
		Help: "Total number of bets resolved",
	}, []string{"outcome"})

	// PayoutsDistributed tracks coins credited to winners.
	PayoutsDistributed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cazino_payouts_distributed_total",
		Help: "Cumulative coins paid out to winners",
	})

	// RoundingDust tracks coins left undistributed by whole-coin payouts.
	RoundingDust = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cazino_rounding_dust_total",
		Help: "Cumulative coins lost to payout truncation",
	})

	// RuleRejections counts actions rejected by the rule validator.
	RuleRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cazino_rule_rejections_total",
		Help: "Actions rejected by business rules",
	}, []string{"reason"})

	// MarketTransitions counts market lifecycle transitions by target status.
	MarketTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cazino_market_transitions_total",
		Help: "Market status transitions",
	}, []string{"status"})

	// UsersJoined counts new market members (rejoins excluded).
	UsersJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cazino_users_joined_total",
		Help: "Users that joined a market",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cazino_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cazino_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cazino_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics. The path label is the chi route
// pattern, so ids in the URL do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
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

// Hijack passes through to the underlying writer so WebSocket upgrades work
// behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
