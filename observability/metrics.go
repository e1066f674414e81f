package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TradeMetrics records trade-lifecycle activity.
type TradeMetrics struct {
	transitions  *prometheus.CounterVec
	disputes     *prometheus.CounterVec
	distributed  *prometheus.CounterVec
	burnFallback prometheus.Counter
}

// RPCMetrics records JSON-RPC handler activity.
type RPCMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	tradeMetricsOnce sync.Once
	tradeRegistry    *TradeMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *RPCMetrics
)

// Trade returns the lazily-initialised trade metrics registry.
func Trade() *TradeMetrics {
	tradeMetricsOnce.Do(func() {
		tradeRegistry = &TradeMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peertrade",
				Subsystem: "trade",
				Name:      "transitions_total",
				Help:      "Total trade state transitions segmented by resulting state.",
			}, []string{"to"}),
			disputes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peertrade",
				Subsystem: "trade",
				Name:      "disputes_total",
				Help:      "Dispute lifecycle events segmented by phase.",
			}, []string{"phase"}),
			distributed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peertrade",
				Subsystem: "fees",
				Name:      "distributions_total",
				Help:      "Fee distributions segmented by token.",
			}, []string{"token"}),
			burnFallback: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "peertrade",
				Subsystem: "fees",
				Name:      "burn_fallbacks_total",
				Help:      "Burn shares redirected to the treasury instead of being burned.",
			}),
		}
		prometheus.MustRegister(
			tradeRegistry.transitions,
			tradeRegistry.disputes,
			tradeRegistry.distributed,
			tradeRegistry.burnFallback,
		)
	})
	return tradeRegistry
}

// ObserveTransition records a completed trade state transition.
func (m *TradeMetrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

// ObserveDispute records a dispute lifecycle event.
func (m *TradeMetrics) ObserveDispute(phase string) {
	if m == nil {
		return
	}
	m.disputes.WithLabelValues(phase).Inc()
}

// ObserveDistribution records a fee distribution for the given token.
func (m *TradeMetrics) ObserveDistribution(token string) {
	if m == nil {
		return
	}
	m.distributed.WithLabelValues(token).Inc()
}

// ObserveBurnFallback records a burn share that fell back to the treasury.
func (m *TradeMetrics) ObserveBurnFallback() {
	if m == nil {
		return
	}
	m.burnFallback.Inc()
}

// RPC returns the lazily-initialised RPC metrics registry.
func RPC() *RPCMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peertrade",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peertrade",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "peertrade",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC request.
func (m *RPCMetrics) Observe(method string, errCode int, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if errCode != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, strconv.Itoa(errCode)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}
