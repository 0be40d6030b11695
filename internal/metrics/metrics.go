package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketplace"

// Metrics groups the collectors exported by the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Requests    *prometheus.CounterVec
	LatencyMS   *prometheus.HistogramVec
	LedgerOps   *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	Payments    *prometheus.CounterVec
	Orders      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "ledger_operations_total",
			Help:      "Inventory ledger operations by outcome.",
		}, []string{"op", "result"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "status_transitions_total",
			Help:      "Applied order status transitions.",
		}, []string{"from", "to", "role"}),
		Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "events_total",
			Help:      "Payment reconciliation events by kind and outcome.",
		}, []string{"kind", "result"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "builds_total",
			Help:      "Order build attempts by outcome.",
		}, []string{"result"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.LedgerOps, m.Transitions, m.Payments, m.Orders)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Ledger(op, result string) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Transition(from, to, role string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to, role).Inc()
}

func (m *Metrics) Payment(kind, result string) {
	if m == nil {
		return
	}
	m.Payments.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) OrderBuild(result string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(result).Inc()
}

func (m *Metrics) Request(route, status string, ms float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, status).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(ms)
}
