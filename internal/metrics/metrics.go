// Package metrics exposes Prometheus instruments for the admission engine:
//
//	riskgate_decisions_total{strategy,action,status}
//	riskgate_regime_level
//	riskgate_regime_degraded
//	riskgate_active_positions{strategy}
//	riskgate_reconcile_changes_total{strategy,kind}
//	riskgate_queue_tasks_total{queue,outcome}
//	riskgate_queue_task_seconds{queue}
//	riskgate_queue_pending{queue}
//	riskgate_exchange_requests_total{endpoint,outcome}
//	riskgate_exchange_request_seconds{endpoint}
//	riskgate_exchange_retries_total{endpoint}
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/riskgate/internal/domain"
)

const namespace = "riskgate"

// Metrics owns a private registry so tests and multiple instances do not
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	regimeLevel     prometheus.Gauge
	regimeDegraded  prometheus.Gauge
	activePositions *prometheus.GaugeVec
	reconcile       *prometheus.CounterVec

	queueTasks   *prometheus.CounterVec
	queueLatency *prometheus.HistogramVec
	queuePending *prometheus.GaugeVec

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	retries        *prometheus.CounterVec
}

// New builds and registers every instrument, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Trade intent decisions by outcome.",
		}, []string{"strategy", "action", "status"}),
		regimeLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regime_level",
			Help:      "Current market regime level (0 normal, 1 caution, 2 danger).",
		}),
		regimeDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regime_degraded",
			Help:      "1 when the last regime snapshot came from a data failure.",
		}),
		activePositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_positions",
			Help:      "Active positions per strategy ledger.",
		}, []string{"strategy"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_changes_total",
			Help:      "Ledger changes made by exchange reconciliation.",
		}, []string{"strategy", "kind"}),
		queueTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_tasks_total",
			Help:      "Settled queue tasks.",
		}, []string{"queue", "outcome"}),
		queueLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_task_seconds",
			Help:      "Queue task run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		queuePending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Tasks waiting behind the active one.",
		}, []string{"queue"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_requests_total",
			Help:      "Exchange REST calls by outcome.",
		}, []string{"endpoint", "outcome"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_request_seconds",
			Help:      "Exchange REST call latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_retries_total",
			Help:      "Exchange calls retried after a transient failure.",
		}, []string{"endpoint"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions, m.regimeLevel, m.regimeDegraded, m.activePositions, m.reconcile,
		m.queueTasks, m.queueLatency, m.queuePending,
		m.requests, m.requestLatency, m.retries,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Decision counts one settled intent.
func (m *Metrics) Decision(d domain.Decision) {
	m.decisions.WithLabelValues(d.Strategy, string(d.Action), string(d.Status)).Inc()
}

// Regime records the latest snapshot.
func (m *Metrics) Regime(snap domain.RegimeSnapshot) {
	m.regimeLevel.Set(float64(snap.Level))
	if snap.Degraded {
		m.regimeDegraded.Set(1)
	} else {
		m.regimeDegraded.Set(0)
	}
}

// ActivePositions records a strategy's open position count.
func (m *Metrics) ActivePositions(strategy string, n int) {
	m.activePositions.WithLabelValues(strategy).Set(float64(n))
}

// Reconciled counts reconciliation changes by kind (closed, corrected,
// untracked).
func (m *Metrics) Reconciled(strategy string, closed, corrected, untracked int) {
	m.reconcile.WithLabelValues(strategy, "closed").Add(float64(closed))
	m.reconcile.WithLabelValues(strategy, "corrected").Add(float64(corrected))
	m.reconcile.WithLabelValues(strategy, "untracked").Add(float64(untracked))
}

// TaskSettled implements queue.Observer.
func (m *Metrics) TaskSettled(queue string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.queueTasks.WithLabelValues(queue, outcome).Inc()
	m.queueLatency.WithLabelValues(queue).Observe(d.Seconds())
}

// QueueDepth implements queue.Observer.
func (m *Metrics) QueueDepth(queue string, pending int) {
	m.queuePending.WithLabelValues(queue).Set(float64(pending))
}

// ObserveRequest implements okx.Observer.
func (m *Metrics) ObserveRequest(endpoint, outcome string, d time.Duration) {
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.requestLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRetry implements okx.Observer.
func (m *Metrics) ObserveRetry(endpoint string) {
	m.retries.WithLabelValues(endpoint).Inc()
}
