package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "graphrun"

// Metrics records execution metrics in Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	executions        *prometheus.CounterVec
	executionDuration prometheus.Histogram
	activeExecutions  prometheus.Gauge
	frontierDepth     prometheus.Gauge
	nodeDuration      *prometheus.HistogramVec
	nodeFailures      *prometheus.CounterVec
	retries           *prometheus.CounterVec
	recoveries        *prometheus.CounterVec
	mergeConflicts    *prometheus.CounterVec
	checkpoints       *prometheus.CounterVec
	checkpointErrors  prometheus.Counter
}

// NewMetrics registers the collectors with reg, or the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executions_total",
			Help:      "Executions finished, by final status",
		}, []string{"status"}),
		executionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of executions",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_executions",
			Help:      "Executions currently running",
		}),
		frontierDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "frontier_depth",
			Help:      "Nodes waiting in the frontier after the last step",
		}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "node_duration_seconds",
			Help:      "Node execution duration including retries",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"node", "status"}),
		nodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "node_failures_total",
			Help:      "Failed node attempts, by error type",
		}, []string{"node", "error_type"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Node retry attempts",
		}, []string{"node"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "recoveries_total",
			Help:      "Node failures handled by skip or fallback",
		}, []string{"node", "action"}),
		mergeConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "merge_conflicts_total",
			Help:      "Keys written by more than one node in the same step",
		}, []string{"key"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoints written, by trigger",
		}, []string{"trigger"}),
		checkpointErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "checkpoint_errors_total",
			Help:      "Checkpoint writes that failed",
		}),
	}
}

func (m *Metrics) executionStarted() {
	if m == nil {
		return
	}
	m.activeExecutions.Inc()
}

func (m *Metrics) executionFinished(status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.activeExecutions.Dec()
	m.executions.WithLabelValues(status.String()).Inc()
	m.executionDuration.Observe(d.Seconds())
}

func (m *Metrics) nodeFinished(node, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(node, status).Observe(d.Seconds())
}

func (m *Metrics) nodeFailed(node string, typ ErrorType) {
	if m == nil {
		return
	}
	m.nodeFailures.WithLabelValues(node, string(typ)).Inc()
}

func (m *Metrics) retried(node string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(node).Inc()
}

func (m *Metrics) recovered(node string, action RecoveryAction) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(node, action.String()).Inc()
}

func (m *Metrics) mergeConflict(key string) {
	if m == nil {
		return
	}
	m.mergeConflicts.WithLabelValues(key).Inc()
}

func (m *Metrics) frontier(depth int) {
	if m == nil {
		return
	}
	m.frontierDepth.Set(float64(depth))
}

func (m *Metrics) checkpointSaved(trigger string) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(trigger).Inc()
}

func (m *Metrics) checkpointFailed() {
	if m == nil {
		return
	}
	m.checkpointErrors.Inc()
}
