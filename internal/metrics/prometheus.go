package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	assignments   *prometheus.CounterVec
	batchLatency  prometheus.Histogram
	balanceMoves  prometheus.Counter
	transitions   *prometheus.CounterVec
	jobRuns       *prometheus.CounterVec
	jobLatency    *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus registers the engine metrics on reg (prometheus.DefaultRegisterer
// if nil) under namespace ("shift_engine" if empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "shift_engine"
	}

	p := &PrometheusCollector{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "shifts_total",
			Help:      "Shifts processed by batch assignment by outcome.",
		}, []string{"outcome"}),
		batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch assignment calls in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		balanceMoves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "balancer",
			Name:      "moves_total",
			Help:      "Shifts moved between executors by the workload balancer.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "transitions_total",
			Help:      "Transfer status transitions.",
		}, []string{"from", "to"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduler job triggers by result (success, failure, skipped).",
		}, []string{"job", "result"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Scheduler job run duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"job"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Notifications by sink and result.",
		}, []string{"sink", "result"}),
	}

	for _, c := range []prometheus.Collector{
		p.assignments, p.batchLatency, p.balanceMoves, p.transitions,
		p.jobRuns, p.jobLatency, p.notifications,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusCollector) RecordAssignment(outcome string) {
	p.assignments.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) RecordBatchDuration(seconds float64) {
	p.batchLatency.Observe(seconds)
}

func (p *PrometheusCollector) RecordBalanceMoves(n int) {
	p.balanceMoves.Add(float64(n))
}

func (p *PrometheusCollector) RecordTransferTransition(from, to string) {
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusCollector) RecordJobRun(job, result string, seconds float64) {
	p.jobRuns.WithLabelValues(job, result).Inc()
	if result != ResultSkipped {
		p.jobLatency.WithLabelValues(job).Observe(seconds)
	}
}

func (p *PrometheusCollector) RecordNotification(sink, result string) {
	p.notifications.WithLabelValues(sink, result).Inc()
}
