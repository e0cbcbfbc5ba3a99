package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "focusguard"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	updateDuration    *prom.HistogramVec
	updates           *prom.CounterVec
	queueDepth        prom.Gauge
	hydrationDuration *prom.HistogramVec
	reconciles        *prom.CounterVec
	broadcasts        *prom.CounterVec
	requests          *prom.CounterVec
	timerFires        *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		updateDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "update_duration_seconds",
			Help:      "Time from dequeue to completion of a pipeline job",
			Buckets:   prom.DefBuckets,
		}, []string{"source"}),
		updates: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Pipeline jobs by source and result",
		}, []string{"source", "result"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the update pipeline",
		}),
		hydrationDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "hydration_duration_seconds",
			Help:      "Duration of the one-time state hydration by outcome",
			Buckets:   prom.DefBuckets,
		}, []string{"outcome"}),
		reconciles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_keys_total",
			Help:      "Store change events by reconciliation outcome",
		}, []string{"outcome"}),
		broadcasts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcast attempts by result",
		}, []string{"result"}),
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Routed requests by action, trust level and outcome",
		}, []string{"action", "trust", "outcome"}),
		timerFires: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "timer_fires_total",
			Help:      "Scheduled jobs that changed state or emitted a reminder",
		}, []string{"job"}),
	}
	reg.MustRegister(pr.updateDuration, pr.updates, pr.queueDepth, pr.hydrationDuration,
		pr.reconciles, pr.broadcasts, pr.requests, pr.timerFires)
	return pr
}

func (p *PrometheusRecorder) ObserveUpdate(source string, result Result, d time.Duration) {
	if p == nil {
		return
	}
	p.updateDuration.WithLabelValues(source).Observe(d.Seconds())
	p.updates.WithLabelValues(source, string(result)).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveHydration(outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.hydrationDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncReconcile(outcome string) {
	if p == nil {
		return
	}
	p.reconciles.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncBroadcast(success bool) {
	if p == nil {
		return
	}
	p.broadcasts.WithLabelValues(outcomeLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncRequest(action, trust string, success bool) {
	if p == nil {
		return
	}
	p.requests.WithLabelValues(action, trust, outcomeLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncTimerFire(job string) {
	if p == nil {
		return
	}
	p.timerFires.WithLabelValues(job).Inc()
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
