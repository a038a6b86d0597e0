package metrics

import "github.com/prometheus/client_golang/prometheus"

// Stage names used as label values.
const (
	StageClassify = "classify"
	StageSpeech   = "speech"
	StageRecord   = "record"
	StageChat     = "chat"
)

// WorkflowMetrics exposes counters/histograms for the prediction and chat flows.
type WorkflowMetrics struct {
	stageTotal   *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	staleTotal   *prometheus.CounterVec
	ignoredTotal *prometheus.CounterVec
}

func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dermassist",
			Subsystem: "workflow",
			Name:      "stage_total",
			Help:      "Completed workflow stages by outcome",
		}, []string{"stage", "status"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dermassist",
			Subsystem: "workflow",
			Name:      "stage_latency_seconds",
			Help:      "Latency of remote workflow stages",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		staleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dermassist",
			Subsystem: "workflow",
			Name:      "stale_responses_total",
			Help:      "Responses dropped because their selection was superseded",
		}, []string{"stage"}),
		ignoredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dermassist",
			Subsystem: "workflow",
			Name:      "ignored_intents_total",
			Help:      "User intents rejected as no-ops",
		}, []string{"intent"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.stageTotal, m.stageLatency, m.staleTotal, m.ignoredTotal)
	return m
}

// ObserveStage records a stage outcome and its latency. Zero seconds skips the histogram.
func (m *WorkflowMetrics) ObserveStage(stage string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.stageTotal.WithLabelValues(stage, status).Inc()
	if seconds > 0 {
		m.stageLatency.WithLabelValues(stage).Observe(seconds)
	}
}

func (m *WorkflowMetrics) ObserveStale(stage string) {
	if m == nil {
		return
	}
	m.staleTotal.WithLabelValues(stage).Inc()
}

func (m *WorkflowMetrics) ObserveIgnored(intent string) {
	if m == nil {
		return
	}
	m.ignoredTotal.WithLabelValues(intent).Inc()
}
