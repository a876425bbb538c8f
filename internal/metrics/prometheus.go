package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry      *prom.Registry
	stepDuration  *prom.HistogramVec
	jobDuration   *prom.HistogramVec
	runDuration   prom.Histogram
	stepResults   *prom.CounterVec
	jobResults    *prom.CounterVec
	runOutcomes   *prom.CounterVec
	queueDepth    prom.Gauge
	activeRuns    prom.Gauge
	artifactBytes prom.Counter
	wheelsBuilt   *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the wheelworks metrics.
// A nil registry gets a fresh one; retrieve it with Registry for serving.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		registry: reg,
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "wheelworks",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual steps by action",
			Buckets:   prom.DefBuckets,
		}, []string{"action"}),
		jobDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "wheelworks",
			Name:      "job_duration_seconds",
			Help:      "Duration of matrix job runs by platform",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"platform"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "wheelworks",
			Name:      "run_duration_seconds",
			Help:      "Total workflow run duration",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}),
		stepResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wheelworks",
			Name:      "step_results_total",
			Help:      "Step results by action and outcome",
		}, []string{"action", "result"}),
		jobResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wheelworks",
			Name:      "job_results_total",
			Help:      "Job results by platform and outcome",
		}, []string{"platform", "result"}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wheelworks",
			Name:      "run_outcomes_total",
			Help:      "Run outcomes by final status",
		}, []string{"outcome"}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: "wheelworks",
			Name:      "queue_depth",
			Help:      "Runs waiting in the daemon queue",
		}),
		activeRuns: prom.NewGauge(prom.GaugeOpts{
			Namespace: "wheelworks",
			Name:      "active_runs",
			Help:      "Runs currently executing",
		}),
		artifactBytes: prom.NewCounter(prom.CounterOpts{
			Namespace: "wheelworks",
			Name:      "artifact_bytes_total",
			Help:      "Total bytes stored in the artifact store",
		}),
		wheelsBuilt: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wheelworks",
			Name:      "wheels_built_total",
			Help:      "Wheels produced by platform",
		}, []string{"platform"}),
	}
	reg.MustRegister(pr.stepDuration, pr.jobDuration, pr.runDuration,
		pr.stepResults, pr.jobResults, pr.runOutcomes,
		pr.queueDepth, pr.activeRuns, pr.artifactBytes, pr.wheelsBuilt)
	return pr
}

// Registry returns the backing registry for HTTP exposure.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

// HTTPHandler returns an http.Handler serving the registry in the Prometheus
// exposition format.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) ObserveStepDuration(action string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveJobDuration(platform string, d time.Duration) {
	if p == nil || p.jobDuration == nil {
		return
	}
	p.jobDuration.WithLabelValues(platform).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStepResult(action string, result ResultLabel) {
	if p == nil || p.stepResults == nil {
		return
	}
	p.stepResults.WithLabelValues(action, string(result)).Inc()
}

func (p *PrometheusRecorder) IncJobResult(platform string, result ResultLabel) {
	if p == nil || p.jobResults == nil {
		return
	}
	p.jobResults.WithLabelValues(platform, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome string) {
	if p == nil || p.runOutcomes == nil {
		return
	}
	p.runOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetActiveRuns(n int) {
	if p == nil || p.activeRuns == nil {
		return
	}
	p.activeRuns.Set(float64(n))
}

func (p *PrometheusRecorder) AddArtifactBytes(n int64) {
	if p == nil || p.artifactBytes == nil || n <= 0 {
		return
	}
	p.artifactBytes.Add(float64(n))
}

func (p *PrometheusRecorder) AddWheelsBuilt(platform string, n int) {
	if p == nil || p.wheelsBuilt == nil || n <= 0 {
		return
	}
	p.wheelsBuilt.WithLabelValues(platform).Add(float64(n))
}
