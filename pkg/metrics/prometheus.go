package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adsweep"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	ticks       *prom.CounterVec
	cacheHits   prom.Counter
	scanSeconds prom.Histogram
	scanNodes   prom.Histogram
	detections  *prom.CounterVec
	triggers    *prom.CounterVec
	completions *prom.CounterVec
	inFlight    prom.Gauge
}

// NewPrometheusRecorder registers the engine metrics on reg. A nil reg
// gets a private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		ticks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler ticks by outcome",
		}, []string{"outcome"}),
		cacheHits: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "content_cache_hits_total",
			Help:      "Ticks whose detection result was reused from the content hash cache",
		}),
		scanSeconds: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of UI tree scan passes",
			Buckets:   prom.DefBuckets,
		}),
		scanNodes: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_nodes",
			Help:      "Number of records produced per scan pass",
			Buckets:   prom.ExponentialBuckets(16, 2, 9),
		}),
		detections: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detection runs by strategy and result",
		}, []string{"strategy", "matched"}),
		triggers: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Executed triggers by app and execution mode",
		}, []string{"app", "mode"}),
		completions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Trigger completions by mode and result",
		}, []string{"mode", "result"}),
		inFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "1 while a triggered action has not completed",
		}),
	}
	reg.MustRegister(pr.ticks, pr.cacheHits, pr.scanSeconds, pr.scanNodes, pr.detections, pr.triggers, pr.completions, pr.inFlight)
	return pr
}

func (p *PrometheusRecorder) IncTick(outcome TickOutcome) {
	if p == nil {
		return
	}
	p.ticks.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncCacheHit() {
	if p == nil {
		return
	}
	p.cacheHits.Inc()
}

func (p *PrometheusRecorder) ObserveScan(d time.Duration, nodes int) {
	if p == nil {
		return
	}
	p.scanSeconds.Observe(d.Seconds())
	p.scanNodes.Observe(float64(nodes))
}

func (p *PrometheusRecorder) IncDetection(strategy string, matched bool) {
	if p == nil {
		return
	}
	m := "false"
	if matched {
		m = "true"
	}
	p.detections.WithLabelValues(strategy, m).Inc()
}

func (p *PrometheusRecorder) IncTrigger(app, mode string) {
	if p == nil {
		return
	}
	p.triggers.WithLabelValues(app, mode).Inc()
}

func (p *PrometheusRecorder) IncCompletion(mode, result string) {
	if p == nil {
		return
	}
	p.completions.WithLabelValues(mode, result).Inc()
}

func (p *PrometheusRecorder) SetInFlight(inFlight bool) {
	if p == nil {
		return
	}
	if inFlight {
		p.inFlight.Set(1)
	} else {
		p.inFlight.Set(0)
	}
}

// HTTPHandler serves the metrics of reg
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
