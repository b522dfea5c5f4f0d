// Package metrics exposes prometheus counters for capture, persistence and
// dispatch. Each Recorder owns its registry so isolated pipelines (tests,
// CLI commands) never collide on registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for dispatched batches.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type Recorder struct {
	registry *prometheus.Registry

	captured            *prometheus.CounterVec
	rejected            *prometheus.CounterVec
	suppressed          prometheus.Counter
	persistenceFailures *prometheus.CounterVec
	parseFailures       *prometheus.CounterVec
	batches             *prometheus.CounterVec
	dispatchedEvents    *prometheus.CounterVec
	droppedEvents       prometheus.Counter
	queueDepth          prometheus.Gauge
	flushDuration       prometheus.Histogram
	reportsGenerated    prometheus.Counter
}

// NewRecorder builds a recorder with a private registry that also carries the
// Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		captured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_events_captured_total",
			Help: "Events accepted by the capture path",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_events_rejected_total",
			Help: "Events rejected by schema validation",
		}, []string{"kind", "field"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_events_suppressed_total",
			Help: "Capture calls ignored because tracking is disabled or consent is missing",
		}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_persistence_failures_total",
			Help: "Durable log writes that failed",
		}, []string{"kind"}),
		parseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_parse_failures_total",
			Help: "Stored entries discarded on load",
		}, []string{"kind"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_dispatch_batches_total",
			Help: "Collector batches attempted",
		}, []string{"outcome"}),
		dispatchedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_dispatch_events_total",
			Help: "Events carried by collector batches",
		}, []string{"outcome"}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_dispatch_dropped_events_total",
			Help: "Events dropped after exhausting their dispatch attempts",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_dispatch_queue_depth",
			Help: "Events waiting in the dispatch queue",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_dispatch_flush_millis",
			Help:    "Milliseconds spent delivering one flushed batch",
			Buckets: []float64{5, 25, 100, 250, 1000, 5000, 10000},
		}),
		reportsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_reports_generated_total",
			Help: "Analytics reports computed",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.captured, r.rejected, r.suppressed,
		r.persistenceFailures, r.parseFailures,
		r.batches, r.dispatchedEvents, r.droppedEvents, r.queueDepth, r.flushDuration,
		r.reportsGenerated,
	)
	return r
}

func (r *Recorder) Captured(kind string)                 { r.captured.WithLabelValues(kind).Inc() }
func (r *Recorder) Rejected(kind, field string)          { r.rejected.WithLabelValues(kind, field).Inc() }
func (r *Recorder) Suppressed()                          { r.suppressed.Inc() }
func (r *Recorder) PersistenceFailed(kind string)        { r.persistenceFailures.WithLabelValues(kind).Inc() }
func (r *Recorder) ParseFailed(kind string, dropped int) { r.parseFailures.WithLabelValues(kind).Add(float64(dropped)) }
func (r *Recorder) Dropped(n int)                        { r.droppedEvents.Add(float64(n)) }
func (r *Recorder) QueueDepth(n int)                     { r.queueDepth.Set(float64(n)) }
func (r *Recorder) ReportGenerated()                     { r.reportsGenerated.Inc() }

// Dispatched records one collector batch and how long it took.
func (r *Recorder) Dispatched(outcome string, events int, millis float64) {
	r.batches.WithLabelValues(outcome).Inc()
	r.dispatchedEvents.WithLabelValues(outcome).Add(float64(events))
	r.flushDuration.Observe(millis)
}

// Registry exposes the underlying registry for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
