// Package metrics exposes pipeline counters through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayusman/scanpipe/internal/capture"
)

const namespace = "scanpipe"

// Metrics owns a private registry with every scanpipe collector.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived    prometheus.Counter
	framesDropped     prometheus.Counter
	framesProcessed   prometheus.Counter
	detectErrors      prometheus.Counter
	boxesSuppressed   prometheus.Counter
	resultsPublished  prometheus.Counter
	resultsSuppressed prometheus.Counter
	scansRecorded     prometheus.Counter
	hookRuns          *prometheus.CounterVec
	processing        prometheus.Histogram
	sessionState      prometheus.Gauge
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		registry:          prometheus.NewRegistry(),
		framesReceived:    counter("frames_received_total", "Frames delivered by the camera."),
		framesDropped:     counter("frames_dropped_total", "Frames replaced before processing started."),
		framesProcessed:   counter("frames_processed_total", "Frames run through detection."),
		detectErrors:      counter("detect_errors_total", "Detector or decoder failures."),
		boxesSuppressed:   counter("boxes_suppressed_total", "Boxes removed by non-maximum suppression."),
		resultsPublished:  counter("results_published_total", "Detection results published to observers."),
		resultsSuppressed: counter("results_suppressed_total", "Detection results withheld as redundant."),
		scansRecorded:     counter("scans_recorded_total", "Barcode payloads written to scan history."),
		hookRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_runs_total",
			Help:      "Hook plugin runs by outcome.",
		}, []string{"result"}),
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_processing_seconds",
			Help:      "Time from dequeue to publish decision.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Capture session state (0 unconfigured .. 6 failed).",
		}),
	}

	m.registry.MustRegister(
		m.framesReceived, m.framesDropped, m.framesProcessed, m.detectErrors,
		m.boxesSuppressed, m.resultsPublished, m.resultsSuppressed, m.scansRecorded,
		m.hookRuns, m.processing, m.sessionState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) FrameReceived() { m.framesReceived.Inc() }
func (m *Metrics) FrameDropped()  { m.framesDropped.Inc() }
func (m *Metrics) DetectFailed()  { m.detectErrors.Inc() }
func (m *Metrics) ScanRecorded()  { m.scansRecorded.Inc() }

// HookRan counts one hook run.
func (m *Metrics) HookRan(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.hookRuns.WithLabelValues(result).Inc()
}

// FrameProcessed records one processed frame and the boxes NMS removed.
func (m *Metrics) FrameProcessed(elapsed time.Duration, suppressed int) {
	m.framesProcessed.Inc()
	m.processing.Observe(elapsed.Seconds())
	if suppressed > 0 {
		m.boxesSuppressed.Add(float64(suppressed))
	}
}

// ResultPublished implements scan.Recorder.
func (m *Metrics) ResultPublished() { m.resultsPublished.Inc() }

// ResultSuppressed implements scan.Recorder.
func (m *Metrics) ResultSuppressed() { m.resultsSuppressed.Inc() }

// SessionStatus tracks the capture session state.
func (m *Metrics) SessionStatus(st capture.Status) {
	m.sessionState.Set(float64(st.State))
}
