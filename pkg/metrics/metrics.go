// Package metrics keeps Prometheus counters for one reconciliation run and
// writes them out in the text exposition format, for node_exporter's
// textfile collector or any other scraper.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gpxstrava"

// Recorder collects run counters. A nil *Recorder is valid and records
// nothing, so components can take one optionally.
type Recorder struct {
	registry      *prometheus.Registry
	filesScanned  prometheus.Counter
	duplicates    prometheus.Counter
	parseFailures *prometheus.CounterVec
	jobs          prometheus.Counter
	remote        *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	runDuration   prometheus.Gauge
}

// NewRecorder constructs a recorder backed by its own registry.
func NewRecorder() (*Recorder, error) {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		filesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "files_total",
			Help:      "Local track files scanned.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duplicates_total",
			Help:      "Local track files already present remotely.",
		}),
		parseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "parse_failures_total",
			Help:      "Local track files that could not be summarised.",
		}, []string{"kind"}),
		jobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "jobs_total",
			Help:      "Upload jobs produced for new tracks.",
		}),
		remote: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "remote_activities_total",
			Help:      "Remote activities seen while building the duplicate index.",
		}, []string{"result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "jobs_total",
			Help:      "Upload jobs by outcome.",
		}, []string{"result"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.filesScanned, r.duplicates, r.parseFailures, r.jobs, r.remote, r.uploads, r.runDuration,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Recorder) FileScanned() {
	if r == nil {
		return
	}
	r.filesScanned.Inc()
}

func (r *Recorder) Duplicate() {
	if r == nil {
		return
	}
	r.duplicates.Inc()
}

func (r *Recorder) ParseFailure(kind string) {
	if r == nil {
		return
	}
	r.parseFailures.WithLabelValues(kind).Inc()
}

func (r *Recorder) JobProduced() {
	if r == nil {
		return
	}
	r.jobs.Inc()
}

// RemoteIndexed counts remote activities that made it into the index.
func (r *Recorder) RemoteIndexed(n int) {
	if r == nil {
		return
	}
	r.remote.WithLabelValues("indexed").Add(float64(n))
}

// RemoteSkipped counts remote activities without a start coordinate.
func (r *Recorder) RemoteSkipped(n int) {
	if r == nil {
		return
	}
	r.remote.WithLabelValues("skipped").Add(float64(n))
}

// Upload records one upload outcome (uploaded, queued, failed, skipped, dry_run).
func (r *Recorder) Upload(result string) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveRun(d time.Duration) {
	if r == nil {
		return
	}
	r.runDuration.Set(d.Seconds())
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile atomically writes all metrics to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
