// Package metrics counts migration outcomes on a private Prometheus registry
// and writes them out in the textfile exposition format.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gitlab.com/tozd/go/errors"
)

const namespace = "famigrate"

// Outcome labels
const (
	OutcomeSaved  = "saved"
	OutcomeFailed = "failed"
)

// Collector holds the run metrics
type Collector struct {
	registry *prometheus.Registry

	Artifacts  *prometheus.CounterVec
	Renames    prometheus.Counter
	Skipped    prometheus.Counter
	Conversion prometheus.Histogram
	LastRun    prometheus.Gauge
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Artifacts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_total",
				Help:      "Artifacts processed, by outcome",
			},
			[]string{"outcome"},
		),
		Renames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renames_total",
			Help:      "Artifacts whose filename was rewritten",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_total",
			Help:      "Candidates excluded during discovery",
		}),
		Conversion: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Time spent converting a single artifact",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}

	c.registry.MustRegister(c.Artifacts, c.Renames, c.Skipped, c.Conversion, c.LastRun)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveConversion records one conversion attempt.
func (c *Collector) ObserveConversion(d time.Duration, err error) {
	c.Conversion.Observe(d.Seconds())
	if err != nil {
		c.Artifacts.WithLabelValues(OutcomeFailed).Inc()
		return
	}
	c.Artifacts.WithLabelValues(OutcomeSaved).Inc()
}

// WriteTextfile writes all metrics to path for a node exporter textfile
// collector.
func (c *Collector) WriteTextfile(path string, finished time.Time) error {
	c.LastRun.Set(float64(finished.Unix()))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return errors.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
