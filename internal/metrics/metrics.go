// Package metrics exposes pipeline run measurements to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BartekS5/elt/pkg/models"
)

// Metrics implements the pipeline's run observer.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	runFailures      *prometheus.CounterVec
	runDuration      prometheus.Histogram
	lastRunTimestamp *prometheus.GaugeVec
	watermark        prometheus.Gauge
	batchRows        *prometheus.GaugeVec
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
}

// New creates the metrics and registers them with registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elt_runs_total",
			Help: "Total number of pipeline runs by status",
		}, []string{"status"}),
		runFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elt_run_failures_total",
			Help: "Total number of failed pipeline runs by error code",
		}, []string{"code"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "elt_run_duration_seconds",
			Help:    "Duration of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		lastRunTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "elt_last_run_timestamp_seconds",
			Help: "Unix time the last run of each status finished",
		}, []string{"status"}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elt_watermark_timestamp_seconds",
			Help: "Unix time of the watermark set by the last advancing run",
		}),
		batchRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "elt_batch_rows",
			Help: "Rows in the last staged batch by entity",
		}, []string{"entity"}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elt_steps_total",
			Help: "Total number of transform step outcomes by step and status",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "elt_step_duration_seconds",
			Help:    "Duration of transform steps that ran",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"step"}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runFailures,
		m.runDuration,
		m.lastRunTimestamp,
		m.watermark,
		m.batchRows,
		m.stepsTotal,
		m.stepDuration,
	)
	return m
}

func (m *Metrics) ObserveBatch(entity string, rows int) {
	if m == nil {
		return
	}
	m.batchRows.WithLabelValues(entity).Set(float64(rows))
}

func (m *Metrics) ObserveStep(name, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(name, status).Inc()
	if duration > 0 {
		m.stepDuration.WithLabelValues(name).Observe(duration.Seconds())
	}
}

func (m *Metrics) ObserveRun(result *models.RunResult) {
	if m == nil || result == nil {
		return
	}
	status := string(result.Status)
	m.runsTotal.WithLabelValues(status).Inc()
	if result.Status == models.RunFailed {
		code := string(result.ErrorCode)
		if code == "" {
			code = "UNCLASSIFIED"
		}
		m.runFailures.WithLabelValues(code).Inc()
	}
	m.runDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	m.lastRunTimestamp.WithLabelValues(status).Set(float64(result.FinishedAt.Unix()))
	if result.Advanced {
		m.watermark.Set(float64(result.RunDate.Unix()))
	}
}
