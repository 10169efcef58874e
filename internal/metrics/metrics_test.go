package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/elt/pkg/models"
)

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveBatch("users", 42)
	m.ObserveBatch("users", 7)
	m.ObserveStep("seed", "success", 2*time.Second)
	m.ObserveStep("dim_users", "skipped", 0)
	m.ObserveStep("dim_users", "skipped", 0)

	start := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	m.ObserveRun(&models.RunResult{
		Status:     models.RunSuccess,
		RunDate:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Advanced:   true,
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
	})
	m.ObserveRun(&models.RunResult{Status: models.RunFailed, StartedAt: start, FinishedAt: start})
	m.ObserveRun(&models.RunResult{Status: models.RunFailed, ErrorCode: models.CodeLoadFailed, StartedAt: start, FinishedAt: start})

	assert.Equal(t, float64(7), testutil.ToFloat64(m.batchRows.WithLabelValues("users")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stepsTotal.WithLabelValues("seed", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.stepsTotal.WithLabelValues("dim_users", "skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.runsTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runFailures.WithLabelValues("LOAD_FAILED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runFailures.WithLabelValues("UNCLASSIFIED")))
	assert.Equal(t, float64(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Unix()), testutil.ToFloat64(m.watermark))

	assert.Equal(t, 1, testutil.CollectAndCount(m.stepDuration), "skipped steps record no duration")

	families, err := registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"elt_runs_total", "elt_run_duration_seconds", "elt_batch_rows", "elt_steps_total", "elt_watermark_timestamp_seconds"} {
		assert.True(t, names[want], want)
	}
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveBatch("users", 1)
		m.ObserveStep("seed", "success", time.Second)
		m.ObserveRun(&models.RunResult{})
	})
}
