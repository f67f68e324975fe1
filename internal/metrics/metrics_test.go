package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordError(StageRerank, "unavailable")
	m.RecordError(StageRerank, "unavailable")
	m.RecordRetry(StageRetrieve)
	m.RecordRun("ok", 42)
	m.RecordRun("error", 0)
	m.ObserveStage(StageRetrieve, time.Now().Add(-time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageErrors.WithLabelValues(StageRerank, "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues(StageRetrieve)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Candidates))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordError(StageRerank, "x")
		m.RecordRetry(StageRerank)
		m.RecordRun("ok", 1)
		m.ObserveStage(StageRerank, time.Now())
	})
}

func TestNew_UnregisteredWithNilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
