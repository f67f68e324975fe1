// Package metrics provides Prometheus metrics for the search pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage labels.
const (
	StageRetrieve = "retrieve"
	StageProject  = "project"
	StageRerank   = "rerank"
	StagePipeline = "pipeline"
)

// Metrics holds the pipeline collectors.
//
// Metrics:
//   - rerankd_stage_duration_seconds{stage} - time spent per stage
//   - rerankd_stage_errors_total{stage,kind} - failed stage calls by error kind
//   - rerankd_retries_total{stage} - boundary retries
//   - rerankd_candidates - candidate pool size per query
//   - rerankd_runs_total{status} - completed runs
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	StageErrors   *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	Candidates    prometheus.Histogram
	RunsTotal     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rerankd",
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		StageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rerankd",
				Name:      "stage_errors_total",
				Help:      "Total number of failed stage calls",
			},
			[]string{"stage", "kind"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rerankd",
				Name:      "retries_total",
				Help:      "Total number of boundary retries",
			},
			[]string{"stage"},
		),
		Candidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "rerankd",
				Name:      "candidates",
				Help:      "Distribution of candidate pool sizes",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rerankd",
				Name:      "runs_total",
				Help:      "Total number of search runs",
			},
			[]string{"status"},
		),
	}
}

// ObserveStage records the duration of a stage started at start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordError counts a failed stage call.
func (m *Metrics) RecordError(stage, kind string) {
	if m == nil {
		return
	}
	m.StageErrors.WithLabelValues(stage, kind).Inc()
}

// RecordRetry counts a retry of stage.
func (m *Metrics) RecordRetry(stage string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(stage).Inc()
}

// RecordRun counts a finished run and its candidate pool size.
func (m *Metrics) RecordRun(status string, candidates int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		m.Candidates.Observe(float64(candidates))
	}
}
