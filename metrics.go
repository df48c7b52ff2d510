package graphcorral

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphcorral_submissions_total",
			Help: "Total number of graph computer submissions by outcome",
		},
		[]string{"status"},
	)
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphcorral_jobs_total",
			Help: "Total number of engine jobs launched by kind and outcome",
		},
		[]string{"kind", "status"},
	)
	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphcorral_job_duration_seconds",
			Help:    "Duration of engine jobs",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		},
		[]string{"kind"},
	)
	stagedArtifactsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphcorral_staged_artifacts_total",
			Help: "Total number of artifacts registered for jobs, by whether they were copied or already staged",
		},
		[]string{"source"},
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}
