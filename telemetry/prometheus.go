// Package telemetry carries the prometheus collectors, the metrics endpoint
// and the tracer bootstrap shared by the service layer.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maskstab_jobs_processed_total",
		Help: "Total number of job stage completions, by terminal status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "maskstab_stage_duration_seconds",
		Help:    "Duration of job pipeline stages",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	FramesSegmentedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maskstab_frames_segmented_total",
		Help: "Total number of frames run through the segmenter across all jobs",
	})

	ActiveStages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "maskstab_active_stages",
		Help: "Number of background stage pipelines currently running",
	})

	ArtifactCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maskstab_artifact_cache_total",
		Help: "Artifact requests served from the blob cache vs rendered",
	}, []string{"outcome"})
)
