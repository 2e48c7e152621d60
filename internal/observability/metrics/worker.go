package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers stage executions and the file and volume counters the
// stages report through ports.PipelineMetrics.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	stageTotal     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageInFlight  *prometheus.GaugeVec
	filesTotal     *prometheus.CounterVec
	volumesTotal   *prometheus.CounterVec
	volumeFrames   *prometheus.HistogramVec
	framesRejected *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dicom",
			Subsystem: "worker",
			Name:      "stage_runs_total",
			Help:      "Total stage executions by resulting status code.",
		},
		[]string{"service", "stage", "code"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dicom",
			Subsystem: "worker",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "stage"},
	)
	stageInFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dicom",
			Subsystem: "worker",
			Name:      "stage_in_flight",
			Help:      "Number of stage executions in progress.",
		},
		[]string{"service", "stage"},
	)
	filesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dicom",
			Subsystem: "worker",
			Name:      "files_total",
			Help:      "Files seen by a stage, parsed or skipped.",
		},
		[]string{"service", "stage", "result"},
	)
	volumesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dicom",
			Subsystem: "worker",
			Name:      "volumes_written_total",
			Help:      "Raw volumes written by conversion mode.",
		},
		[]string{"service", "mode"},
	)
	volumeFrames := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dicom",
			Subsystem: "worker",
			Name:      "volume_frames",
			Help:      "Frames per written volume.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"service", "mode"},
	)
	framesRejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dicom",
			Subsystem: "worker",
			Name:      "frames_rejected_total",
			Help:      "Parsed images left out of a volume.",
		},
		[]string{"service", "mode"},
	)

	registry.MustRegister(stageTotal, stageDuration, stageInFlight, filesTotal, volumesTotal, volumeFrames, framesRejected)

	return &WorkerMetrics{
		registry:       registry,
		service:        service,
		stageTotal:     stageTotal,
		stageDuration:  stageDuration,
		stageInFlight:  stageInFlight,
		filesTotal:     filesTotal,
		volumesTotal:   volumesTotal,
		volumeFrames:   volumeFrames,
		framesRejected: framesRejected,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartStage(stage string) {
	m.stageInFlight.WithLabelValues(m.service, stage).Inc()
}

func (m *WorkerMetrics) FinishStage(stage string, duration time.Duration, statusCode int) {
	m.stageInFlight.WithLabelValues(m.service, stage).Dec()
	m.stageTotal.WithLabelValues(m.service, stage, strconv.Itoa(statusCode)).Inc()
	m.stageDuration.WithLabelValues(m.service, stage).Observe(duration.Seconds())
}

func (m *WorkerMetrics) FilesParsed(stage string, parsed, skipped int) {
	m.filesTotal.WithLabelValues(m.service, stage, "parsed").Add(float64(parsed))
	m.filesTotal.WithLabelValues(m.service, stage, "skipped").Add(float64(skipped))
}

func (m *WorkerMetrics) VolumeWritten(mode string, frames, rejected int) {
	m.volumesTotal.WithLabelValues(m.service, mode).Inc()
	m.volumeFrames.WithLabelValues(m.service, mode).Observe(float64(frames))
	if rejected > 0 {
		m.framesRejected.WithLabelValues(m.service, mode).Add(float64(rejected))
	}
}
