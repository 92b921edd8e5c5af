package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	recordingsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camrec",
			Name:      "recordings_started_total",
			Help:      "Recording sessions started, by camera.",
		},
		[]string{"camera"},
	)

	recordingsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camrec",
			Name:      "recordings_completed_total",
			Help:      "Recording sessions finalized, by camera.",
		},
		[]string{"camera"},
	)

	recordingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camrec",
			Name:      "recording_failures_total",
			Help:      "Failed recordings, by camera.",
		},
		[]string{"camera"},
	)

	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camrec",
			Name:      "uploads_total",
			Help:      "Finished uploads by result.",
		},
		[]string{"result"},
	)

	uploadQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "camrec",
			Name:      "upload_queue_depth",
			Help:      "Upload tasks waiting for a worker.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			recordingsStarted,
			recordingsCompleted,
			recordingFailures,
			uploads,
			uploadQueueDepth,
		)
	})
}

// IncRecordingStarted increments the started counter for a camera.
func IncRecordingStarted(camera string) {
	recordingsStarted.WithLabelValues(camera).Inc()
}

// IncRecordingCompleted increments the completed counter for a camera.
func IncRecordingCompleted(camera string) {
	recordingsCompleted.WithLabelValues(camera).Inc()
}

// IncRecordingFailed increments the failure counter for a camera.
func IncRecordingFailed(camera string) {
	recordingFailures.WithLabelValues(camera).Inc()
}

// IncUpload increments the upload counter for a result label.
func IncUpload(result string) {
	uploads.WithLabelValues(result).Inc()
}

// SetUploadQueueDepth records the current queue depth.
func SetUploadQueueDepth(depth int) {
	uploadQueueDepth.Set(float64(depth))
}
