package status

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"camrec/internal/metrics"
	"camrec/internal/models"
)

// CameraSnapshotter exposes a machine's read-only state.
type CameraSnapshotter interface {
	Snapshot() models.CameraSnapshot
}

// UploadCounter reports upload queue totals.
type UploadCounter interface {
	Counts(ctx context.Context) (pending, failed, uploaded int, err error)
}

// RecordingCounter reports lifetime recording totals.
type RecordingCounter interface {
	CountRecordings(ctx context.Context) (int, error)
}

// Reporter assembles a device status snapshot on its own cadence and hands
// it to the sink. It only reads copies of component state; losing a beat is
// harmless, the next one replaces it.
type Reporter struct {
	deviceID string
	cameras  []CameraSnapshotter
	uploads  UploadCounter
	recs     RecordingCounter
	sink     Sink

	interval time.Duration
	now      func() time.Time
	started  time.Time
	errors   atomic.Int64
	logger   zerolog.Logger
}

type ReporterOption func(*Reporter)

// WithReporterClock injects a clock for tests.
func WithReporterClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) { r.now = now }
}

func NewReporter(
	deviceID string,
	cameras []CameraSnapshotter,
	uploads UploadCounter,
	recs RecordingCounter,
	sink Sink,
	interval time.Duration,
	logger *zerolog.Logger,
	opts ...ReporterOption,
) *Reporter {
	r := &Reporter{
		deviceID: deviceID,
		cameras:  cameras,
		uploads:  uploads,
		recs:     recs,
		sink:     sink,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "reporter").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.started = r.now()
	return r
}

// RecordError bumps the lifetime error counter. Wired to failure events.
func (r *Reporter) RecordError() {
	r.errors.Add(1)
}

// Run publishes snapshots until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	r.logger.Info().Dur("interval", r.interval).Msg("status reporter started")
	defer r.logger.Info().Msg("status reporter stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report assembles and publishes one snapshot. Exported so tests can drive
// beats without real time.
func (r *Reporter) Report(ctx context.Context) {
	snap := r.Collect(ctx)
	if err := r.sink.Publish(ctx, snap); err != nil {
		r.logger.Warn().Err(err).Msg("publish status snapshot")
	}
}

// Collect builds the snapshot without publishing it.
func (r *Reporter) Collect(ctx context.Context) models.StatusSnapshot {
	snap := models.StatusSnapshot{
		DeviceID:    r.deviceID,
		UptimeStart: r.started,
		UpdatedAt:   r.now(),
		ErrorsCount: r.errors.Load(),
	}

	for _, cam := range r.cameras {
		snap.Cameras = append(snap.Cameras, cam.Snapshot())
	}

	if r.uploads != nil {
		pending, failed, uploaded, err := r.uploads.Counts(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Msg("collect upload counts")
		} else {
			snap.PendingUploads = pending
			snap.FailedUploads = failed
			snap.SuccessfulUploads = int64(uploaded)
			metrics.SetUploadQueueDepth(pending)
		}
	}

	if r.recs != nil {
		total, err := r.recs.CountRecordings(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Msg("collect recording count")
		} else {
			snap.TotalRecordings = int64(total)
		}
	}

	return snap
}
