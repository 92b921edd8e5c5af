package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"camrec/internal/backoff"
	"camrec/internal/events"
	"camrec/internal/models"

	"github.com/rs/zerolog"
)

var (
	// ErrConflict means another booking already owns this camera.
	ErrConflict = errors.New("camera busy with another booking")

	// ErrRetryBackoff means initialization is suppressed until the
	// backoff window opens. Not a booking failure.
	ErrRetryBackoff = errors.New("camera in backoff window")

	// ErrWindowElapsed means the booking's end time has already passed.
	ErrWindowElapsed = errors.New("booking window elapsed")
)

// Uploader receives finished artifacts.
type Uploader interface {
	Enqueue(ctx context.Context, task models.UploadTask) error
}

// BookingStatusWriter writes booking status transitions back to the source.
type BookingStatusWriter interface {
	UpdateStatus(ctx context.Context, bookingID, status, reason string) error
}

// RecordingLog persists local recording bookkeeping rows.
type RecordingLog interface {
	CreateRecording(ctx context.Context, rec *models.Recording) error
	FinishRecording(ctx context.Context, bookingID string, finishedAt time.Time, size int64) error
}

// EventPublisher publishes lifecycle events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Machine owns one physical camera through the Idle -> Initializing ->
// Recording -> Finalizing cycle. It is the sole mutator of the camera's
// hardware resource; other components read state only through Snapshot.
type Machine struct {
	cameraID      string
	width         int
	height        int
	fps           int
	recordingsDir string

	driver   Driver
	backoff  *backoff.Controller
	uploader Uploader
	statusW  BookingStatusWriter
	recLog   RecordingLog
	bus      EventPublisher
	logger   zerolog.Logger

	tick time.Duration
	now  func() time.Time

	mu            sync.Mutex
	state         models.CameraState
	session       *models.RecordingSession
	booking       models.Booking
	cancelPending bool
	lastHeartbeat time.Time
}

type MachineOption func(*Machine)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) { m.now = now }
}

// WithTick overrides the run-loop cadence.
func WithTick(d time.Duration) MachineOption {
	return func(m *Machine) { m.tick = d }
}

// WithRecordingLog attaches optional local bookkeeping.
func WithRecordingLog(log RecordingLog) MachineOption {
	return func(m *Machine) { m.recLog = log }
}

// WithEventBus attaches an event publisher.
func WithEventBus(bus EventPublisher) MachineOption {
	return func(m *Machine) { m.bus = bus }
}

func NewMachine(
	cameraID string,
	width, height, fps int,
	recordingsDir string,
	driver Driver,
	backoffCtrl *backoff.Controller,
	uploader Uploader,
	statusW BookingStatusWriter,
	logger *zerolog.Logger,
	opts ...MachineOption,
) *Machine {
	m := &Machine{
		cameraID:      cameraID,
		width:         width,
		height:        height,
		fps:           fps,
		recordingsDir: recordingsDir,
		driver:        driver,
		backoff:       backoffCtrl,
		uploader:      uploader,
		statusW:       statusW,
		logger:        logger.With().Str("camera_id", cameraID).Logger(),
		tick:          time.Second,
		now:           time.Now,
		state:         models.StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run drives the Recording -> Finalizing transition on end-of-window or
// cancellation. Cancellation is cooperative: checked once per tick, never
// by interrupting hardware calls.
func (m *Machine) Run(ctx context.Context) {
	m.logger.Info().Msg("camera machine started")
	defer m.logger.Info().Msg("camera machine stopped")

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Close out an in-flight recording so the artifact survives
			// a shutdown; upload resumes from the durable queue.
			m.Tick(context.Background())
			if m.currentState() == models.StateRecording {
				m.finalize(context.Background())
			}
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one scheduling beat: refreshes the heartbeat and finalizes
// the session when its window has closed or a cancel was requested.
// Exported so tests can drive the machine without real time.
func (m *Machine) Tick(ctx context.Context) {
	m.mu.Lock()
	m.lastHeartbeat = m.now()
	shouldFinalize := m.state == models.StateRecording &&
		(m.cancelPending || !m.now().Before(m.booking.EndsAt))
	m.mu.Unlock()

	if shouldFinalize {
		m.finalize(ctx)
	}
}

// StartBooking attempts the Idle -> Initializing -> Recording transition
// for a due booking. Conflicts and elapsed windows are rejected; init
// failures feed the backoff controller and leave the booking scheduled.
func (m *Machine) StartBooking(ctx context.Context, b models.Booking) error {
	now := m.now()
	if b.Expired(now) {
		return fmt.Errorf("booking %s: %w", b.ID, ErrWindowElapsed)
	}

	m.mu.Lock()
	if m.state != models.StateIdle {
		active := ""
		if m.session != nil {
			active = m.session.BookingID
		}
		m.mu.Unlock()
		if active == b.ID {
			return nil
		}
		return fmt.Errorf("booking %s vs active %s: %w", b.ID, active, ErrConflict)
	}
	if !m.backoff.MayAttempt(m.cameraID, now) {
		m.mu.Unlock()
		return ErrRetryBackoff
	}
	// Reserve the camera before releasing the lock; hardware calls run
	// outside the critical section.
	m.state = models.StateInitializing
	m.booking = b
	m.cancelPending = false
	m.mu.Unlock()

	artifactPath, err := m.initialize(ctx, b)
	if err != nil {
		delay := m.backoff.RecordFailure(m.cameraID)
		m.toIdle()
		m.logger.Warn().Err(err).Dur("retry_in", delay).Str("booking_id", b.ID).Msg("camera init failed")
		m.publish(events.EventRecordingFailed, events.RecordingEventPayload{
			BookingID: b.ID, CameraID: m.cameraID, Reason: err.Error(),
		})
		return err
	}

	m.backoff.RecordSuccess(m.cameraID)

	startedAt := m.now()
	if !startedAt.Before(b.EndsAt) {
		// Window closed while the hardware came up; never enter Recording
		// past the booking's own end time.
		m.teardownDriver(ctx)
		m.toIdle()
		return fmt.Errorf("booking %s: %w", b.ID, ErrWindowElapsed)
	}

	m.mu.Lock()
	m.state = models.StateRecording
	m.session = &models.RecordingSession{
		BookingID:    b.ID,
		CameraID:     m.cameraID,
		State:        models.StateRecording,
		StartedAt:    startedAt,
		ArtifactPath: artifactPath,
	}
	m.mu.Unlock()

	if err := m.statusW.UpdateStatus(ctx, b.ID, models.StatusRecording, ""); err != nil {
		m.logger.Error().Err(err).Str("booking_id", b.ID).Msg("write recording status")
	}
	if m.recLog != nil {
		rec := &models.Recording{BookingID: b.ID, CameraID: m.cameraID, Path: artifactPath, StartedAt: startedAt}
		if err := m.recLog.CreateRecording(ctx, rec); err != nil {
			m.logger.Error().Err(err).Str("booking_id", b.ID).Msg("create recording entry")
		}
	}
	m.publish(events.EventRecordingStarted, events.RecordingEventPayload{
		BookingID: b.ID, CameraID: m.cameraID, ArtifactPath: artifactPath,
	})

	m.logger.Info().Str("booking_id", b.ID).Str("artifact", artifactPath).Msg("recording started")
	return nil
}

// Cancel requests early finalization of the active booking. Observed on
// the next tick.
func (m *Machine) Cancel(bookingID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil && m.session.BookingID == bookingID {
		m.cancelPending = true
	}
}

// ActiveBookingID returns the booking currently owning this camera, or "".
func (m *Machine) ActiveBookingID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.BookingID
}

// ActiveBooking returns a copy of the booking currently owning this camera.
func (m *Machine) ActiveBooking() (models.Booking, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return models.Booking{}, false
	}
	return m.booking, true
}

// Snapshot returns a read-only copy of the machine state.
func (m *Machine) Snapshot() models.CameraSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := models.CameraSnapshot{
		CameraID:            m.cameraID,
		State:               m.state,
		IsRecording:         m.state == models.StateRecording,
		ConsecutiveFailures: m.backoff.Failures(m.cameraID),
		LastHeartbeat:       m.lastHeartbeat,
	}
	if m.session != nil {
		snap.BookingID = m.session.BookingID
	}
	return snap
}

func (m *Machine) initialize(ctx context.Context, b models.Booking) (string, error) {
	if err := m.driver.Open(ctx); err != nil {
		return "", &InitError{CameraID: m.cameraID, Stage: StageOpen, Err: err}
	}
	if err := m.driver.Configure(m.width, m.height, m.fps); err != nil {
		_ = m.driver.Close()
		return "", &InitError{CameraID: m.cameraID, Stage: StageConfigure, Err: err}
	}

	frame, err := m.driver.CaptureTestFrame(ctx)
	if err != nil {
		_ = m.driver.Close()
		return "", &InitError{CameraID: m.cameraID, Stage: StageTestFrame, Err: err}
	}
	if len(frame) == 0 {
		_ = m.driver.Close()
		return "", &InitError{CameraID: m.cameraID, Stage: StageTestFrame, Err: errors.New("empty test frame")}
	}

	artifactPath := m.artifactPath(b)
	if err := os.MkdirAll(filepath.Dir(artifactPath), 0o755); err != nil {
		_ = m.driver.Close()
		return "", &InitError{CameraID: m.cameraID, Stage: StageStart, Err: err}
	}
	if err := m.driver.Start(ctx, artifactPath); err != nil {
		_ = m.driver.Close()
		return "", &InitError{CameraID: m.cameraID, Stage: StageStart, Err: err}
	}
	return artifactPath, nil
}

func (m *Machine) finalize(ctx context.Context) {
	m.mu.Lock()
	if m.state != models.StateRecording || m.session == nil {
		m.mu.Unlock()
		return
	}
	m.state = models.StateFinalizing
	session := *m.session
	booking := m.booking
	canceled := m.cancelPending
	m.mu.Unlock()

	m.logger.Info().Str("booking_id", session.BookingID).Bool("canceled", canceled).Msg("finalizing recording")

	m.teardownDriver(ctx)

	finishedAt := m.now()
	size := artifactSize(session.ArtifactPath)

	if m.recLog != nil {
		if err := m.recLog.FinishRecording(ctx, session.BookingID, finishedAt, size); err != nil {
			m.logger.Error().Err(err).Str("booking_id", session.BookingID).Msg("finish recording entry")
		}
	}

	switch {
	case size <= 0:
		// Nothing worth uploading; surface the failure instead of
		// shipping an empty object.
		m.logger.Error().Str("booking_id", session.BookingID).Str("artifact", session.ArtifactPath).Msg("artifact missing or empty")
		if err := m.statusW.UpdateStatus(ctx, session.BookingID, models.StatusFailed, models.ReasonEmptyArtifact); err != nil {
			m.logger.Error().Err(err).Str("booking_id", session.BookingID).Msg("write failed status")
		}
		m.publish(events.EventRecordingFailed, events.RecordingEventPayload{
			BookingID: session.BookingID, CameraID: m.cameraID, Reason: models.ReasonEmptyArtifact,
		})

	case canceled:
		task := models.UploadTask{
			BookingID:    session.BookingID,
			CameraID:     m.cameraID,
			UserID:       booking.UserID,
			ArtifactPath: session.ArtifactPath,
			Status:       models.UploadPending,
		}
		if err := m.uploader.Enqueue(ctx, task); err != nil {
			m.logger.Error().Err(err).Str("booking_id", session.BookingID).Msg("enqueue upload")
		}
		// External cancellation already moved the booking to canceled at
		// the source; the partial artifact is still preserved.
		m.publish(events.EventRecordingCompleted, events.RecordingEventPayload{
			BookingID: session.BookingID, CameraID: m.cameraID, ArtifactPath: session.ArtifactPath,
		})

	default:
		task := models.UploadTask{
			BookingID:    session.BookingID,
			CameraID:     m.cameraID,
			UserID:       booking.UserID,
			ArtifactPath: session.ArtifactPath,
			Status:       models.UploadPending,
		}
		if err := m.uploader.Enqueue(ctx, task); err != nil {
			m.logger.Error().Err(err).Str("booking_id", session.BookingID).Msg("enqueue upload")
		}
		if err := m.statusW.UpdateStatus(ctx, session.BookingID, models.StatusCompleted, ""); err != nil {
			m.logger.Error().Err(err).Str("booking_id", session.BookingID).Msg("write completed status")
		}
		m.publish(events.EventRecordingCompleted, events.RecordingEventPayload{
			BookingID: session.BookingID, CameraID: m.cameraID, ArtifactPath: session.ArtifactPath,
		})
	}

	m.toIdle()
	m.logger.Info().Str("booking_id", session.BookingID).Int64("size", size).Msg("recording finalized")
}

func (m *Machine) teardownDriver(ctx context.Context) {
	if err := m.driver.Stop(ctx); err != nil {
		m.logger.Error().Err(err).Msg("driver stop")
	}
	if err := m.driver.Close(); err != nil {
		m.logger.Error().Err(err).Msg("driver close")
	}
}

func (m *Machine) toIdle() {
	m.mu.Lock()
	m.state = models.StateIdle
	m.session = nil
	m.booking = models.Booking{}
	m.cancelPending = false
	m.mu.Unlock()
}

func (m *Machine) currentState() models.CameraState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) artifactPath(b models.Booking) string {
	name := fmt.Sprintf("booking_%s_%s.mp4", b.ID, m.now().Format("20060102_150405"))
	return filepath.Join(m.recordingsDir, m.cameraID, name)
}

func (m *Machine) publish(eventType string, payload events.RecordingEventPayload) {
	if m.bus == nil {
		return
	}
	if err := m.bus.PublishJSON(eventType, payload); err != nil {
		m.logger.Error().Err(err).Str("event", eventType).Msg("publish event")
	}
}

func artifactSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
