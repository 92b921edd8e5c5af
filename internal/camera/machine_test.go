package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"camrec/internal/backoff"
	"camrec/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	openErr      error
	configureErr error
	startErr     error
	testFrame    []byte
	testFrameErr error
	writeOnStart []byte

	openCalls  int
	startCalls int
	stopCalls  int
	closeCalls int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{testFrame: []byte{0xff, 0xd8}, writeOnStart: []byte("video-bytes")}
}

func (d *fakeDriver) Open(ctx context.Context) error {
	d.openCalls++
	return d.openErr
}

func (d *fakeDriver) Configure(width, height, fps int) error { return d.configureErr }

func (d *fakeDriver) Start(ctx context.Context, artifactPath string) error {
	d.startCalls++
	if d.startErr != nil {
		return d.startErr
	}
	if d.writeOnStart != nil {
		return os.WriteFile(artifactPath, d.writeOnStart, 0o644)
	}
	return nil
}

func (d *fakeDriver) CaptureTestFrame(ctx context.Context) ([]byte, error) {
	return d.testFrame, d.testFrameErr
}

func (d *fakeDriver) Stop(ctx context.Context) error { d.stopCalls++; return nil }
func (d *fakeDriver) Close() error                   { d.closeCalls++; return nil }

type fakeUploader struct {
	mu    sync.Mutex
	tasks []models.UploadTask
}

func (u *fakeUploader) Enqueue(ctx context.Context, task models.UploadTask) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tasks = append(u.tasks, task)
	return nil
}

type statusUpdate struct {
	bookingID string
	status    string
	reason    string
}

type fakeStatusWriter struct {
	mu      sync.Mutex
	updates []statusUpdate
}

func (w *fakeStatusWriter) UpdateStatus(ctx context.Context, bookingID, status, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates = append(w.updates, statusUpdate{bookingID, status, reason})
	return nil
}

func (w *fakeStatusWriter) last(t *testing.T) statusUpdate {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.updates) == 0 {
		t.Fatalf("expected at least one status update")
	}
	return w.updates[len(w.updates)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	machine  *Machine
	driver   *fakeDriver
	uploader *fakeUploader
	status   *fakeStatusWriter
	backoff  *backoff.Controller
	clock    *testClock
}

func newFixture(t *testing.T) *fixture {
	clock := &testClock{now: time.Date(2025, 6, 25, 10, 0, 0, 0, time.UTC)}
	driver := newFakeDriver()
	uploader := &fakeUploader{}
	status := &fakeStatusWriter{}
	ctrl := backoff.NewController(backoff.WithClock(clock.Now))
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	m := NewMachine(
		"cam-1", 1920, 1080, 30,
		t.TempDir(),
		driver, ctrl, uploader, status,
		&logger,
		WithClock(clock.Now),
	)
	return &fixture{machine: m, driver: driver, uploader: uploader, status: status, backoff: ctrl, clock: clock}
}

func booking(id string, start, end time.Time) models.Booking {
	return models.Booking{ID: id, CameraID: "cam-1", UserID: "user-1", StartsAt: start, EndsAt: end, Status: models.StatusScheduled}
}

func TestStartBookingHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := booking("b-1", f.clock.Now(), f.clock.Now().Add(10*time.Minute))
	require.NoError(t, f.machine.StartBooking(ctx, b))

	snap := f.machine.Snapshot()
	assert.True(t, snap.IsRecording)
	assert.Equal(t, models.StateRecording, snap.State)
	assert.Equal(t, "b-1", snap.BookingID)
	assert.Equal(t, 0, snap.ConsecutiveFailures)

	assert.Equal(t, statusUpdate{"b-1", models.StatusRecording, ""}, f.status.last(t))
	assert.Equal(t, 1, f.driver.openCalls)
	assert.Equal(t, 1, f.driver.startCalls)
}

func TestSingleActiveSessionPerCamera(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := f.clock.Now()
	require.NoError(t, f.machine.StartBooking(ctx, booking("b-1", now, now.Add(time.Hour))))

	err := f.machine.StartBooking(ctx, booking("b-2", now, now.Add(30*time.Minute)))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, f.driver.openCalls, "second booking must never touch the hardware")

	// Re-feeding the active booking is a no-op, not a conflict.
	assert.NoError(t, f.machine.StartBooking(ctx, booking("b-1", now, now.Add(time.Hour))))
	assert.Equal(t, 1, f.driver.openCalls)
}

func TestActiveBookingExposesWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok := f.machine.ActiveBooking()
	assert.False(t, ok)

	now := f.clock.Now()
	b := booking("b-1", now, now.Add(time.Hour))
	require.NoError(t, f.machine.StartBooking(ctx, b))

	active, ok := f.machine.ActiveBooking()
	require.True(t, ok)
	assert.Equal(t, "b-1", active.ID)
	assert.True(t, active.StartsAt.Equal(b.StartsAt))
	assert.True(t, active.EndsAt.Equal(b.EndsAt))
}

func TestStartBookingRejectsElapsedWindow(t *testing.T) {
	f := newFixture(t)

	now := f.clock.Now()
	err := f.machine.StartBooking(context.Background(), booking("b-1", now.Add(-time.Hour), now.Add(-time.Minute)))
	assert.ErrorIs(t, err, ErrWindowElapsed)
	assert.Equal(t, 0, f.driver.openCalls)
	assert.False(t, f.machine.Snapshot().IsRecording)
}

func TestInitFailureFeedsBackoff(t *testing.T) {
	f := newFixture(t)
	f.driver.openErr = errors.New("device busy")
	ctx := context.Background()

	now := f.clock.Now()
	b := booking("b-1", now, now.Add(time.Hour))

	err := f.machine.StartBooking(ctx, b)
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, StageOpen, initErr.Stage)

	snap := f.machine.Snapshot()
	assert.Equal(t, models.StateIdle, snap.State)
	assert.Equal(t, 1, snap.ConsecutiveFailures)

	// Booking is not failed at the source; it stays scheduled for a retry.
	f.status.mu.Lock()
	assert.Empty(t, f.status.updates)
	f.status.mu.Unlock()

	// Next attempt suppressed until the backoff window opens.
	assert.ErrorIs(t, f.machine.StartBooking(ctx, b), ErrRetryBackoff)

	f.clock.Advance(2 * time.Second)
	f.driver.openErr = nil
	require.NoError(t, f.machine.StartBooking(ctx, b))
	assert.Equal(t, 0, f.machine.Snapshot().ConsecutiveFailures, "success resets the counter")
}

func TestTestFrameFailureIsInitFailure(t *testing.T) {
	f := newFixture(t)
	f.driver.testFrame = nil

	now := f.clock.Now()
	err := f.machine.StartBooking(context.Background(), booking("b-1", now, now.Add(time.Hour)))

	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, StageTestFrame, initErr.Stage)
	assert.Equal(t, 1, f.driver.closeCalls, "device released after failed init")
	assert.Equal(t, 0, f.driver.startCalls)
}

func TestFinalizeOnEndTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := f.clock.Now()
	b := booking("b-1", now, now.Add(5*time.Minute))
	require.NoError(t, f.machine.StartBooking(ctx, b))

	// Still inside the window: nothing happens.
	f.clock.Advance(time.Minute)
	f.machine.Tick(ctx)
	assert.True(t, f.machine.Snapshot().IsRecording)

	f.clock.Advance(5 * time.Minute)
	f.machine.Tick(ctx)

	snap := f.machine.Snapshot()
	assert.Equal(t, models.StateIdle, snap.State)
	assert.False(t, snap.IsRecording)

	require.Len(t, f.uploader.tasks, 1)
	task := f.uploader.tasks[0]
	assert.Equal(t, "b-1", task.BookingID)
	assert.Equal(t, models.UploadPending, task.Status)
	assert.FileExists(t, task.ArtifactPath)

	assert.Equal(t, statusUpdate{"b-1", models.StatusCompleted, ""}, f.status.last(t))
	assert.Equal(t, 1, f.driver.stopCalls)
	assert.Equal(t, 1, f.driver.closeCalls)
}

func TestCancelFinalizesEarly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := f.clock.Now()
	require.NoError(t, f.machine.StartBooking(ctx, booking("b-1", now, now.Add(time.Hour))))

	// Cancel for an unrelated booking is ignored.
	f.machine.Cancel("b-other")
	f.machine.Tick(ctx)
	assert.True(t, f.machine.Snapshot().IsRecording)

	f.machine.Cancel("b-1")
	f.machine.Tick(ctx)

	assert.False(t, f.machine.Snapshot().IsRecording)
	require.Len(t, f.uploader.tasks, 1, "canceled recording still preserves the artifact")

	// No completed status: cancellation came from the source.
	assert.Equal(t, statusUpdate{"b-1", models.StatusRecording, ""}, f.status.last(t))
}

func TestEmptyArtifactNotEnqueued(t *testing.T) {
	f := newFixture(t)
	f.driver.writeOnStart = nil // driver produces no file
	ctx := context.Background()

	now := f.clock.Now()
	require.NoError(t, f.machine.StartBooking(ctx, booking("b-1", now, now.Add(time.Minute))))

	f.clock.Advance(2 * time.Minute)
	f.machine.Tick(ctx)

	assert.Empty(t, f.uploader.tasks)
	assert.Equal(t, statusUpdate{"b-1", models.StatusFailed, models.ReasonEmptyArtifact}, f.status.last(t))
	assert.Equal(t, models.StateIdle, f.machine.Snapshot().State)
}

func TestFinalizeExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := f.clock.Now()
	require.NoError(t, f.machine.StartBooking(ctx, booking("b-1", now, now.Add(time.Minute))))

	f.clock.Advance(2 * time.Minute)
	f.machine.Tick(ctx)
	f.machine.Tick(ctx)
	f.machine.Tick(ctx)

	assert.Len(t, f.uploader.tasks, 1)
	assert.Equal(t, 1, f.driver.stopCalls)
}

func TestArtifactPathLayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := f.clock.Now()
	require.NoError(t, f.machine.StartBooking(ctx, booking("b-1", now, now.Add(time.Minute))))

	f.clock.Advance(2 * time.Minute)
	f.machine.Tick(ctx)

	require.Len(t, f.uploader.tasks, 1)
	dir := filepath.Dir(f.uploader.tasks[0].ArtifactPath)
	assert.Equal(t, "cam-1", filepath.Base(dir))
}
