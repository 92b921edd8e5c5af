package status

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"camrec/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotter struct {
	snap models.CameraSnapshot
}

func (f *fakeSnapshotter) Snapshot() models.CameraSnapshot { return f.snap }

type fakeCounter struct {
	pending, failed, uploaded int
	err                       error
}

func (f *fakeCounter) Counts(ctx context.Context) (int, int, int, error) {
	return f.pending, f.failed, f.uploaded, f.err
}

type fakeRecCounter struct {
	total int
}

func (f *fakeRecCounter) CountRecordings(ctx context.Context) (int, error) { return f.total, nil }

type captureSink struct {
	snaps []models.StatusSnapshot
	err   error
}

func (c *captureSink) Publish(ctx context.Context, snap models.StatusSnapshot) error {
	c.snaps = append(c.snaps, snap)
	return c.err
}

func testReporterLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func TestReportCollectsAllSources(t *testing.T) {
	now := time.Date(2025, 6, 25, 14, 0, 0, 0, time.UTC)
	cams := []CameraSnapshotter{
		&fakeSnapshotter{snap: models.CameraSnapshot{CameraID: "cam0", State: models.StateRecording, IsRecording: true, BookingID: "b-1"}},
		&fakeSnapshotter{snap: models.CameraSnapshot{CameraID: "cam1", State: models.StateIdle}},
	}
	sink := &captureSink{}
	logger := testReporterLogger()
	r := NewReporter("dev-1", cams, &fakeCounter{pending: 2, failed: 1, uploaded: 7}, &fakeRecCounter{total: 9}, sink, time.Second, &logger,
		WithReporterClock(func() time.Time { return now }))

	r.RecordError()
	r.Report(context.Background())

	require.Len(t, sink.snaps, 1)
	snap := sink.snaps[0]
	assert.Equal(t, "dev-1", snap.DeviceID)
	require.Len(t, snap.Cameras, 2)
	assert.True(t, snap.Cameras[0].IsRecording)
	assert.Equal(t, "b-1", snap.Cameras[0].BookingID)
	assert.Equal(t, 2, snap.PendingUploads)
	assert.Equal(t, 1, snap.FailedUploads)
	assert.Equal(t, int64(7), snap.SuccessfulUploads)
	assert.Equal(t, int64(9), snap.TotalRecordings)
	assert.Equal(t, int64(1), snap.ErrorsCount)
	assert.True(t, snap.UpdatedAt.Equal(now))
}

func TestReportSurvivesCounterError(t *testing.T) {
	sink := &captureSink{}
	logger := testReporterLogger()
	r := NewReporter("dev-1", nil, &fakeCounter{err: errors.New("db closed")}, nil, sink, time.Second, &logger)

	r.Report(context.Background())

	require.Len(t, sink.snaps, 1)
	assert.Equal(t, 0, sink.snaps[0].PendingUploads)
}

func TestReportSurvivesSinkError(t *testing.T) {
	sink := &captureSink{err: errors.New("broker down")}
	logger := testReporterLogger()
	r := NewReporter("dev-1", nil, nil, nil, sink, time.Second, &logger)

	// Must not panic; the next beat simply replaces the lost one.
	r.Report(context.Background())
	r.Report(context.Background())

	assert.Len(t, sink.snaps, 2)
}
