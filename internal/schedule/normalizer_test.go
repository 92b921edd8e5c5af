package schedule

import (
	"testing"
	"time"

	"camrec/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBareLocalTime(t *testing.T) {
	loc := time.FixedZone("UTC-4", -4*60*60)
	n := NewNormalizer(loc)

	booking, err := n.Normalize(models.RawBooking{
		ID:        "b-1",
		CameraID:  "cam-1",
		Date:      "2025-06-25",
		StartTime: "01:02",
		EndTime:   "01:05",
	})
	require.NoError(t, err)

	wantStart := time.Date(2025, 6, 25, 1, 2, 0, 0, loc)
	wantEnd := time.Date(2025, 6, 25, 1, 5, 0, 0, loc)
	assert.True(t, booking.StartsAt.Equal(wantStart), "start: got %v want %v", booking.StartsAt, wantStart)
	assert.True(t, booking.EndsAt.Equal(wantEnd), "end: got %v want %v", booking.EndsAt, wantEnd)
	assert.Equal(t, 3*time.Minute, booking.Duration())
}

func TestNormalizeWithSeconds(t *testing.T) {
	n := NewNormalizer(time.UTC)

	booking, err := n.Normalize(models.RawBooking{
		ID:        "b-1",
		Date:      "2025-06-25",
		StartTime: "14:00:30",
		EndTime:   "15:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, 30, booking.StartsAt.Second())
}

func TestNormalizeOffsetAwareTimestampIgnoresDate(t *testing.T) {
	n := NewNormalizer(time.UTC)

	booking, err := n.Normalize(models.RawBooking{
		ID: "b-1",
		// Deliberately contradictory date: the explicit offset wins.
		Date:      "1999-01-01",
		StartTime: "2025-06-25T01:02:00-04:00",
		EndTime:   "2025-06-25T01:05:00-04:00",
	})
	require.NoError(t, err)

	wantStart := time.Date(2025, 6, 25, 5, 2, 0, 0, time.UTC)
	assert.True(t, booking.StartsAt.Equal(wantStart), "got %v want %v", booking.StartsAt, wantStart)
}

func TestNormalizeInvalidFormat(t *testing.T) {
	n := NewNormalizer(time.UTC)

	cases := []models.RawBooking{
		{ID: "b-1", Date: "2025-06-25", StartTime: "1pm", EndTime: "14:00"},
		{ID: "b-2", Date: "2025-06-25", StartTime: "13:00", EndTime: "soon"},
		{ID: "b-3", Date: "not-a-date", StartTime: "13:00", EndTime: "14:00"},
		{ID: "b-4", Date: "2025-06-25", StartTime: "", EndTime: "14:00"},
	}

	for _, raw := range cases {
		_, err := n.Normalize(raw)
		assert.ErrorIs(t, err, ErrInvalidTimeFormat, "booking %s", raw.ID)
	}
}

func TestNormalizeRejectsEmptyWindow(t *testing.T) {
	n := NewNormalizer(time.UTC)

	for _, tc := range []struct{ start, end string }{
		{"14:00", "14:00"},
		{"14:00", "13:00"},
	} {
		_, err := n.Normalize(models.RawBooking{ID: "b-1", Date: "2025-06-25", StartTime: tc.start, EndTime: tc.end})
		assert.ErrorIs(t, err, ErrEmptyWindow, "%s..%s", tc.start, tc.end)
	}
}

func TestNormalizeMixedForms(t *testing.T) {
	loc := time.FixedZone("UTC-4", -4*60*60)
	n := NewNormalizer(loc)

	booking, err := n.Normalize(models.RawBooking{
		ID:        "b-1",
		Date:      "2025-06-25",
		StartTime: "01:02",
		EndTime:   "2025-06-25T01:05:00-04:00",
	})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, booking.Duration())
}
