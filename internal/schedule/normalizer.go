package schedule

import (
	"errors"
	"fmt"
	"time"

	"camrec/internal/models"
)

var (
	// ErrInvalidTimeFormat means a time field matched neither the bare
	// "HH:MM[:SS]" form nor a full offset-aware timestamp.
	ErrInvalidTimeFormat = errors.New("invalid time format")

	// ErrEmptyWindow means the normalized window has non-positive duration.
	ErrEmptyWindow = errors.New("booking window end is not after start")
)

// Normalizer converts raw booking time representations into absolute
// instants in a fixed reference timezone. The timezone is configured, not
// inferred from the environment.
type Normalizer struct {
	loc *time.Location
}

func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Normalize validates a raw booking and produces the typed form every
// downstream component operates on. Errors are local to the one booking.
func (n *Normalizer) Normalize(raw models.RawBooking) (models.Booking, error) {
	start, err := n.resolveInstant(raw.Date, raw.StartTime)
	if err != nil {
		return models.Booking{}, fmt.Errorf("booking %s start_time: %w", raw.ID, err)
	}

	end, err := n.resolveInstant(raw.Date, raw.EndTime)
	if err != nil {
		return models.Booking{}, fmt.Errorf("booking %s end_time: %w", raw.ID, err)
	}

	if !end.After(start) {
		return models.Booking{}, fmt.Errorf("booking %s: %w", raw.ID, ErrEmptyWindow)
	}

	return models.Booking{
		ID:       raw.ID,
		CameraID: raw.CameraID,
		UserID:   raw.UserID,
		StartsAt: start,
		EndsAt:   end,
		Status:   raw.Status,
	}, nil
}

// resolveInstant accepts either a bare local time combined with date, or a
// full timestamp with an explicit offset (date ignored in that case).
func (n *Normalizer) resolveInstant(date, value string) (time.Time, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if _, err := time.Parse(layout, value); err == nil {
			combined, err := time.ParseInLocation("2006-01-02 "+layout, date+" "+value, n.loc)
			if err != nil {
				return time.Time{}, fmt.Errorf("%w: date %q with time %q", ErrInvalidTimeFormat, date, value)
			}
			return combined, nil
		}
	}

	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, value)
}
