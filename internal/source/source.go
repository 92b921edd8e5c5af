package source

import (
	"context"
	"errors"
	"time"

	"camrec/internal/models"
)

// ErrSourceUnavailable wraps transient booking-source failures. The poller
// treats it as "skip this cycle", never as fatal.
var ErrSourceUnavailable = errors.New("booking source unavailable")

// Source is the booking backend as seen by the orchestrator.
type Source interface {
	// FetchScheduled returns scheduled bookings for the given cameras whose
	// date falls inside [from, until).
	FetchScheduled(ctx context.Context, cameraIDs []string, from, until time.Time) ([]models.RawBooking, error)

	// FetchStatus returns the current source-side status of one booking,
	// used to observe external cancellation.
	FetchStatus(ctx context.Context, bookingID string) (string, error)

	// UpdateStatus writes a status transition back, with an optional
	// failure reason.
	UpdateStatus(ctx context.Context, bookingID, status, reason string) error
}
