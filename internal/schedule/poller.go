package schedule

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"camrec/internal/camera"
	"camrec/internal/models"
	"camrec/internal/source"
)

// CameraMachine is the lifecycle surface the poller drives.
type CameraMachine interface {
	StartBooking(ctx context.Context, b models.Booking) error
	Cancel(bookingID string)
	ActiveBookingID() string
	ActiveBooking() (models.Booking, bool)
}

// Poller periodically pulls scheduled bookings from the source, resolves
// conflicts deterministically and feeds due bookings into the camera
// machines. It also watches active bookings for source-side cancellation.
type Poller struct {
	src        source.Source
	normalizer *Normalizer
	machines   map[string]CameraMachine

	interval  time.Duration
	lookAhead time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

type PollerOption func(*Poller)

// WithPollerClock injects a clock for tests.
func WithPollerClock(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

func NewPoller(
	src source.Source,
	normalizer *Normalizer,
	machines map[string]CameraMachine,
	interval, lookAhead time.Duration,
	logger *zerolog.Logger,
	opts ...PollerOption,
) *Poller {
	p := &Poller{
		src:        src,
		normalizer: normalizer,
		machines:   machines,
		interval:   interval,
		lookAhead:  lookAhead,
		now:        time.Now,
		logger:     logger.With().Str("component", "poller").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is done. A failing cycle is logged and skipped; the
// loop itself never terminates on source errors.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().Dur("interval", p.interval).Msg("booking poller started")
	defer p.logger.Info().Msg("booking poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll executes one scheduling cycle. Exported so tests can drive cycles
// without real time.
func (p *Poller) Poll(ctx context.Context) {
	now := p.now()

	cameraIDs := make([]string, 0, len(p.machines))
	for id := range p.machines {
		cameraIDs = append(cameraIDs, id)
	}
	sort.Strings(cameraIDs)

	// The window reaches back a day so bookings that expired while we were
	// down still get their terminal status.
	raws, err := p.src.FetchScheduled(ctx, cameraIDs, now.Add(-24*time.Hour), now.Add(p.lookAhead))
	if err != nil {
		if errors.Is(err, source.ErrSourceUnavailable) {
			p.logger.Warn().Err(err).Msg("booking source unavailable, skipping cycle")
		} else {
			p.logger.Error().Err(err).Msg("fetch scheduled bookings")
		}
		p.checkCancellations(ctx)
		return
	}

	bookings := p.normalizeAll(ctx, raws)
	accepted := p.resolveConflicts(ctx, bookings)

	for _, b := range accepted {
		p.dispatch(ctx, now, b)
	}

	p.checkCancellations(ctx)
}

// normalizeAll converts raw rows, failing invalid ones at the source. An
// invalid booking never affects its neighbours.
func (p *Poller) normalizeAll(ctx context.Context, raws []models.RawBooking) []models.Booking {
	bookings := make([]models.Booking, 0, len(raws))
	for _, raw := range raws {
		b, err := p.normalizer.Normalize(raw)
		if err != nil {
			p.logger.Warn().Err(err).Str("booking_id", raw.ID).Msg("invalid booking")
			p.markFailed(ctx, raw.ID, models.ReasonInvalid)
			continue
		}
		bookings = append(bookings, b)
	}
	return bookings
}

// resolveConflicts orders bookings by start time and drops any booking that
// overlaps an earlier-starting one on the same camera. Ties break on ID so
// the outcome is stable across cycles.
func (p *Poller) resolveConflicts(ctx context.Context, bookings []models.Booking) []models.Booking {
	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].StartsAt.Equal(bookings[j].StartsAt) {
			return bookings[i].ID < bookings[j].ID
		}
		return bookings[i].StartsAt.Before(bookings[j].StartsAt)
	})

	acceptedPerCamera := make(map[string][]models.Booking)
	accepted := make([]models.Booking, 0, len(bookings))

	for _, b := range bookings {
		conflict := false
		for _, earlier := range acceptedPerCamera[b.CameraID] {
			if b.Overlaps(earlier) {
				conflict = true
				break
			}
		}
		if conflict {
			p.logger.Warn().Str("booking_id", b.ID).Str("camera_id", b.CameraID).Msg("overlapping booking rejected")
			p.markFailed(ctx, b.ID, models.ReasonConflict)
			continue
		}
		acceptedPerCamera[b.CameraID] = append(acceptedPerCamera[b.CameraID], b)
		accepted = append(accepted, b)
	}
	return accepted
}

func (p *Poller) dispatch(ctx context.Context, now time.Time, b models.Booking) {
	machine, ok := p.machines[b.CameraID]
	if !ok {
		p.logger.Warn().Str("booking_id", b.ID).Str("camera_id", b.CameraID).Msg("booking for unknown camera")
		return
	}

	// Let the machine finish an active session on its own; only bookings
	// nobody is recording can expire here.
	if b.Expired(now) {
		if machine.ActiveBookingID() == b.ID {
			return
		}
		p.logger.Warn().Str("booking_id", b.ID).Msg("booking window elapsed before recording")
		p.markFailed(ctx, b.ID, models.ReasonExpired)
		return
	}

	if !b.Due(now) {
		return
	}

	err := machine.StartBooking(ctx, b)
	switch {
	case err == nil:
	case errors.Is(err, camera.ErrRetryBackoff):
		p.logger.Debug().Str("booking_id", b.ID).Msg("camera in backoff window")
	case errors.Is(err, camera.ErrConflict):
		// A booking that overlaps the active session lost the conflict
		// permanently; it must never wait for the camera to free up.
		if active, ok := machine.ActiveBooking(); ok && b.Overlaps(active) {
			p.logger.Warn().Str("booking_id", b.ID).Str("active_id", active.ID).Msg("booking overlaps active recording")
			p.markFailed(ctx, b.ID, models.ReasonConflict)
			return
		}
		p.logger.Debug().Str("booking_id", b.ID).Msg("camera busy")
	case errors.Is(err, camera.ErrWindowElapsed):
		p.markFailed(ctx, b.ID, models.ReasonExpired)
	default:
		// Init failures leave the booking scheduled; the next cycle
		// retries once the backoff window opens.
		p.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("start booking")
	}
}

// checkCancellations observes source-side cancellation of active bookings.
func (p *Poller) checkCancellations(ctx context.Context) {
	for cameraID, machine := range p.machines {
		bookingID := machine.ActiveBookingID()
		if bookingID == "" {
			continue
		}
		status, err := p.src.FetchStatus(ctx, bookingID)
		if err != nil {
			p.logger.Warn().Err(err).Str("booking_id", bookingID).Msg("fetch booking status")
			continue
		}
		if status == models.StatusCanceled {
			p.logger.Info().Str("booking_id", bookingID).Str("camera_id", cameraID).Msg("booking canceled at source")
			machine.Cancel(bookingID)
		}
	}
}

func (p *Poller) markFailed(ctx context.Context, bookingID, reason string) {
	if err := p.src.UpdateStatus(ctx, bookingID, models.StatusFailed, reason); err != nil {
		p.logger.Error().Err(err).Str("booking_id", bookingID).Msg("write failed status")
	}
}
