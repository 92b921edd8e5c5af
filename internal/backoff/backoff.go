package backoff

import (
	"sync"
	"time"
)

// failureState tracks one camera's initialization failures.
type failureState struct {
	consecutiveFailures int
	nextRetryAt         time.Time
}

// Controller keeps per-camera exponential backoff state for camera
// initialization failures. Delays double from 2s up to the cap
// (2, 4, 8, 16, 30, 30, ... with the default 30s cap). All methods are
// timestamp-based; the controller never sleeps.
type Controller struct {
	mu           sync.Mutex
	cameras      map[string]*failureState
	initialDelay time.Duration
	cap          time.Duration
	now          func() time.Time
}

// Option mutates a Controller during construction.
type Option func(*Controller)

// WithClock injects a clock, used by tests to avoid real delays.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithCap overrides the maximum delay.
func WithCap(cap time.Duration) Option {
	return func(c *Controller) { c.cap = cap }
}

func NewController(opts ...Option) *Controller {
	c := &Controller{
		cameras:      make(map[string]*failureState),
		initialDelay: 2 * time.Second,
		cap:          30 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordFailure increments the camera's failure counter and schedules the
// next allowed attempt. Returns the applied delay.
func (c *Controller) RecordFailure(cameraID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.cameras[cameraID]
	if !ok {
		state = &failureState{}
		c.cameras[cameraID] = state
	}

	delay := c.delayFor(state.consecutiveFailures)
	state.consecutiveFailures++
	state.nextRetryAt = c.now().Add(delay)
	return delay
}

// RecordSuccess resets the camera's failure bookkeeping.
func (c *Controller) RecordSuccess(cameraID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cameras, cameraID)
}

// MayAttempt reports whether an initialization attempt is allowed at now.
// Pure query: no side effects, no blocking.
func (c *Controller) MayAttempt(cameraID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.cameras[cameraID]
	if !ok {
		return true
	}
	return !now.Before(state.nextRetryAt)
}

// Failures returns the camera's consecutive failure count.
func (c *Controller) Failures(cameraID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.cameras[cameraID]
	if !ok {
		return 0
	}
	return state.consecutiveFailures
}

// delayFor indexes the delay sequence by prior failure count (0-based).
func (c *Controller) delayFor(failures int) time.Duration {
	delay := c.initialDelay
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= c.cap {
			return c.cap
		}
	}
	if delay > c.cap {
		return c.cap
	}
	return delay
}
