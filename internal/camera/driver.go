package camera

import (
	"context"
	"fmt"
)

// Init stages reported by InitError.
const (
	StageOpen      = "open"
	StageConfigure = "configure"
	StageStart     = "start"
	StageTestFrame = "test_frame"
)

// InitError is a structured camera initialization failure: which stage of
// the open/configure/start/test-frame sequence failed, and why.
type InitError struct {
	CameraID string
	Stage    string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("camera %s init failed at %s: %v", e.CameraID, e.Stage, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Driver is the hardware adapter for one physical camera. Implementations
// must return structured failure reasons, never bare booleans. Blocking
// calls take a context so a hung device cannot stall the machine loop.
type Driver interface {
	// Open acquires the device.
	Open(ctx context.Context) error

	// Configure applies capture geometry. Called after Open, before Start.
	Configure(width, height, fps int) error

	// Start begins capturing to the given artifact path.
	Start(ctx context.Context, artifactPath string) error

	// CaptureTestFrame grabs one frame to confirm the device actually
	// produces data, not merely that it opened.
	CaptureTestFrame(ctx context.Context) ([]byte, error)

	// Stop ends capture and flushes the artifact file.
	Stop(ctx context.Context) error

	// Close releases the device.
	Close() error
}
