package status

import (
	"context"

	"github.com/rs/zerolog"

	"camrec/internal/models"
)

// Sink receives periodic status snapshots. Publishing is best effort; a
// failing sink never disturbs recording.
type Sink interface {
	Publish(ctx context.Context, snap models.StatusSnapshot) error
}

// LogSink writes snapshots to the structured log. Used when no broker is
// configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger *zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "status").Logger()}
}

func (s *LogSink) Publish(ctx context.Context, snap models.StatusSnapshot) error {
	recording := 0
	for _, cam := range snap.Cameras {
		if cam.IsRecording {
			recording++
		}
	}
	s.logger.Debug().
		Str("device_id", snap.DeviceID).
		Int("cameras", len(snap.Cameras)).
		Int("recording", recording).
		Int("pending_uploads", snap.PendingUploads).
		Int("failed_uploads", snap.FailedUploads).
		Msg("status snapshot")
	return nil
}
