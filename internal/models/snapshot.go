package models

import "time"

// CameraState names the lifecycle state of one camera machine.
type CameraState string

const (
	StateIdle         CameraState = "idle"
	StateInitializing CameraState = "initializing"
	StateRecording    CameraState = "recording"
	StateFinalizing   CameraState = "finalizing"
)

// RecordingSession is the live runtime record of an in-progress recording.
// Owned exclusively by one camera machine; at most one per camera.
type RecordingSession struct {
	BookingID    string      `json:"booking_id"`
	CameraID     string      `json:"camera_id"`
	State        CameraState `json:"state"`
	StartedAt    time.Time   `json:"started_at"`
	ArtifactPath string      `json:"artifact_path"`
}

// CameraSnapshot is a read-only copy of one machine's state, produced for
// the status reporter. Never a reference into machine-owned data.
type CameraSnapshot struct {
	CameraID            string      `json:"camera_id"`
	State               CameraState `json:"state"`
	IsRecording         bool        `json:"is_recording"`
	BookingID           string      `json:"booking_id,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastHeartbeat       time.Time   `json:"last_heartbeat"`
}

// StatusSnapshot is what the reporter publishes to the status sink.
type StatusSnapshot struct {
	DeviceID          string           `json:"device_id"`
	Cameras           []CameraSnapshot `json:"cameras"`
	PendingUploads    int              `json:"pending_uploads"`
	FailedUploads     int              `json:"failed_uploads"`
	TotalRecordings   int64            `json:"total_recordings"`
	SuccessfulUploads int64            `json:"successful_uploads"`
	ErrorsCount       int64            `json:"errors_count"`
	UptimeStart       time.Time        `json:"uptime_start"`
	UpdatedAt         time.Time        `json:"updated_at"`
}
