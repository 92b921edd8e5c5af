package models

import "time"

// UploadTask represents one artifact queued for remote upload.
// BookingID doubles as the idempotency key: a booking must never produce
// two distinct remote artifacts.
type UploadTask struct {
	ID           int64      `json:"id"`
	BookingID    string     `json:"booking_id"`
	CameraID     string     `json:"camera_id"`
	UserID       string     `json:"user_id"`
	ArtifactPath string     `json:"artifact_path"`
	AttemptCount int        `json:"attempt_count"`
	Status       string     `json:"status"`
	RemoteURL    string     `json:"remote_url"`
	LastError    *string    `json:"last_error"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
	NextRetryAt  *time.Time `json:"next_retry_at"`
}

// Recording is the local bookkeeping row written at session start and
// completed at finalize.
type Recording struct {
	ID         int64      `json:"id"`
	BookingID  string     `json:"booking_id"`
	CameraID   string     `json:"camera_id"`
	Path       string     `json:"path"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	FileSize   int64      `json:"file_size"`
}
