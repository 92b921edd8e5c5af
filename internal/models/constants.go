package models

// Booking statuses as written back to the booking source. Transitions are
// monotonic: scheduled -> recording -> completed, or scheduled/recording ->
// failed/canceled. Terminal: completed, failed, canceled.
const (
	StatusScheduled = "scheduled"
	StatusRecording = "recording"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Failure reasons persisted alongside StatusFailed.
const (
	ReasonConflict      = "conflict"
	ReasonInvalid       = "invalid"
	ReasonExpired       = "expired"
	ReasonInitFailed    = "init_failed"
	ReasonEmptyArtifact = "empty_artifact"
)

// Upload task statuses.
const (
	UploadPending   = "pending"
	UploadUploading = "uploading"
	UploadUploaded  = "uploaded"
	UploadFailed    = "permanently_failed"
)

const (
	// UploadQueueSize размер очереди задач загрузки
	UploadQueueSize = 128

	// DefaultMaxUploadAttempts потолок попыток загрузки одного артефакта
	DefaultMaxUploadAttempts = 3

	// DefaultUploadWorkers количество воркеров загрузки
	DefaultUploadWorkers = 1

	// DefaultBackoffCapSeconds максимальная задержка повторной инициализации камеры
	DefaultBackoffCapSeconds = 30
)
