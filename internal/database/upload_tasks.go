package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"camrec/internal/models"
)

// ErrTaskNotFound means no upload task row matched.
var ErrTaskNotFound = errors.New("upload task not found")

func (db *DB) CreateUploadTask(ctx context.Context, task *models.UploadTask) error {
	query := `INSERT INTO upload_tasks (booking_id, camera_id, user_id, artifact_path, attempt_count, status, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		task.BookingID,
		task.CameraID,
		task.UserID,
		task.ArtifactPath,
		task.AttemptCount,
		task.Status,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create upload task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now

	return nil
}

// GetUploadTaskByBooking looks a task up by its idempotency key.
func (db *DB) GetUploadTaskByBooking(ctx context.Context, bookingID string) (*models.UploadTask, error) {
	query := `SELECT id, booking_id, camera_id, user_id, artifact_path, attempt_count, status, COALESCE(remote_url, ''), last_error, created_at, processed_at, next_retry_at
              FROM upload_tasks WHERE booking_id = ?`

	var t models.UploadTask
	err := db.QueryRowContext(ctx, query, bookingID).Scan(
		&t.ID, &t.BookingID, &t.CameraID, &t.UserID, &t.ArtifactPath, &t.AttemptCount, &t.Status, &t.RemoteURL, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload task: %w", err)
	}
	return &t, nil
}

// GetPendingUploadTasks returns tasks ready for (re)processing. Tasks left
// in 'uploading' belong to a previous process run and are retried too.
func (db *DB) GetPendingUploadTasks(ctx context.Context, limit int) ([]models.UploadTask, error) {
	query := `SELECT id, booking_id, camera_id, user_id, artifact_path, attempt_count, status, COALESCE(remote_url, ''), last_error, created_at, processed_at, next_retry_at
              FROM upload_tasks
              WHERE status IN ('pending', 'uploading') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending upload tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.UploadTask
	for rows.Next() {
		var t models.UploadTask
		err := rows.Scan(
			&t.ID, &t.BookingID, &t.CameraID, &t.UserID, &t.ArtifactPath, &t.AttemptCount, &t.Status, &t.RemoteURL, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (db *DB) UpdateUploadTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	switch status {
	case models.UploadPending:
		// Re-enqueued after a failed attempt.
		query = `UPDATE upload_tasks SET status = ?, last_error = ?, next_retry_at = ?, attempt_count = attempt_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	case models.UploadUploaded, models.UploadFailed:
		query = `UPDATE upload_tasks SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, &now, id}
	default:
		query = `UPDATE upload_tasks SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	}

	_, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update upload task status: %w", err)
	}
	return nil
}

func (db *DB) SetUploadTaskRemoteURL(ctx context.Context, id int64, remoteURL string) error {
	_, err := db.ExecContext(ctx, `UPDATE upload_tasks SET remote_url = ? WHERE id = ?`, remoteURL, id)
	if err != nil {
		return fmt.Errorf("failed to set upload task remote url: %w", err)
	}
	return nil
}

// GetFailedUploadTasks returns the permanently failed tasks, newest first.
func (db *DB) GetFailedUploadTasks(ctx context.Context) ([]models.UploadTask, error) {
	query := `SELECT id, booking_id, camera_id, user_id, artifact_path, attempt_count, status, COALESCE(remote_url, ''), last_error, created_at, processed_at, next_retry_at
              FROM upload_tasks WHERE status = ? ORDER BY created_at DESC`
	rows, err := db.QueryContext(ctx, query, models.UploadFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed upload tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.UploadTask
	for rows.Next() {
		var t models.UploadTask
		err := rows.Scan(
			&t.ID, &t.BookingID, &t.CameraID, &t.UserID, &t.ArtifactPath, &t.AttemptCount, &t.Status, &t.RemoteURL, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// CountUploadTasks returns how many tasks sit in each status.
func (db *DB) CountUploadTasks(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM upload_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count upload tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan upload task count: %w", err)
		}
		counts[status] = n
	}
	return counts, nil
}
