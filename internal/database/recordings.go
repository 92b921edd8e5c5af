package database

import (
	"context"
	"fmt"
	"time"

	"camrec/internal/models"
)

func (db *DB) CreateRecording(ctx context.Context, rec *models.Recording) error {
	query := `INSERT INTO recordings (booking_id, camera_id, path, started_at)
              VALUES (?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query, rec.BookingID, rec.CameraID, rec.Path, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

func (db *DB) FinishRecording(ctx context.Context, bookingID string, finishedAt time.Time, fileSize int64) error {
	query := `UPDATE recordings SET finished_at = ?, file_size = ? WHERE booking_id = ?`
	_, err := db.ExecContext(ctx, query, finishedAt, fileSize, bookingID)
	if err != nil {
		return fmt.Errorf("failed to finish recording: %w", err)
	}
	return nil
}

// CountRecordings returns the total number of recordings ever started.
func (db *DB) CountRecordings(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recordings`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count recordings: %w", err)
	}
	return n, nil
}
