package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"camrec/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrBookingNotFound means the booking row no longer exists at the source.
var ErrBookingNotFound = errors.New("booking not found")

// PostgresSource reads and writes the bookings table over a pgx pool.
// Every call is bounded by the configured timeout so a hung network call
// cannot stall the poller loop.
type PostgresSource struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewPostgresSource(ctx context.Context, dsn string, timeout time.Duration, logger *zerolog.Logger) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create booking source pool: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping booking source: %w", err)
	}
	return &PostgresSource{pool: pool, timeout: timeout, logger: logger}, nil
}

func (s *PostgresSource) Close() {
	s.pool.Close()
}

func (s *PostgresSource) FetchScheduled(ctx context.Context, cameraIDs []string, from, until time.Time) ([]models.RawBooking, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT id, camera_id, user_id, date, start_time, end_time, status
              FROM bookings
              WHERE camera_id = ANY($1) AND status = $2 AND date >= $3 AND date < $4
              ORDER BY date, start_time`

	rows, err := s.pool.Query(ctx, query,
		cameraIDs,
		models.StatusScheduled,
		from.Format("2006-01-02"),
		until.AddDate(0, 0, 1).Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch scheduled bookings: %v", ErrSourceUnavailable, err)
	}
	defer rows.Close()

	var bookings []models.RawBooking
	for rows.Next() {
		var b models.RawBooking
		if err := rows.Scan(&b.ID, &b.CameraID, &b.UserID, &b.Date, &b.StartTime, &b.EndTime, &b.Status); err != nil {
			return nil, fmt.Errorf("scan booking row: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read booking rows: %v", ErrSourceUnavailable, err)
	}

	return bookings, nil
}

func (s *PostgresSource) FetchStatus(ctx context.Context, bookingID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, bookingID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrBookingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: fetch booking status: %v", ErrSourceUnavailable, err)
	}
	return status, nil
}

func (s *PostgresSource) UpdateStatus(ctx context.Context, bookingID, status, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET status = $2, failure_reason = NULLIF($3, ''), updated_at = now() WHERE id = $1`,
		bookingID, status, reason,
	)
	if err != nil {
		return fmt.Errorf("%w: update booking %s status: %v", ErrSourceUnavailable, bookingID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}

	s.logger.Debug().Str("booking_id", bookingID).Str("status", status).Str("reason", reason).Msg("booking status updated")
	return nil
}
