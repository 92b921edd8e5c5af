package models

import "time"

// RawBooking is the booking row exactly as the source backend stores it.
// StartTime/EndTime are either bare local times ("HH:MM" or "HH:MM:SS")
// that combine with Date, or full timestamps with an explicit offset.
// Only the normalizer may consume this type.
type RawBooking struct {
	ID        string `json:"id"`
	CameraID  string `json:"camera_id"`
	UserID    string `json:"user_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status"`
}

// Booking is the validated, normalized booking every downstream component
// operates on. StartsAt/EndsAt are absolute instants.
type Booking struct {
	ID       string    `json:"id"`
	CameraID string    `json:"camera_id"`
	UserID   string    `json:"user_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Status   string    `json:"status"`
}

func (b Booking) Duration() time.Duration {
	return b.EndsAt.Sub(b.StartsAt)
}

// Due reports whether the booking window has opened at t.
func (b Booking) Due(t time.Time) bool {
	return !t.Before(b.StartsAt)
}

// Expired reports whether the booking window has fully elapsed at t.
func (b Booking) Expired(t time.Time) bool {
	return !t.Before(b.EndsAt)
}

// Overlaps reports whether two bookings' windows intersect.
func (b Booking) Overlaps(other Booking) bool {
	return b.StartsAt.Before(other.EndsAt) && other.StartsAt.Before(b.EndsAt)
}
