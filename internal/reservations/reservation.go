// Package reservations creates and cancels bookings atomically across the
// relational store and the external calendar.
package reservations

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	// ErrSlotTaken is returned when the slot's capacity is already consumed.
	ErrSlotTaken = errors.New("reservations: slot already taken")
	// ErrNotFound is returned for unknown reservation codes.
	ErrNotFound = errors.New("reservations: not found")
	// ErrForbidden is returned when the requesting phone does not own the reservation.
	ErrForbidden = errors.New("reservations: phone does not match")
	// ErrNotActive is returned when cancelling a completed reservation.
	ErrNotActive = errors.New("reservations: reservation is not active")
	// ErrInvalidRequest is returned for create requests missing required data.
	ErrInvalidRequest = errors.New("reservations: invalid request")

	errCodeCollision = errors.New("reservations: code collision")
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Reservation is a booking record. Start is stored in UTC.
type Reservation struct {
	ID              int64
	Code            string
	TenantID        int64
	TenantName      string
	ServiceID       int64
	ServiceName     string
	EmployeeID      *int64
	EmployeeName    string
	CalendarID      string
	EventID         string
	ClientName      string
	ClientPhone     string
	Start           time.Time
	DurationMinutes int
	PartySize       int
	Status          Status
	CreatedAt       time.Time
}

// End returns the end of the booked interval.
func (r Reservation) End() time.Time {
	return r.Start.Add(time.Duration(r.DurationMinutes) * time.Minute)
}

// IsPast reports whether the booking has started before now.
func (r Reservation) IsPast(now time.Time) bool {
	return !r.Start.After(now)
}

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// CodeLength is the number of characters in a reservation code.
	CodeLength = 6
)

var alphabetSize = big.NewInt(int64(len(codeAlphabet)))

// NewCode returns a uniformly random code over [A-Z0-9]{6}.
func NewCode() (string, error) {
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("reservations: generate code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// IsCode reports whether s has the shape of a reservation code.
func IsCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
