package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInterval      = errors.New("invalid interval")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrExpiredGraceWindow   = errors.New("outside sign-in grace window")
	ErrSeatUnavailable      = errors.New("seat unavailable")
	ErrInvalidInput         = errors.New("invalid input")
)

// ConflictError reports a booking race lost to another committed reservation.
type ConflictError struct {
	ReservationID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("interval conflicts with reservation %s", e.ReservationID)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
