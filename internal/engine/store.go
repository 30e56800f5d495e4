package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mkravets/studyroom-reservations/internal/availability"
	"github.com/mkravets/studyroom-reservations/internal/domain"
)

// Store is the persistence boundary. Implementations provide atomic per-key
// read-modify-write; transient failures are retried below this interface,
// not by the lifecycle logic.
type Store interface {
	CreateReservation(ctx context.Context, res domain.Reservation) error
	GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error)
	UpdateReservation(ctx context.Context, res domain.Reservation) error
	ListUserReservations(ctx context.Context, userID uuid.UUID) ([]domain.Reservation, error)

	// ListCommitted returns the intervals of all non-terminal reservations,
	// used to rebuild the availability index on boot.
	ListCommitted(ctx context.Context) ([]availability.Entry, error)

	// ListNoShowCandidates returns confirmed reservations whose interval
	// started at or before cutoff.
	ListNoShowCandidates(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	CreateSession(ctx context.Context, sess domain.CheckinSession) error
	GetSessionByReservation(ctx context.Context, reservationID uuid.UUID) (domain.CheckinSession, error)
	UpdateSession(ctx context.Context, sess domain.CheckinSession) error

	// InsertCreditAdjustment appends a credit log entry. It reports false when
	// an adjustment for the same reservation already exists, which is the
	// at-most-once guard for terminal side effects.
	InsertCreditAdjustment(ctx context.Context, adj domain.CreditAdjustment) (bool, error)
}

// Catalog is the external room/seat service. The engine reads seat identity
// and flips status as a session side effect; it owns no seat metadata.
type Catalog interface {
	GetSeat(ctx context.Context, roomID, seatID uuid.UUID) (domain.SeatInfo, error)
	SetSeatStatus(ctx context.Context, seatID uuid.UUID, status domain.SeatStatus) error
}

// Emitter publishes lifecycle events. Publish failures must not fail the
// transition; callers log and continue.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload map[string]interface{}) error
}
