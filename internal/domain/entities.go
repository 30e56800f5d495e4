package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationCompleted || s == ReservationCancelled
}

// Reservation owns one seat for one TimeInterval. Never mutated after
// reaching a terminal status.
type Reservation struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	RoomID    uuid.UUID
	SeatID    uuid.UUID
	Interval  TimeInterval
	Status    ReservationStatus
	Fee       *float64
	CreatedAt time.Time
}

func NewReservation(userID, roomID, seatID uuid.UUID, interval TimeInterval, now time.Time) Reservation {
	return Reservation{
		ID:        uuid.New(),
		UserID:    userID,
		RoomID:    roomID,
		SeatID:    seatID,
		Interval:  interval,
		Status:    ReservationPending,
		CreatedAt: now,
	}
}

type SessionState string

const (
	SessionNotStarted SessionState = "not_started"
	SessionCheckedIn  SessionState = "checked_in"
	SessionOnLeave    SessionState = "on_leave"
	SessionCheckedOut SessionState = "checked_out"
)

// CheckinSession tracks presence for one active reservation (1:1 by
// reservation id). Archived when the reservation completes.
type CheckinSession struct {
	ID            uuid.UUID
	ReservationID uuid.UUID
	State         SessionState
	SignInTime    time.Time
	SignOutTime   time.Time
	LeaveStart    time.Time
	LeaveTotal    time.Duration
}

func NewCheckinSession(reservationID uuid.UUID, signIn time.Time) CheckinSession {
	return CheckinSession{
		ID:            uuid.New(),
		ReservationID: reservationID,
		State:         SessionCheckedIn,
		SignInTime:    signIn,
	}
}

// EffectiveDuration is occupied time excluding accumulated leave.
func (s CheckinSession) EffectiveDuration() time.Duration {
	d := s.SignOutTime.Sub(s.SignInTime) - s.LeaveTotal
	if d < 0 {
		return 0
	}
	return d
}

// CreditAdjustment is an append-only credit-score log entry. Applied at most
// once per reservation; the store enforces the reservation-id key.
type CreditAdjustment struct {
	UserID        uuid.UUID
	ReservationID uuid.UUID
	Delta         int
	Reason        string
	At            time.Time
}

const (
	CreditReasonFullAttendance = "full_attendance"
	CreditReasonEarlyDeparture = "early_departure"
	CreditReasonNoShow         = "no_show"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatOccupied  SeatStatus = "occupied"
	SeatDisabled  SeatStatus = "disabled"
)

// SeatInfo is the slice of the external catalog the engine reads.
type SeatInfo struct {
	ID     uuid.UUID
	RoomID uuid.UUID
	Number string
	Status SeatStatus
}
