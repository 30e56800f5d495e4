package engine

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/mkravets/studyroom-reservations/internal/availability"
	"github.com/mkravets/studyroom-reservations/internal/clock"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/mkravets/studyroom-reservations/internal/observability"
)

// Policies are the tunable grace windows and rate tables of the lifecycle.
type Policies struct {
	SignInGrace  time.Duration
	NoShowGrace  time.Duration
	CancelCutoff time.Duration
	MaxLeave     time.Duration
	Rates        domain.RateSchedule
	Credit       domain.CreditPolicy
}

func DefaultPolicies() Policies {
	return Policies{
		SignInGrace:  10 * time.Minute,
		NoShowGrace:  15 * time.Minute,
		CancelCutoff: 30 * time.Minute,
		MaxLeave:     30 * time.Minute,
		Rates:        domain.DefaultRateSchedule(),
		Credit:       domain.DefaultCreditPolicy(),
	}
}

// Actor is the resolved identity of the caller. Identity verification is the
// user service's job; the engine only checks ownership.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

func (a Actor) Admin() bool {
	return a.Role == "admin"
}

func (a Actor) mayAct(res domain.Reservation) bool {
	return a.Admin() || a.UserID == res.UserID
}

// Service is the reservation-and-attendance engine: the single source of
// truth for reservation state, check-in sessions and their fee and credit
// side effects.
type Service struct {
	store   Store
	index   *availability.Index
	catalog Catalog
	emitter Emitter
	clock   clock.Clock
	logger  observability.Logger
	pol     Policies

	resLocks *keyedMutex
}

func NewService(store Store, index *availability.Index, catalog Catalog, emitter Emitter, clk clock.Clock, logger observability.Logger, pol Policies) *Service {
	return &Service{
		store:    store,
		index:    index,
		catalog:  catalog,
		emitter:  emitter,
		clock:    clk,
		logger:   logger,
		pol:      pol,
		resLocks: newKeyedMutex(),
	}
}

// LoadIndex rebuilds the availability index from the store's committed
// intervals. Called once on boot before serving traffic.
func (s *Service) LoadIndex(ctx context.Context) error {
	entries, err := s.store.ListCommitted(ctx)
	if err != nil {
		return errors.Wrap(err, "load committed intervals")
	}
	s.index.Load(entries)
	return nil
}

// CreateReservation books a seat for the interval. The interval is validated,
// the seat resolved against the catalog, and the availability index insert is
// the single serialization point per seat: the loser of a race gets a
// *domain.ConflictError carrying the winning reservation id.
func (s *Service) CreateReservation(ctx context.Context, userID, roomID, seatID uuid.UUID, start, end time.Time) (domain.Reservation, error) {
	now := s.clock.Now()
	interval, err := domain.NewInterval(start, end, now, s.pol.SignInGrace)
	if err != nil {
		observability.ReservationsTotal.WithLabelValues("invalid").Inc()
		return domain.Reservation{}, err
	}

	seat, err := s.catalog.GetSeat(ctx, roomID, seatID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if seat.Status == domain.SeatDisabled {
		return domain.Reservation{}, errors.Wrapf(domain.ErrSeatUnavailable, "seat %s is disabled", seatID)
	}

	res := domain.NewReservation(userID, roomID, seatID, interval, now)
	key := availability.SeatKey{RoomID: roomID, SeatID: seatID}

	if err := s.index.Reserve(key, interval, res.ID); err != nil {
		observability.BookingConflicts.Inc()
		observability.ReservationsTotal.WithLabelValues("conflict").Inc()
		return domain.Reservation{}, err
	}

	res.Status = domain.ReservationConfirmed
	if err := s.store.CreateReservation(ctx, res); err != nil {
		// the reservation never materialized; give the slot back
		s.index.Release(key, res.ID)
		observability.ReservationsTotal.WithLabelValues("error").Inc()
		return domain.Reservation{}, err
	}

	observability.ReservationsTotal.WithLabelValues("confirmed").Inc()
	s.emit(ctx, "reservation.created", map[string]interface{}{
		"reservation_id": res.ID,
		"user_id":        res.UserID,
		"room_id":        res.RoomID,
		"seat_id":        res.SeatID,
		"start":          interval.Start.Format(time.RFC3339),
		"end":            interval.End.Format(time.RFC3339),
	})
	return res, nil
}

// CancelReservation cancels a confirmed reservation. Only the owner or an
// admin may cancel, and only until the cancel cutoff before start. Cancelling
// a terminal or active reservation yields ErrInvalidTransition, also on the
// second of two duplicate cancels.
func (s *Service) CancelReservation(ctx context.Context, id uuid.UUID, actor Actor) (domain.Reservation, error) {
	unlock := s.resLocks.lock(id)
	defer unlock()

	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !actor.mayAct(res) {
		return domain.Reservation{}, domain.ErrPermissionDenied
	}
	if res.Status != domain.ReservationConfirmed {
		return domain.Reservation{}, errors.Wrapf(domain.ErrInvalidTransition, "cancel from %s", res.Status)
	}
	if s.clock.Now().After(res.Interval.Start.Add(-s.pol.CancelCutoff)) {
		return domain.Reservation{}, errors.Wrapf(domain.ErrInvalidTransition, "cancel window closed %s before start", s.pol.CancelCutoff)
	}

	res.Status = domain.ReservationCancelled
	if err := s.store.UpdateReservation(ctx, res); err != nil {
		return domain.Reservation{}, err
	}
	s.index.Release(availability.SeatKey{RoomID: res.RoomID, SeatID: res.SeatID}, res.ID)

	observability.TransitionsTotal.WithLabelValues(string(domain.ReservationCancelled)).Inc()
	s.emit(ctx, "reservation.cancelled", map[string]interface{}{
		"reservation_id": res.ID,
		"user_id":        res.UserID,
	})
	return res, nil
}

func (s *Service) GetReservation(ctx context.Context, id uuid.UUID, actor Actor) (domain.Reservation, error) {
	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	if !actor.mayAct(res) {
		return domain.Reservation{}, domain.ErrPermissionDenied
	}
	return res, nil
}

func (s *Service) ListUserReservations(ctx context.Context, userID uuid.UUID, actor Actor) ([]domain.Reservation, error) {
	if !actor.Admin() && actor.UserID != userID {
		return nil, domain.ErrPermissionDenied
	}
	return s.store.ListUserReservations(ctx, userID)
}

// UpcomingReservations lists a user's not-yet-finished bookings, soonest
// first.
func (s *Service) UpcomingReservations(ctx context.Context, userID uuid.UUID, actor Actor) ([]domain.Reservation, error) {
	list, err := s.ListUserReservations(ctx, userID, actor)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var out []domain.Reservation
	for _, res := range list {
		if res.Status.Terminal() || !res.Interval.End.After(now) {
			continue
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Interval.Start.Before(out[j].Interval.Start)
	})
	return out, nil
}

// CheckAvailability reports whether the interval is free on the seat,
// consistent with the latest committed state.
func (s *Service) CheckAvailability(ctx context.Context, roomID, seatID uuid.UUID, start, end time.Time) (bool, error) {
	interval, err := domain.NewInterval(start, end, s.clock.Now(), s.pol.SignInGrace)
	if err != nil {
		return false, err
	}
	key := availability.SeatKey{RoomID: roomID, SeatID: seatID}
	return s.index.CheckAvailable(key, interval), nil
}

// ReservationFee quotes the fee: the recorded amount for a completed
// reservation, otherwise the scheduled interval priced by the rate table.
func (s *Service) ReservationFee(ctx context.Context, id uuid.UUID, actor Actor) (float64, error) {
	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return 0, err
	}
	if !actor.mayAct(res) {
		return 0, domain.ErrPermissionDenied
	}
	if res.Status == domain.ReservationCompleted && res.Fee != nil {
		return *res.Fee, nil
	}
	return domain.ComputeFee(res.Interval.Duration(), s.pol.Rates), nil
}

func (s *Service) emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, eventType, payload); err != nil {
		s.logger.WithError(err).WithField("event", eventType).Warn("event publish failed")
	}
}
