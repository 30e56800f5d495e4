package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/mkravets/studyroom-reservations/internal/availability"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/mkravets/studyroom-reservations/internal/observability"
)

// SignOutResult is what closing a session produced.
type SignOutResult struct {
	Session domain.CheckinSession
	Fee     float64
	// Credit is nil when no adjustment was due or one was already applied.
	Credit *domain.CreditAdjustment
}

// SignIn opens the check-in session for a confirmed reservation. Accepted
// only inside [start−grace, end]; a cancellation that won the race leaves the
// reservation out of the confirmed state and the sign-in observes
// ErrInvalidTransition.
func (s *Service) SignIn(ctx context.Context, reservationID uuid.UUID, actor Actor) (domain.CheckinSession, error) {
	unlock := s.resLocks.lock(reservationID)
	defer unlock()

	res, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return domain.CheckinSession{}, err
	}
	if !actor.mayAct(res) {
		return domain.CheckinSession{}, domain.ErrPermissionDenied
	}
	if res.Status != domain.ReservationConfirmed {
		return domain.CheckinSession{}, errors.Wrapf(domain.ErrInvalidTransition, "sign-in from %s", res.Status)
	}

	now := s.clock.Now()
	if now.Before(res.Interval.Start.Add(-s.pol.SignInGrace)) {
		return domain.CheckinSession{}, errors.Wrap(domain.ErrExpiredGraceWindow, "too early")
	}
	if now.After(res.Interval.End) {
		return domain.CheckinSession{}, errors.Wrap(domain.ErrExpiredGraceWindow, "too late")
	}

	sess := domain.NewCheckinSession(res.ID, now)
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return domain.CheckinSession{}, err
	}
	res.Status = domain.ReservationActive
	if err := s.store.UpdateReservation(ctx, res); err != nil {
		return domain.CheckinSession{}, err
	}
	if err := s.catalog.SetSeatStatus(ctx, res.SeatID, domain.SeatOccupied); err != nil {
		s.logger.WithError(err).WithField("seat_id", res.SeatID).Warn("seat status update failed")
	}

	observability.TransitionsTotal.WithLabelValues(string(domain.SessionCheckedIn)).Inc()
	s.emit(ctx, "session.checked_in", map[string]interface{}{
		"reservation_id": res.ID,
		"session_id":     sess.ID,
		"sign_in_time":   sess.SignInTime,
	})
	return sess, nil
}

// Leave marks a temporary absence.
func (s *Service) Leave(ctx context.Context, reservationID uuid.UUID, actor Actor) (domain.CheckinSession, error) {
	unlock := s.resLocks.lock(reservationID)
	defer unlock()

	res, sess, err := s.activeSession(ctx, reservationID, actor)
	if err != nil {
		return domain.CheckinSession{}, err
	}
	if sess.State != domain.SessionCheckedIn {
		return domain.CheckinSession{}, errors.Wrapf(domain.ErrInvalidTransition, "leave from %s", sess.State)
	}

	sess.State = domain.SessionOnLeave
	sess.LeaveStart = s.clock.Now()
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return domain.CheckinSession{}, err
	}

	observability.TransitionsTotal.WithLabelValues(string(domain.SessionOnLeave)).Inc()
	s.emit(ctx, "session.on_leave", map[string]interface{}{
		"reservation_id": res.ID,
		"session_id":     sess.ID,
	})
	return sess, nil
}

// Return ends a temporary absence and accumulates its duration. A leave
// longer than the configured maximum is an implicit sign-out: the session is
// closed with the whole leave excluded from the effective duration and the
// return itself is rejected.
func (s *Service) Return(ctx context.Context, reservationID uuid.UUID, actor Actor) (domain.CheckinSession, error) {
	unlock := s.resLocks.lock(reservationID)
	defer unlock()

	res, sess, err := s.activeSession(ctx, reservationID, actor)
	if err != nil {
		return domain.CheckinSession{}, err
	}
	if sess.State != domain.SessionOnLeave {
		return domain.CheckinSession{}, errors.Wrapf(domain.ErrInvalidTransition, "return from %s", sess.State)
	}

	now := s.clock.Now()
	elapsed := now.Sub(sess.LeaveStart)
	if elapsed > s.pol.MaxLeave {
		sess.LeaveTotal += elapsed
		if _, err := s.closeSession(ctx, res, sess, now); err != nil {
			return domain.CheckinSession{}, err
		}
		return domain.CheckinSession{}, errors.Wrapf(domain.ErrInvalidTransition, "leave exceeded %s, session signed out", s.pol.MaxLeave)
	}

	sess.LeaveTotal += elapsed
	sess.LeaveStart = time.Time{}
	sess.State = domain.SessionCheckedIn
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return domain.CheckinSession{}, err
	}

	observability.TransitionsTotal.WithLabelValues(string(domain.SessionCheckedIn)).Inc()
	s.emit(ctx, "session.returned", map[string]interface{}{
		"reservation_id": res.ID,
		"session_id":     sess.ID,
		"leave_total":    sess.LeaveTotal.String(),
	})
	return sess, nil
}

// SignOut closes the session, prices the effective occupied duration and
// completes the reservation. Fee and credit are applied at most once per
// reservation; the credit log's reservation-id key guards replays.
func (s *Service) SignOut(ctx context.Context, reservationID uuid.UUID, actor Actor) (SignOutResult, error) {
	unlock := s.resLocks.lock(reservationID)
	defer unlock()

	res, sess, err := s.activeSession(ctx, reservationID, actor)
	if err != nil {
		return SignOutResult{}, err
	}

	now := s.clock.Now()
	switch sess.State {
	case domain.SessionCheckedIn:
	case domain.SessionOnLeave:
		sess.LeaveTotal += now.Sub(sess.LeaveStart)
	default:
		return SignOutResult{}, errors.Wrapf(domain.ErrInvalidTransition, "sign-out from %s", sess.State)
	}

	return s.closeSession(ctx, res, sess, now)
}

// CurrentSession returns the check-in session of a reservation.
func (s *Service) CurrentSession(ctx context.Context, reservationID uuid.UUID, actor Actor) (domain.CheckinSession, error) {
	res, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return domain.CheckinSession{}, err
	}
	if !actor.mayAct(res) {
		return domain.CheckinSession{}, domain.ErrPermissionDenied
	}
	return s.store.GetSessionByReservation(ctx, reservationID)
}

func (s *Service) activeSession(ctx context.Context, reservationID uuid.UUID, actor Actor) (domain.Reservation, domain.CheckinSession, error) {
	res, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return domain.Reservation{}, domain.CheckinSession{}, err
	}
	if !actor.mayAct(res) {
		return domain.Reservation{}, domain.CheckinSession{}, domain.ErrPermissionDenied
	}
	if res.Status != domain.ReservationActive {
		return domain.Reservation{}, domain.CheckinSession{}, errors.Wrapf(domain.ErrInvalidTransition, "reservation is %s", res.Status)
	}
	sess, err := s.store.GetSessionByReservation(ctx, reservationID)
	if err != nil {
		return domain.Reservation{}, domain.CheckinSession{}, err
	}
	return res, sess, nil
}

// closeSession is the single terminal path for an active session. Caller
// holds the reservation lock and has already folded any open leave into
// LeaveTotal.
func (s *Service) closeSession(ctx context.Context, res domain.Reservation, sess domain.CheckinSession, now time.Time) (SignOutResult, error) {
	sess.State = domain.SessionCheckedOut
	sess.SignOutTime = now
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return SignOutResult{}, err
	}

	fee := domain.ComputeFee(sess.EffectiveDuration(), s.pol.Rates)
	res.Fee = &fee
	res.Status = domain.ReservationCompleted
	if err := s.store.UpdateReservation(ctx, res); err != nil {
		return SignOutResult{}, err
	}
	s.index.Release(availability.SeatKey{RoomID: res.RoomID, SeatID: res.SeatID}, res.ID)
	if err := s.catalog.SetSeatStatus(ctx, res.SeatID, domain.SeatAvailable); err != nil {
		s.logger.WithError(err).WithField("seat_id", res.SeatID).Warn("seat status update failed")
	}

	result := SignOutResult{Session: sess, Fee: fee}
	if adj := domain.ComputeCreditDelta(res, sess, s.pol.Credit, s.pol.SignInGrace); adj != nil {
		applied, err := s.store.InsertCreditAdjustment(ctx, *adj)
		if err != nil {
			return SignOutResult{}, err
		}
		if applied {
			result.Credit = adj
			s.emit(ctx, "credit.adjusted", map[string]interface{}{
				"user_id":        adj.UserID,
				"reservation_id": adj.ReservationID,
				"delta":          adj.Delta,
				"reason":         adj.Reason,
			})
		}
	}

	observability.TransitionsTotal.WithLabelValues(string(domain.ReservationCompleted)).Inc()
	s.emit(ctx, "session.checked_out", map[string]interface{}{
		"reservation_id": res.ID,
		"session_id":     sess.ID,
		"effective":      sess.EffectiveDuration().String(),
		"fee":            fee,
	})
	return result, nil
}
