package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mkravets/studyroom-reservations/internal/availability"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/mkravets/studyroom-reservations/internal/observability"
	"golang.org/x/sync/errgroup"
)

// ExpireIfNoShow cancels a confirmed reservation whose no-show grace period
// has elapsed without a sign-in, applying the credit penalty exactly once.
// Idempotent: repeat calls, and calls before the grace elapses, return nil.
// The core owns no scheduler; an external tick supplies now.
func (s *Service) ExpireIfNoShow(ctx context.Context, id uuid.UUID, now time.Time) (*domain.CreditAdjustment, error) {
	unlock := s.resLocks.lock(id)
	defer unlock()

	res, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Status != domain.ReservationConfirmed {
		return nil, nil
	}
	if !now.After(res.Interval.Start.Add(s.pol.NoShowGrace)) {
		return nil, nil
	}

	res.Status = domain.ReservationCancelled
	if err := s.store.UpdateReservation(ctx, res); err != nil {
		return nil, err
	}
	s.index.Release(availability.SeatKey{RoomID: res.RoomID, SeatID: res.SeatID}, res.ID)

	adj := domain.NoShowAdjustment(res, s.pol.Credit, now)
	applied, err := s.store.InsertCreditAdjustment(ctx, adj)
	if err != nil {
		return nil, err
	}

	observability.NoShowsTotal.Inc()
	s.emit(ctx, "reservation.expired", map[string]interface{}{
		"reservation_id": res.ID,
		"user_id":        res.UserID,
	})
	if !applied {
		return nil, nil
	}
	s.emit(ctx, "credit.adjusted", map[string]interface{}{
		"user_id":        adj.UserID,
		"reservation_id": adj.ReservationID,
		"delta":          adj.Delta,
		"reason":         adj.Reason,
	})
	return &adj, nil
}

// SweepNoShows expires every confirmed reservation past its no-show grace,
// fanning out with bounded concurrency. Returns the number of reservations
// that expired with a penalty applied.
func (s *Service) SweepNoShows(ctx context.Context, now time.Time, parallelism int) (int, error) {
	if parallelism <= 0 {
		parallelism = 4
	}
	ids, err := s.store.ListNoShowCandidates(ctx, now.Add(-s.pol.NoShowGrace))
	if err != nil {
		return 0, err
	}

	var expired int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			adj, err := s.ExpireIfNoShow(gctx, id, now)
			if err != nil {
				s.logger.WithError(err).WithField("reservation_id", id).Error("no-show expiry failed")
				return nil
			}
			if adj != nil {
				atomic.AddInt64(&expired, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(atomic.LoadInt64(&expired)), err
	}
	return int(atomic.LoadInt64(&expired)), nil
}
