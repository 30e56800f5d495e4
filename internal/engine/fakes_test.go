package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkravets/studyroom-reservations/internal/availability"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/mkravets/studyroom-reservations/internal/observability"
)

// testClock is a settable clock so tests can walk through a session.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeStore struct {
	mu           sync.Mutex
	reservations map[uuid.UUID]domain.Reservation
	sessions     map[uuid.UUID]domain.CheckinSession // by reservation id
	credits      map[uuid.UUID]domain.CreditAdjustment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		reservations: make(map[uuid.UUID]domain.Reservation),
		sessions:     make(map[uuid.UUID]domain.CheckinSession),
		credits:      make(map[uuid.UUID]domain.CreditAdjustment),
	}
}

func (s *fakeStore) CreateReservation(ctx context.Context, res domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[res.ID] = res
	return nil
}

func (s *fakeStore) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return res, nil
}

func (s *fakeStore) UpdateReservation(ctx context.Context, res domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[res.ID]; !ok {
		return domain.ErrNotFound
	}
	s.reservations[res.ID] = res
	return nil
}

func (s *fakeStore) ListUserReservations(ctx context.Context, userID uuid.UUID) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Reservation
	for _, res := range s.reservations {
		if res.UserID == userID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (s *fakeStore) ListCommitted(ctx context.Context) ([]availability.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []availability.Entry
	for _, res := range s.reservations {
		if res.Status.Terminal() {
			continue
		}
		entries = append(entries, availability.Entry{
			Seat:          availability.SeatKey{RoomID: res.RoomID, SeatID: res.SeatID},
			Interval:      res.Interval,
			ReservationID: res.ID,
		})
	}
	return entries, nil
}

func (s *fakeStore) ListNoShowCandidates(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, res := range s.reservations {
		if res.Status == domain.ReservationConfirmed && !res.Interval.Start.After(cutoff) {
			ids = append(ids, res.ID)
		}
	}
	return ids, nil
}

func (s *fakeStore) CreateSession(ctx context.Context, sess domain.CheckinSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ReservationID]; ok {
		return domain.ErrInvalidTransition
	}
	s.sessions[sess.ReservationID] = sess
	return nil
}

func (s *fakeStore) GetSessionByReservation(ctx context.Context, reservationID uuid.UUID) (domain.CheckinSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[reservationID]
	if !ok {
		return domain.CheckinSession{}, domain.ErrNotFound
	}
	return sess, nil
}

func (s *fakeStore) UpdateSession(ctx context.Context, sess domain.CheckinSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ReservationID]; !ok {
		return domain.ErrNotFound
	}
	s.sessions[sess.ReservationID] = sess
	return nil
}

func (s *fakeStore) InsertCreditAdjustment(ctx context.Context, adj domain.CreditAdjustment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credits[adj.ReservationID]; ok {
		return false, nil
	}
	s.credits[adj.ReservationID] = adj
	return true, nil
}

type fakeCatalog struct {
	mu    sync.Mutex
	seats map[uuid.UUID]domain.SeatInfo
}

func newFakeCatalog(seats ...domain.SeatInfo) *fakeCatalog {
	c := &fakeCatalog{seats: make(map[uuid.UUID]domain.SeatInfo)}
	for _, seat := range seats {
		c.seats[seat.ID] = seat
	}
	return c
}

func (c *fakeCatalog) GetSeat(ctx context.Context, roomID, seatID uuid.UUID) (domain.SeatInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seat, ok := c.seats[seatID]
	if !ok || seat.RoomID != roomID {
		return domain.SeatInfo{}, domain.ErrNotFound
	}
	return seat, nil
}

func (c *fakeCatalog) SetSeatStatus(ctx context.Context, seatID uuid.UUID, status domain.SeatStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	seat, ok := c.seats[seatID]
	if !ok {
		return domain.ErrNotFound
	}
	seat.Status = status
	c.seats[seatID] = seat
	return nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *fakeEmitter) Emit(ctx context.Context, eventType string, payload map[string]interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
	return nil
}

func (e *fakeEmitter) count(eventType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	svc     *Service
	store   *fakeStore
	catalog *fakeCatalog
	emitter *fakeEmitter
	clock   *testClock
	userID  uuid.UUID
	roomID  uuid.UUID
	seatID  uuid.UUID
	actor   Actor
}

func newFixture(now time.Time) *fixture {
	store := newFakeStore()
	clk := newTestClock(now)
	emitter := &fakeEmitter{}
	userID := uuid.New()
	roomID := uuid.New()
	seatID := uuid.New()
	catalog := newFakeCatalog(domain.SeatInfo{
		ID:     seatID,
		RoomID: roomID,
		Number: "A1",
		Status: domain.SeatAvailable,
	})
	svc := NewService(store, availability.NewIndex(), catalog, emitter, clk, observability.NewLogger(), DefaultPolicies())
	return &fixture{
		svc:     svc,
		store:   store,
		catalog: catalog,
		emitter: emitter,
		clock:   clk,
		userID:  userID,
		roomID:  roomID,
		seatID:  seatID,
		actor:   Actor{UserID: userID},
	}
}
