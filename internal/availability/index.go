package availability

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mkravets/studyroom-reservations/internal/domain"
)

// SeatKey identifies one bookable seat.
type SeatKey struct {
	RoomID uuid.UUID
	SeatID uuid.UUID
}

// Entry is one committed interval registered for a seat.
type Entry struct {
	Seat          SeatKey
	Interval      domain.TimeInterval
	ReservationID uuid.UUID
}

type seatAgenda struct {
	mu sync.Mutex
	// committed intervals in start order
	entries []Entry
}

// Index holds the committed intervals of non-terminal reservations, one
// ordered set per seat. Reserve/Release serialize per seat key, so unrelated
// seats book in parallel.
type Index struct {
	mu    sync.Mutex
	seats map[SeatKey]*seatAgenda
}

func NewIndex() *Index {
	return &Index{seats: make(map[SeatKey]*seatAgenda)}
}

func (ix *Index) agenda(key SeatKey) *seatAgenda {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ag, ok := ix.seats[key]
	if !ok {
		ag = &seatAgenda{}
		ix.seats[key] = ag
	}
	return ag
}

// Load registers already-committed intervals, typically on boot from the
// store. Conflicting input is the store's problem; entries are inserted as-is.
func (ix *Index) Load(entries []Entry) {
	for _, e := range entries {
		ag := ix.agenda(e.Seat)
		ag.mu.Lock()
		ag.insert(e)
		ag.mu.Unlock()
	}
}

// CheckAvailable reports whether the candidate interval is free on the seat.
// Consistent with the latest committed state at the time of the call.
func (ix *Index) CheckAvailable(key SeatKey, interval domain.TimeInterval) bool {
	ag := ix.agenda(key)
	ag.mu.Lock()
	defer ag.mu.Unlock()
	_, conflict := ag.findConflict(interval)
	return !conflict
}

// Reserve atomically re-validates non-overlap and inserts the interval.
// On a lost race it returns a *domain.ConflictError carrying the colliding
// reservation id.
func (ix *Index) Reserve(key SeatKey, interval domain.TimeInterval, reservationID uuid.UUID) error {
	ag := ix.agenda(key)
	ag.mu.Lock()
	defer ag.mu.Unlock()

	if winner, conflict := ag.findConflict(interval); conflict {
		return &domain.ConflictError{ReservationID: winner}
	}
	ag.insert(Entry{Seat: key, Interval: interval, ReservationID: reservationID})
	return nil
}

// Release drops the interval of a reservation that was cancelled, completed
// or never materialized. Idempotent.
func (ix *Index) Release(key SeatKey, reservationID uuid.UUID) {
	ag := ix.agenda(key)
	ag.mu.Lock()
	defer ag.mu.Unlock()
	for i, e := range ag.entries {
		if e.ReservationID == reservationID {
			ag.entries = append(ag.entries[:i], ag.entries[i+1:]...)
			return
		}
	}
}

// findConflict scans the start-ordered entries around the candidate. Only
// intervals with start < candidate.End and end > candidate.Start can collide,
// so the scan stops at the first entry starting at or after candidate.End.
func (ag *seatAgenda) findConflict(interval domain.TimeInterval) (uuid.UUID, bool) {
	i := sort.Search(len(ag.entries), func(i int) bool {
		return !ag.entries[i].Interval.Start.Before(interval.End)
	})
	for j := i - 1; j >= 0; j-- {
		e := ag.entries[j]
		if !e.Interval.End.After(interval.Start) {
			// entries are sorted by start, not end; an earlier entry may
			// still span the candidate, so keep scanning backwards
			continue
		}
		if e.Interval.Overlaps(interval) {
			return e.ReservationID, true
		}
	}
	return uuid.UUID{}, false
}

func (ag *seatAgenda) insert(e Entry) {
	i := sort.Search(len(ag.entries), func(i int) bool {
		return ag.entries[i].Interval.Start.After(e.Interval.Start)
	})
	ag.entries = append(ag.entries, Entry{})
	copy(ag.entries[i+1:], ag.entries[i:])
	ag.entries[i] = e
}
