package domain

import (
	"time"

	"github.com/cockroachdb/errors"
)

// TimeInterval is a half-open booking interval [Start, End).
// Immutable once attached to a committed reservation.
type TimeInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval validates a candidate interval against the current time.
// grace is how far Start may already lie in the past.
func NewInterval(start, end, now time.Time, grace time.Duration) (TimeInterval, error) {
	if !start.Before(end) {
		return TimeInterval{}, errors.Wrapf(ErrInvalidInterval, "start %s not before end %s", start, end)
	}
	if start.Before(now.Add(-grace)) {
		return TimeInterval{}, errors.Wrapf(ErrInvalidInterval, "start %s is in the past", start)
	}
	return TimeInterval{Start: start, End: end}, nil
}

// Overlaps reports whether two half-open intervals intersect.
// Touching boundaries do not conflict.
func (i TimeInterval) Overlaps(other TimeInterval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Contains reports whether instant falls inside the interval.
func (i TimeInterval) Contains(instant time.Time) bool {
	return !instant.Before(i.Start) && instant.Before(i.End)
}

// Duration is the scheduled length of the interval.
func (i TimeInterval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}
