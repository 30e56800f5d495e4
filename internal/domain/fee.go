package domain

import "time"

// RateSchedule prices occupied time. Partial billing units are floored.
type RateSchedule struct {
	HourlyRate  float64
	BillingUnit time.Duration
}

func DefaultRateSchedule() RateSchedule {
	return RateSchedule{HourlyRate: 1.0, BillingUnit: 15 * time.Minute}
}

// ComputeFee derives the fee for an effective occupied duration.
// Pure; never negative.
func ComputeFee(effective time.Duration, rs RateSchedule) float64 {
	if effective <= 0 {
		return 0
	}
	unit := rs.BillingUnit
	if unit <= 0 {
		unit = time.Hour
	}
	units := effective / unit
	billed := time.Duration(units) * unit
	return billed.Hours() * rs.HourlyRate
}

// CreditPolicy sets the attendance thresholds for credit-score deltas,
// expressed as fractions of the scheduled interval.
type CreditPolicy struct {
	FullAttendance float64
	EarlyDeparture float64
	Reward         int
	Penalty        int
}

func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{
		FullAttendance: 0.8,
		EarlyDeparture: 0.5,
		Reward:         1,
		Penalty:        1,
	}
}

// ComputeCreditDelta scores a closed session: positive for on-time full
// attendance, negative for early departure below threshold, zero otherwise.
// No-show penalties are emitted by the lifecycle, not here. A nil result
// means no adjustment is due.
func ComputeCreditDelta(res Reservation, sess CheckinSession, pol CreditPolicy, grace time.Duration) *CreditAdjustment {
	scheduled := res.Interval.Duration()
	if scheduled <= 0 {
		return nil
	}
	effective := sess.EffectiveDuration()
	ratio := float64(effective) / float64(scheduled)

	switch {
	case ratio < pol.EarlyDeparture:
		return &CreditAdjustment{
			UserID:        res.UserID,
			ReservationID: res.ID,
			Delta:         -pol.Penalty,
			Reason:        CreditReasonEarlyDeparture,
			At:            sess.SignOutTime,
		}
	case ratio >= pol.FullAttendance && !sess.SignInTime.After(res.Interval.Start.Add(grace)):
		return &CreditAdjustment{
			UserID:        res.UserID,
			ReservationID: res.ID,
			Delta:         pol.Reward,
			Reason:        CreditReasonFullAttendance,
			At:            sess.SignOutTime,
		}
	}
	return nil
}

// NoShowAdjustment is the penalty for never signing in.
func NoShowAdjustment(res Reservation, pol CreditPolicy, now time.Time) CreditAdjustment {
	return CreditAdjustment{
		UserID:        res.UserID,
		ReservationID: res.ID,
		Delta:         -pol.Penalty,
		Reason:        CreditReasonNoShow,
		At:            now,
	}
}
