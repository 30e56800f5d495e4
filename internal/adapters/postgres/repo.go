package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkravets/studyroom-reservations/internal/availability"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/mkravets/studyroom-reservations/internal/observability"
)

const (
	serializationFailureCode = "40001"
	exclusionViolationCode   = "23P01"
	uniqueViolationCode      = "23505"
)

// Repository is the pgx-backed persistence boundary. The reservations table
// carries an exclusion constraint on (seat_id, interval) for non-terminal
// rows, so the committed-interval invariant holds even if a second process
// bypasses the in-memory index.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) CreateReservation(ctx context.Context, res domain.Reservation) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO reservations (id, user_id, room_id, seat_id, start_at, end_at, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, res.ID, res.UserID, res.RoomID, res.SeatID, res.Interval.Start, res.Interval.End, res.Status, res.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == exclusionViolationCode || pgErr.Code == uniqueViolationCode) {
				return r.conflictFor(ctx, tx, res)
			}
			return err
		}
		return r.insertOutbox(ctx, tx, "reservation", res.ID, "reservation.created", map[string]interface{}{
			"reservation_id": res.ID,
			"user_id":        res.UserID,
			"seat_id":        res.SeatID,
		})
	})
}

// conflictFor resolves the reservation that won the seat/interval race so the
// error can name it.
func (r *Repository) conflictFor(ctx context.Context, tx pgx.Tx, res domain.Reservation) error {
	var winner uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM reservations
		WHERE seat_id = $1 AND status IN ('pending', 'confirmed', 'active')
		  AND start_at < $3 AND end_at > $2
		LIMIT 1
	`, res.SeatID, res.Interval.Start, res.Interval.End).Scan(&winner)
	if err != nil {
		return &domain.ConflictError{}
	}
	return &domain.ConflictError{ReservationID: winner}
}

func (r *Repository) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	var res domain.Reservation
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, room_id, seat_id, start_at, end_at, status, fee, created_at
		FROM reservations WHERE id = $1
	`, id).Scan(&res.ID, &res.UserID, &res.RoomID, &res.SeatID,
		&res.Interval.Start, &res.Interval.End, &res.Status, &res.Fee, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, errors.Wrapf(domain.ErrNotFound, "reservation %s", id)
	}
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

func (r *Repository) UpdateReservation(ctx context.Context, res domain.Reservation) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE reservations SET status = $2, fee = $3 WHERE id = $1
		`, res.ID, res.Status, res.Fee)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return errors.Wrapf(domain.ErrNotFound, "reservation %s", res.ID)
		}
		if res.Status.Terminal() {
			return r.insertOutbox(ctx, tx, "reservation", res.ID, "reservation."+string(res.Status), map[string]interface{}{
				"reservation_id": res.ID,
				"user_id":        res.UserID,
			})
		}
		return nil
	})
}

func (r *Repository) ListUserReservations(ctx context.Context, userID uuid.UUID) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, room_id, seat_id, start_at, end_at, status, fee, created_at
		FROM reservations WHERE user_id = $1 ORDER BY start_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ID, &res.UserID, &res.RoomID, &res.SeatID,
			&res.Interval.Start, &res.Interval.End, &res.Status, &res.Fee, &res.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repository) ListCommitted(ctx context.Context) ([]availability.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_id, seat_id, start_at, end_at
		FROM reservations WHERE status IN ('pending', 'confirmed', 'active')
		ORDER BY seat_id, start_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []availability.Entry
	for rows.Next() {
		var e availability.Entry
		if err := rows.Scan(&e.ReservationID, &e.Seat.RoomID, &e.Seat.SeatID,
			&e.Interval.Start, &e.Interval.End); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) ListNoShowCandidates(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM reservations WHERE status = 'confirmed' AND start_at <= $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) CreateSession(ctx context.Context, sess domain.CheckinSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO checkin_sessions (id, reservation_id, state, sign_in, sign_out, leave_start, leave_total_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sess.ID, sess.ReservationID, sess.State, sess.SignInTime,
		nullableTime(sess.SignOutTime), nullableTime(sess.LeaveStart), sess.LeaveTotal.Nanoseconds())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return errors.Wrapf(domain.ErrInvalidTransition, "session exists for reservation %s", sess.ReservationID)
	}
	return err
}

func (r *Repository) GetSessionByReservation(ctx context.Context, reservationID uuid.UUID) (domain.CheckinSession, error) {
	var (
		sess       domain.CheckinSession
		signOut    *time.Time
		leaveStart *time.Time
		leaveNS    int64
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, reservation_id, state, sign_in, sign_out, leave_start, leave_total_ns
		FROM checkin_sessions WHERE reservation_id = $1
	`, reservationID).Scan(&sess.ID, &sess.ReservationID, &sess.State,
		&sess.SignInTime, &signOut, &leaveStart, &leaveNS)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CheckinSession{}, errors.Wrapf(domain.ErrNotFound, "session for reservation %s", reservationID)
	}
	if err != nil {
		return domain.CheckinSession{}, err
	}
	if signOut != nil {
		sess.SignOutTime = *signOut
	}
	if leaveStart != nil {
		sess.LeaveStart = *leaveStart
	}
	sess.LeaveTotal = time.Duration(leaveNS)
	return sess, nil
}

func (r *Repository) UpdateSession(ctx context.Context, sess domain.CheckinSession) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE checkin_sessions
		SET state = $2, sign_out = $3, leave_start = $4, leave_total_ns = $5
		WHERE id = $1
	`, sess.ID, sess.State, nullableTime(sess.SignOutTime), nullableTime(sess.LeaveStart), sess.LeaveTotal.Nanoseconds())
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "session %s", sess.ID)
	}
	return nil
}

// InsertCreditAdjustment appends to the credit log. The reservation id is the
// primary key, so replays of the same terminal transition report false and
// apply nothing.
func (r *Repository) InsertCreditAdjustment(ctx context.Context, adj domain.CreditAdjustment) (bool, error) {
	applied := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			INSERT INTO credit_log (reservation_id, user_id, delta, reason, at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (reservation_id) DO NOTHING
		`, adj.ReservationID, adj.UserID, adj.Delta, adj.Reason, adj.At)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return nil
		}
		applied = true
		return r.insertOutbox(ctx, tx, "credit", adj.ReservationID, "credit.adjusted", map[string]interface{}{
			"user_id":        adj.UserID,
			"reservation_id": adj.ReservationID,
			"delta":          adj.Delta,
			"reason":         adj.Reason,
		})
	})
	return applied, err
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType string, aggregateID uuid.UUID, eventType string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	rec := OutboxRecord{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		DedupeKey:     aggregateID.String() + ":" + eventType,
	}
	return r.InsertOutbox(ctx, tx, rec)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
