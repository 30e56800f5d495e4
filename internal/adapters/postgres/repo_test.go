package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mkravets/studyroom-reservations/internal/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRepo(t *testing.T) (*Repository, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "srs",
				"POSTGRES_PASSWORD": "srs",
				"POSTGRES_DB":       "srs",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, "postgresql://srs:srs@"+host+":"+port.Port()+"/srs?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}
	return NewRepository(pool), ctx
}

func confirmed(userID, seatID uuid.UUID, start, end time.Time) domain.Reservation {
	return domain.Reservation{
		ID:        uuid.New(),
		UserID:    userID,
		RoomID:    uuid.New(),
		SeatID:    seatID,
		Interval:  domain.TimeInterval{Start: start, End: end},
		Status:    domain.ReservationConfirmed,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRepositoryReservations(t *testing.T) {
	repo, ctx := setupRepo(t)
	userID := uuid.New()
	seatID := uuid.New()
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	end := start.Add(time.Hour)

	res := confirmed(userID, seatID, start, end)
	if err := repo.CreateReservation(ctx, res); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetReservation(ctx, res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ReservationConfirmed || !got.Interval.Start.Equal(start) {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}

	t.Run("exclusion constraint rejects overlap", func(t *testing.T) {
		overlap := confirmed(uuid.New(), seatID, start.Add(30*time.Minute), end.Add(30*time.Minute))
		err := repo.CreateReservation(ctx, overlap)
		var ce *domain.ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("want ConflictError, got %v", err)
		}
		if ce.ReservationID != res.ID {
			t.Fatalf("conflict names %s, want %s", ce.ReservationID, res.ID)
		}
	})

	t.Run("touching boundary is accepted", func(t *testing.T) {
		next := confirmed(uuid.New(), seatID, end, end.Add(time.Hour))
		if err := repo.CreateReservation(ctx, next); err != nil {
			t.Fatalf("back-to-back insert: %v", err)
		}
	})

	t.Run("cancelled row frees the range", func(t *testing.T) {
		res.Status = domain.ReservationCancelled
		if err := repo.UpdateReservation(ctx, res); err != nil {
			t.Fatalf("cancel update: %v", err)
		}
		again := confirmed(uuid.New(), seatID, start, end)
		if err := repo.CreateReservation(ctx, again); err != nil {
			t.Fatalf("insert over cancelled row: %v", err)
		}
	})

	t.Run("list committed excludes terminal rows", func(t *testing.T) {
		entries, err := repo.ListCommitted(ctx)
		if err != nil {
			t.Fatalf("list committed: %v", err)
		}
		for _, e := range entries {
			if e.ReservationID == res.ID {
				t.Fatal("cancelled reservation still listed as committed")
			}
		}
	})

	t.Run("update unknown reservation", func(t *testing.T) {
		missing := confirmed(userID, uuid.New(), start, end)
		if err := repo.UpdateReservation(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
	})
}

func TestRepositorySessions(t *testing.T) {
	repo, ctx := setupRepo(t)
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	res := confirmed(uuid.New(), uuid.New(), start, start.Add(2*time.Hour))
	if err := repo.CreateReservation(ctx, res); err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	sess := domain.NewCheckinSession(res.ID, start)
	if err := repo.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	// 1:1 per reservation
	dup := domain.NewCheckinSession(res.ID, start)
	if err := repo.CreateSession(ctx, dup); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("duplicate session: want ErrInvalidTransition, got %v", err)
	}

	got, err := repo.GetSessionByReservation(ctx, res.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.State != domain.SessionCheckedIn || !got.SignOutTime.IsZero() || !got.LeaveStart.IsZero() {
		t.Fatalf("fresh session mismatch: %+v", got)
	}

	got.State = domain.SessionCheckedOut
	got.SignOutTime = start.Add(time.Hour)
	got.LeaveTotal = 15 * time.Minute
	if err := repo.UpdateSession(ctx, got); err != nil {
		t.Fatalf("update session: %v", err)
	}

	got, err = repo.GetSessionByReservation(ctx, res.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if got.LeaveTotal != 15*time.Minute {
		t.Fatalf("leave total = %s, want 15m", got.LeaveTotal)
	}
	if got.EffectiveDuration() != 45*time.Minute {
		t.Fatalf("effective = %s, want 45m", got.EffectiveDuration())
	}
}

func TestRepositoryCreditLog(t *testing.T) {
	repo, ctx := setupRepo(t)
	adj := domain.CreditAdjustment{
		UserID:        uuid.New(),
		ReservationID: uuid.New(),
		Delta:         -1,
		Reason:        domain.CreditReasonNoShow,
		At:            time.Now().UTC(),
	}

	applied, err := repo.InsertCreditAdjustment(ctx, adj)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !applied {
		t.Fatal("first insert should apply")
	}

	applied, err = repo.InsertCreditAdjustment(ctx, adj)
	if err != nil {
		t.Fatalf("replay insert: %v", err)
	}
	if applied {
		t.Fatal("replay must not apply a second adjustment")
	}
}

func TestRepositoryOutbox(t *testing.T) {
	repo, ctx := setupRepo(t)
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	res := confirmed(uuid.New(), uuid.New(), start, start.Add(time.Hour))
	if err := repo.CreateReservation(ctx, res); err != nil {
		t.Fatalf("create: %v", err)
	}

	records, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("fetch outbox: %v", err)
	}
	if len(records) != 1 || records[0].EventType != "reservation.created" {
		t.Fatalf("outbox = %+v, want one reservation.created row", records)
	}

	if err := repo.MarkPublished(ctx, records[0].ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	records, err = repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("refetch outbox: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("outbox still has %d unpublished rows", len(records))
	}
}
