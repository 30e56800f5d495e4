package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the engine's tables. The EXCLUDE constraint keeps
// committed (non-terminal) intervals pairwise non-overlapping per seat at the
// storage layer as well.
const Schema = `
CREATE EXTENSION IF NOT EXISTS btree_gist;

CREATE TABLE IF NOT EXISTS reservations (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	room_id UUID NOT NULL,
	seat_id UUID NOT NULL,
	start_at TIMESTAMPTZ NOT NULL,
	end_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'active', 'completed', 'cancelled')),
	fee NUMERIC,
	created_at TIMESTAMPTZ NOT NULL,
	CHECK (start_at < end_at),
	EXCLUDE USING gist (
		seat_id WITH =,
		tstzrange(start_at, end_at) WITH &&
	) WHERE (status IN ('pending', 'confirmed', 'active'))
);

CREATE INDEX IF NOT EXISTS reservations_user_idx ON reservations (user_id, start_at DESC);
CREATE INDEX IF NOT EXISTS reservations_noshow_idx ON reservations (start_at) WHERE status = 'confirmed';

CREATE TABLE IF NOT EXISTS checkin_sessions (
	id UUID PRIMARY KEY,
	reservation_id UUID NOT NULL UNIQUE REFERENCES reservations (id),
	state TEXT NOT NULL CHECK (state IN ('not_started', 'checked_in', 'on_leave', 'checked_out')),
	sign_in TIMESTAMPTZ NOT NULL,
	sign_out TIMESTAMPTZ,
	leave_start TIMESTAMPTZ,
	leave_total_ns BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS credit_log (
	reservation_id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	delta INT NOT NULL,
	reason TEXT NOT NULL,
	at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'NEW',
	dedupe_key TEXT NOT NULL UNIQUE
);
`

// Migrate applies the schema. Tests and small deployments run it directly;
// anything bigger fronts it with a migration tool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
