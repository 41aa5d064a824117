package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full table layout. EnsureSchema is idempotent so the seed tool
// and local dev servers can run it on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS slots (
	id              UUID PRIMARY KEY,
	doctor_id       UUID NOT NULL,
	department_code TEXT NOT NULL,
	mode            TEXT NOT NULL,
	start_at        TIMESTAMPTZ NOT NULL,
	end_at          TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL DEFAULT 'AVAILABLE',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (start_at < end_at)
);

CREATE INDEX IF NOT EXISTS idx_slots_search
	ON slots (department_code, doctor_id, status, start_at);

CREATE TABLE IF NOT EXISTS appointments (
	id              UUID PRIMARY KEY,
	slot_id         UUID NOT NULL REFERENCES slots (id),
	patient_id      UUID NOT NULL,
	doctor_id       UUID NOT NULL,
	department_code TEXT NOT NULL,
	mode            TEXT NOT NULL,
	start_at        TIMESTAMPTZ NOT NULL,
	end_at          TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL DEFAULT 'BOOKED',
	reason          TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	cancelled_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_active_slot
	ON appointments (slot_id) WHERE status <> 'CANCELLED';

CREATE INDEX IF NOT EXISTS idx_appointments_patient ON appointments (patient_id);
CREATE INDEX IF NOT EXISTS idx_appointments_doctor ON appointments (doctor_id);

CREATE TABLE IF NOT EXISTS department_capacity (
	dept_code  TEXT PRIMARY KEY,
	total_beds INT NOT NULL CHECK (total_beds >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS admissions (
	id                  UUID PRIMARY KEY,
	patient_id          UUID NOT NULL,
	department_code     TEXT NOT NULL,
	admission_type      TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'ACTIVE',
	admitted_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	discharged_at       TIMESTAMPTZ,
	attending_doctor_id UUID,
	notes               TEXT
);

CREATE INDEX IF NOT EXISTS idx_admissions_dept_status
	ON admissions (department_code, status);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL DEFAULT '{}',
	topic          TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
	ON outbox_events (id) WHERE published_at IS NULL;
`

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
