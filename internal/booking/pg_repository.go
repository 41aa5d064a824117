package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medops/hospital-reservations/internal/outbox"
	"github.com/medops/hospital-reservations/internal/slot"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const apptColumns = `id, slot_id, patient_id, doctor_id, department_code, mode, start_at, end_at, status, reason, created_at, updated_at, cancelled_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var cancelledAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.PatientID,
		&a.DoctorID,
		&a.DepartmentCode,
		&a.Mode,
		&a.StartAt,
		&a.EndAt,
		&a.Status,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.CancelledAt = cancelledAt
	return &a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Search(ctx context.Context, f Filter, limit, offset int, sortField string, sortDesc bool) ([]Appointment, int, error) {
	where := `WHERE true`
	args := []any{}

	addArg := func(clause string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if f.PatientID != nil {
		addArg("patient_id =", *f.PatientID)
	}
	if f.DoctorID != nil {
		addArg("doctor_id =", *f.DoctorID)
	}
	if f.DepartmentCode != "" {
		addArg("department_code =", f.DepartmentCode)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM appointments `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	dir := "ASC"
	if sortDesc {
		dir = "DESC"
	}
	// sortField comes from the service's whitelist, never from user input.
	query := fmt.Sprintf(`
		SELECT %s
		FROM appointments
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, apptColumns, where, sortField, dir, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

const slotColumns = `id, doctor_id, department_code, mode, start_at, end_at, status, created_at, updated_at`

func (r *PgRepository) WithSlotLease(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context, tx Tx, locked *slot.Slot) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked slot.Slot
	err = tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, slotID).Scan(
		&locked.ID,
		&locked.DoctorID,
		&locked.DepartmentCode,
		&locked.Mode,
		&locked.StartAt,
		&locked.EndAt,
		&locked.Status,
		&locked.CreatedAt,
		&locked.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return slot.ErrSlotNotFound
		}
		return err
	}

	if err := fn(ctx, &pgTx{tx: tx}, &locked); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (id, slot_id, patient_id, doctor_id, department_code, mode, start_at, end_at, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	`, a.ID, a.SlotID, a.PatientID, a.DoctorID, a.DepartmentCode, a.Mode, a.StartAt, a.EndAt, a.Status, a.Reason)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (t *pgTx) MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'CANCELLED',
		    cancelled_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'BOOKED'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("cancel appointment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) UpdateSlotStatus(ctx context.Context, slotID uuid.UUID, from, to slot.Status) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, slotID, to, from)
	if err != nil {
		return false, fmt.Errorf("update slot status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) AppendEvent(ctx context.Context, ev outbox.Event) error {
	return outbox.Append(ctx, t.tx, ev)
}
