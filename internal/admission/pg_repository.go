package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medops/hospital-reservations/internal/outbox"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const admissionColumns = `id, patient_id, department_code, admission_type, status, admitted_at, discharged_at, attending_doctor_id, notes`

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DepartmentCode,
		&a.AdmissionType,
		&a.Status,
		&a.AdmittedAt,
		&a.DischargedAt,
		&a.AttendingDoctorID,
		&a.Notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdmissionNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanCapacity(row pgx.Row) (*DepartmentCapacity, error) {
	var c DepartmentCapacity

	err := row.Scan(&c.DeptCode, &c.TotalBeds, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCapacityNotFound
		}
		return nil, err
	}

	return &c, nil
}

func (r *PgRepository) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+admissionColumns+`
		FROM admissions
		WHERE id = $1
	`, id)
	return scanAdmission(row)
}

func (r *PgRepository) Search(ctx context.Context, f Filter, limit, offset int, sortDesc bool) ([]Admission, int, error) {
	where := `WHERE true`
	args := []any{}

	addArg := func(clause string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if f.DepartmentCode != "" {
		addArg("department_code =", f.DepartmentCode)
	}
	if f.Status != nil {
		addArg("status =", *f.Status)
	}
	if f.Departments != nil {
		args = append(args, f.Departments)
		where += fmt.Sprintf(" AND department_code = ANY($%d)", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM admissions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count admissions: %w", err)
	}

	dir := "ASC"
	if sortDesc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM admissions
		%s
		ORDER BY admitted_at %s
		LIMIT $%d OFFSET $%d
	`, admissionColumns, where, dir, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search admissions: %w", err)
	}
	defer rows.Close()

	var result []Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
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

func (r *PgRepository) GetCapacity(ctx context.Context, deptCode string) (*DepartmentCapacity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT dept_code, total_beds, updated_at
		FROM department_capacity
		WHERE dept_code = $1
	`, deptCode)
	return scanCapacity(row)
}

func (r *PgRepository) CountActive(ctx context.Context, deptCode string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM admissions
		WHERE department_code = $1
		  AND status = 'ACTIVE'
	`, deptCode).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active admissions: %w", err)
	}
	return n, nil
}

func (r *PgRepository) WithCapacityLease(ctx context.Context, deptCode string, fn func(ctx context.Context, tx Tx, locked *DepartmentCapacity) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := scanCapacity(tx.QueryRow(ctx, `
		SELECT dept_code, total_beds, updated_at
		FROM department_capacity
		WHERE dept_code = $1
		FOR UPDATE
	`, deptCode))
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgTx{tx: tx}, locked); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CountActive(ctx context.Context, deptCode string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*)
		FROM admissions
		WHERE department_code = $1
		  AND status = 'ACTIVE'
	`, deptCode).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active admissions: %w", err)
	}
	return n, nil
}

func (t *pgTx) CreateAdmission(ctx context.Context, a *Admission) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO admissions (id, patient_id, department_code, admission_type, status, admitted_at, attending_doctor_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.PatientID, a.DepartmentCode, a.AdmissionType, a.Status, a.AdmittedAt, a.AttendingDoctorID, a.Notes)
	if err != nil {
		return fmt.Errorf("insert admission: %w", err)
	}
	return nil
}

func (t *pgTx) MarkDischarged(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE admissions
		SET status = 'DISCHARGED',
		    discharged_at = $2
		WHERE id = $1
		  AND status = 'ACTIVE'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("discharge admission: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) PatchAdmission(ctx context.Context, id uuid.UUID, attendingDoctorID *uuid.UUID, notes *string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE admissions
		SET attending_doctor_id = COALESCE($2, attending_doctor_id),
		    notes = COALESCE($3, notes)
		WHERE id = $1
		  AND status = 'ACTIVE'
	`, id, attendingDoctorID, notes)
	if err != nil {
		return false, fmt.Errorf("patch admission: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) UpsertCapacity(ctx context.Context, deptCode string, totalBeds int) (*DepartmentCapacity, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO department_capacity (dept_code, total_beds, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (dept_code) DO UPDATE
		SET total_beds = EXCLUDED.total_beds,
		    updated_at = now()
		RETURNING dept_code, total_beds, updated_at
	`, deptCode, totalBeds)
	return scanCapacity(row)
}

func (t *pgTx) AppendEvent(ctx context.Context, ev outbox.Event) error {
	return outbox.Append(ctx, t.tx, ev)
}
