package slot

import (
	"context"
	"errors"
	"fmt"

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

const slotColumns = `id, doctor_id, department_code, mode, start_at, end_at, status, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.DepartmentCode,
		&s.Mode,
		&s.StartAt,
		&s.EndAt,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) SearchAvailable(ctx context.Context, f Filter, limit, offset int, sortField string, sortDesc bool) ([]Slot, int, error) {
	where := `WHERE status = 'AVAILABLE'`
	args := []any{}

	addArg := func(clause string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if f.DoctorID != nil {
		addArg("doctor_id =", *f.DoctorID)
	}
	if f.DepartmentCode != "" {
		addArg("department_code =", f.DepartmentCode)
	}
	if f.Mode != nil {
		addArg("mode =", *f.Mode)
	}
	if f.From != nil {
		addArg("start_at >=", *f.From)
	}
	if f.To != nil {
		addArg("end_at <=", *f.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM slots `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count available slots: %w", err)
	}

	dir := "ASC"
	if sortDesc {
		dir = "DESC"
	}
	// sortField comes from the service's whitelist, never from user input.
	query := fmt.Sprintf(`
		SELECT %s
		FROM slots
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, slotColumns, where, sortField, dir, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search available slots: %w", err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
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

func (r *PgRepository) WithSlotLease(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context, tx Tx, locked *Slot) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	locked, err := scanSlot(tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, slotID))
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgTx{tx: tx}, locked); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateSlot(ctx context.Context, s *Slot) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO slots (id, doctor_id, department_code, mode, start_at, end_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`, s.ID, s.DoctorID, s.DepartmentCode, s.Mode, s.StartAt, s.EndAt, s.Status)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, id, to, from)
	if err != nil {
		return false, fmt.Errorf("update slot status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) AppendEvent(ctx context.Context, ev outbox.Event) error {
	return outbox.Append(ctx, t.tx, ev)
}
