package slot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/auth"
	"github.com/medops/hospital-reservations/internal/outbox"
)

const (
	EventSlotCreated   = "SLOT_CREATED"
	EventSlotCancelled = "SLOT_CANCELLED"

	Topic         = "slots"
	aggregateType = "Slot"
)

var (
	ErrInvalidTimeRange = errors.New("slot start must be before slot end")
	ErrEmptyBulk        = errors.New("bulk slot list is empty")
	ErrSlotBooked       = errors.New("slot has an active appointment, cancel the appointment first")
	ErrInvalidSort      = errors.New("unsupported sort field")
)

// sortWhitelist maps accepted sort keys to their column names.
var sortWhitelist = map[string]string{
	"start_at":   "start_at",
	"end_at":     "end_at",
	"created_at": "created_at",
}

type CreateInput struct {
	DoctorID       uuid.UUID
	DepartmentCode string
	Mode           Mode
	StartAt        time.Time
	EndAt          time.Time
}

type Service struct {
	repo Repository
	acl  auth.AccessControl
}

func NewService(repo Repository, acl auth.AccessControl) *Service {
	return &Service{repo: repo, acl: acl}
}

// Create persists a new AVAILABLE slot. A doctor may create slots for
// themselves; anyone else needs management authority over the department.
func (s *Service) Create(ctx context.Context, in CreateInput, caller auth.Caller) (*Slot, error) {
	if err := s.authorize(ctx, in, caller); err != nil {
		return nil, err
	}
	if !in.StartAt.Before(in.EndAt) {
		return nil, ErrInvalidTimeRange
	}

	var created *Slot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		sl, err := insertSlot(ctx, tx, in)
		if err != nil {
			return err
		}
		created = sl
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// CreateBulk applies Create to every element in one transaction; a failing
// element aborts the whole batch.
func (s *Service) CreateBulk(ctx context.Context, inputs []CreateInput, caller auth.Caller) ([]Slot, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyBulk
	}

	for _, in := range inputs {
		if err := s.authorize(ctx, in, caller); err != nil {
			return nil, err
		}
		if !in.StartAt.Before(in.EndAt) {
			return nil, ErrInvalidTimeRange
		}
	}

	var created []Slot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, in := range inputs {
			sl, err := insertSlot(ctx, tx, in)
			if err != nil {
				return err
			}
			created = append(created, *sl)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (s *Service) authorize(ctx context.Context, in CreateInput, caller auth.Caller) error {
	if caller.DoctorID != nil && *caller.DoctorID == in.DoctorID {
		return nil
	}
	return s.acl.RequireDepartmentAuthority(ctx, in.DepartmentCode, caller)
}

func insertSlot(ctx context.Context, tx Tx, in CreateInput) (*Slot, error) {
	now := time.Now()
	sl := &Slot{
		ID:             uuid.New(),
		DoctorID:       in.DoctorID,
		DepartmentCode: in.DepartmentCode,
		Mode:           in.Mode,
		StartAt:        in.StartAt,
		EndAt:          in.EndAt,
		Status:         StatusAvailable,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.CreateSlot(ctx, sl); err != nil {
		return nil, err
	}

	ev, err := outbox.NewEvent(aggregateType, sl.ID.String(), EventSlotCreated, map[string]any{
		"slot_id":         sl.ID.String(),
		"doctor_id":       sl.DoctorID.String(),
		"department_code": sl.DepartmentCode,
		"mode":            string(sl.Mode),
		"start_at":        sl.StartAt,
		"end_at":          sl.EndAt,
	}, Topic)
	if err != nil {
		return nil, err
	}
	if err := tx.AppendEvent(ctx, ev); err != nil {
		return nil, err
	}

	return sl, nil
}

// Cancel retires an AVAILABLE slot. A BOOKED slot must be freed through
// appointment cancellation first. Cancelling an already cancelled slot is a
// no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, caller auth.Caller) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.acl.RequireDepartmentAuthority(ctx, existing.DepartmentCode, caller); err != nil {
		return err
	}
	if existing.Status == StatusCancelled {
		return nil
	}

	return s.repo.WithSlotLease(ctx, id, func(ctx context.Context, tx Tx, locked *Slot) error {
		switch locked.Status {
		case StatusBooked:
			return ErrSlotBooked
		case StatusCancelled:
			return nil
		}

		ok, err := tx.UpdateStatus(ctx, id, StatusAvailable, StatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("slot %s changed state under lease", id)
		}

		ev, err := outbox.NewEvent(aggregateType, id.String(), EventSlotCancelled, map[string]any{
			"slot_id":         id.String(),
			"doctor_id":       locked.DoctorID.String(),
			"department_code": locked.DepartmentCode,
		}, Topic)
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	})
}

// SearchAvailable is a read-only filter over AVAILABLE slots.
func (s *Service) SearchAvailable(ctx context.Context, f Filter, limit, offset int, sort string) ([]Slot, int, error) {
	limit, offset = clampPage(limit, offset)

	field, desc, err := parseSort(sort)
	if err != nil {
		return nil, 0, err
	}

	return s.repo.SearchAvailable(ctx, f, limit, offset, field, desc)
}

// Get returns one slot regardless of status.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.repo.GetByID(ctx, id)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// parseSort accepts "field" or "field:desc" against the whitelist.
func parseSort(sort string) (field string, desc bool, err error) {
	if sort == "" {
		return "start_at", false, nil
	}
	if rest, ok := strings.CutSuffix(sort, ":desc"); ok {
		desc = true
		sort = rest
	} else if rest, ok := strings.CutSuffix(sort, ":asc"); ok {
		sort = rest
	}
	col, ok := sortWhitelist[sort]
	if !ok {
		return "", false, ErrInvalidSort
	}
	return col, desc, nil
}
