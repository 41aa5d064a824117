package admission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/outbox"
)

var (
	ErrAdmissionNotFound = errors.New("admission not found")
	ErrCapacityNotFound  = errors.New("department capacity not configured")
)

// Repository contains all DB interactions needed by the admission service.
//
// WithCapacityLease opens one transaction, takes an exclusive row lock on the
// department_capacity row and hands fn the locked row. Every admission-creating
// path MUST go through this lease before counting: the lock, not the count, is
// the serialization point that keeps occupancy within the configured total.
// WithTx runs fn transactionally without any lease, for mutations that only
// free or annotate capacity.
type Repository interface {
	GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error)
	Search(ctx context.Context, f Filter, limit, offset int, sortDesc bool) ([]Admission, int, error)
	GetCapacity(ctx context.Context, deptCode string) (*DepartmentCapacity, error)
	CountActive(ctx context.Context, deptCode string) (int, error)

	WithCapacityLease(ctx context.Context, deptCode string, fn func(ctx context.Context, tx Tx, locked *DepartmentCapacity) error) error
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	// CountActive is the live occupancy count, read inside the transaction.
	CountActive(ctx context.Context, deptCode string) (int, error)
	CreateAdmission(ctx context.Context, a *Admission) error
	// MarkDischarged is a compare-and-set ACTIVE -> DISCHARGED; it reports
	// whether a row was updated.
	MarkDischarged(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// PatchAdmission updates the optional fields while the admission is
	// ACTIVE; it reports whether a row was updated.
	PatchAdmission(ctx context.Context, id uuid.UUID, attendingDoctorID *uuid.UUID, notes *string) (bool, error)
	UpsertCapacity(ctx context.Context, deptCode string, totalBeds int) (*DepartmentCapacity, error)
	AppendEvent(ctx context.Context, ev outbox.Event) error
}
