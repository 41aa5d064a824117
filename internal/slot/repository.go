package slot

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/outbox"
)

var ErrSlotNotFound = errors.New("slot not found")

// Repository contains all DB interactions needed by the slot service.
//
// WithTx runs fn inside one transaction: every mutation made through tx commits
// iff fn returns nil. WithSlotLease additionally acquires an exclusive row lock
// on the slot before fn runs and hands fn the locked row; contenders on the
// same slot block until the holder commits or rolls back.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	SearchAvailable(ctx context.Context, f Filter, limit, offset int, sortField string, sortDesc bool) ([]Slot, int, error)

	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	WithSlotLease(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context, tx Tx, locked *Slot) error) error
}

// Tx is the transaction-scoped mutation surface.
type Tx interface {
	CreateSlot(ctx context.Context, s *Slot) error
	// UpdateStatus is a compare-and-set; it reports whether a row was updated.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	AppendEvent(ctx context.Context, ev outbox.Event) error
}
