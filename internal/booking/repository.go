package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/outbox"
	"github.com/medops/hospital-reservations/internal/slot"
)

var ErrAppointmentNotFound = errors.New("appointment not found")

// Repository contains all DB interactions needed by the booking service.
//
// WithSlotLease opens one transaction, takes an exclusive row lock on the slot
// and hands fn the locked row together with a tx-scoped mutation surface.
// Everything fn does commits iff it returns nil. All booking attempts against
// the same slot serialize on this lease; it is the only path that moves a slot
// out of AVAILABLE.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Search(ctx context.Context, f Filter, limit, offset int, sortField string, sortDesc bool) ([]Appointment, int, error)

	WithSlotLease(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context, tx Tx, locked *slot.Slot) error) error
}

type Tx interface {
	CreateAppointment(ctx context.Context, a *Appointment) error
	// MarkCancelled is a compare-and-set BOOKED -> CANCELLED; it reports
	// whether a row was updated.
	MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	UpdateSlotStatus(ctx context.Context, slotID uuid.UUID, from, to slot.Status) (bool, error)
	AppendEvent(ctx context.Context, ev outbox.Event) error
}
