package slot

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusBooked    Status = "BOOKED"
	StatusCancelled Status = "CANCELLED"
)

type Mode string

const (
	ModeInPerson  Mode = "IN_PERSON"
	ModeTelevisit Mode = "TELEVISIT"
)

// Slot is one bookable time window owned by a doctor. Slots are never deleted;
// a cancelled slot stays around in CANCELLED state.
type Slot struct {
	ID             uuid.UUID
	DoctorID       uuid.UUID
	DepartmentCode string
	Mode           Mode
	StartAt        time.Time
	EndAt          time.Time
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Filter holds the optional, conjunctive search criteria over AVAILABLE slots.
type Filter struct {
	DoctorID       *uuid.UUID
	DepartmentCode string
	Mode           *Mode
	From           *time.Time
	To             *time.Time
}
