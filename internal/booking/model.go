package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/slot"
)

type Status string

const (
	StatusBooked    Status = "BOOKED"
	StatusCancelled Status = "CANCELLED"
)

// Appointment is a patient's claim on exactly one slot. Schedule data is
// copied from the slot at booking time so the appointment stays meaningful
// even if the slot row changes later.
type Appointment struct {
	ID             uuid.UUID
	SlotID         uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	DepartmentCode string
	Mode           slot.Mode
	StartAt        time.Time
	EndAt          time.Time
	Status         Status
	Reason         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CancelledAt    *time.Time
}

type Filter struct {
	PatientID      *uuid.UUID
	DoctorID       *uuid.UUID
	DepartmentCode string
}
