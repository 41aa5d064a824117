package admission

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusDischarged Status = "DISCHARGED"
)

// Admission is one patient's occupancy of one bed in a department. Discharge
// is terminal; an admission row is never deleted.
type Admission struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	DepartmentCode    string
	AdmissionType     string
	Status            Status
	AdmittedAt        time.Time
	DischargedAt      *time.Time
	AttendingDoctorID *uuid.UUID
	Notes             *string
}

// DepartmentCapacity is the configured bed total for one department, keyed by
// department code. Occupancy is never stored here; it is recomputed by a live
// count under the capacity lease.
type DepartmentCapacity struct {
	DeptCode  string
	TotalBeds int
	UpdatedAt time.Time
}

// CapacityView is the read shape: configured total plus derived occupancy.
type CapacityView struct {
	DeptCode  string
	TotalBeds int
	Occupied  int
	Available int
}

type Filter struct {
	DepartmentCode string
	Status         *Status
	// Departments restricts results to these codes when non-nil; used to
	// scope non-admin callers to their authorized departments.
	Departments []string
}

type UpdateInput struct {
	AttendingDoctorID *uuid.UUID
	Notes             *string
}

type AdmitInput struct {
	PatientID         uuid.UUID
	DepartmentCode    string
	AdmissionType     string
	Notes             *string
	AttendingDoctorID *uuid.UUID
}
