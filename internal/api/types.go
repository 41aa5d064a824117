package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/admission"
	"github.com/medops/hospital-reservations/internal/booking"
	"github.com/medops/hospital-reservations/internal/slot"
)

type CreateSlotRequest struct {
	DoctorID       string    `json:"doctor_id"`
	DepartmentCode string    `json:"department_code"`
	Mode           string    `json:"mode"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
}

type BulkCreateSlotsRequest struct {
	Slots []CreateSlotRequest `json:"slots"`
}

type SlotResponse struct {
	ID             uuid.UUID `json:"id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	DepartmentCode string    `json:"department_code"`
	Mode           string    `json:"mode"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Status         string    `json:"status"`
}

func toSlotResponse(s slot.Slot) SlotResponse {
	return SlotResponse{
		ID:             s.ID,
		DoctorID:       s.DoctorID,
		DepartmentCode: s.DepartmentCode,
		Mode:           string(s.Mode),
		StartAt:        s.StartAt,
		EndAt:          s.EndAt,
		Status:         string(s.Status),
	}
}

type SlotListResponse struct {
	Items  []SlotResponse `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type BookAppointmentRequest struct {
	SlotID    string `json:"slot_id"`
	PatientID string `json:"patient_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	SlotID         uuid.UUID  `json:"slot_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	DepartmentCode string     `json:"department_code"`
	Mode           string     `json:"mode"`
	StartAt        time.Time  `json:"start_at"`
	EndAt          time.Time  `json:"end_at"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
}

func toAppointmentResponse(a booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		SlotID:         a.SlotID,
		PatientID:      a.PatientID,
		DoctorID:       a.DoctorID,
		DepartmentCode: a.DepartmentCode,
		Mode:           string(a.Mode),
		StartAt:        a.StartAt,
		EndAt:          a.EndAt,
		Status:         string(a.Status),
		Reason:         a.Reason,
		CancelledAt:    a.CancelledAt,
	}
}

type AppointmentListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type AdmitRequest struct {
	PatientID         string  `json:"patient_id"`
	DepartmentCode    string  `json:"department_code"`
	AdmissionType     string  `json:"admission_type"`
	Notes             *string `json:"notes,omitempty"`
	AttendingDoctorID *string `json:"attending_doctor_id,omitempty"`
}

type UpdateAdmissionRequest struct {
	AttendingDoctorID *string `json:"attending_doctor_id,omitempty"`
	Notes             *string `json:"notes,omitempty"`
}

type AdmissionResponse struct {
	ID                uuid.UUID  `json:"id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	DepartmentCode    string     `json:"department_code"`
	AdmissionType     string     `json:"admission_type"`
	Status            string     `json:"status"`
	AdmittedAt        time.Time  `json:"admitted_at"`
	DischargedAt      *time.Time `json:"discharged_at,omitempty"`
	AttendingDoctorID *uuid.UUID `json:"attending_doctor_id,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
}

func toAdmissionResponse(a admission.Admission) AdmissionResponse {
	return AdmissionResponse{
		ID:                a.ID,
		PatientID:         a.PatientID,
		DepartmentCode:    a.DepartmentCode,
		AdmissionType:     a.AdmissionType,
		Status:            string(a.Status),
		AdmittedAt:        a.AdmittedAt,
		DischargedAt:      a.DischargedAt,
		AttendingDoctorID: a.AttendingDoctorID,
		Notes:             a.Notes,
	}
}

type AdmissionListResponse struct {
	Items  []AdmissionResponse `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

type SetCapacityRequest struct {
	TotalBeds int `json:"total_beds"`
}

type CapacityResponse struct {
	DepartmentCode string `json:"department_code"`
	TotalBeds      int    `json:"total_beds"`
	Occupied       int    `json:"occupied"`
	Available      int    `json:"available"`
}
