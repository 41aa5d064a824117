package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/auth"
	"github.com/medops/hospital-reservations/internal/outbox"
	"github.com/medops/hospital-reservations/internal/slot"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"

	Topic         = "appointments"
	aggregateType = "Appointment"
)

var (
	ErrSlotNotAvailable = errors.New("slot not available")
	ErrPatientRequired  = errors.New("patient id is required")
	ErrPatientMismatch  = errors.New("patient id does not match caller identity")
	ErrInvalidSort      = errors.New("unsupported sort field")
)

var sortWhitelist = map[string]string{
	"start_at":   "start_at",
	"created_at": "created_at",
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Book reserves the slot for the patient. The slot lease fully serializes
// concurrent attempts against the same slot: at most one caller observes
// AVAILABLE and flips it, everyone else fails with ErrSlotNotAvailable.
func (s *Service) Book(ctx context.Context, slotID uuid.UUID, patientID *uuid.UUID, reason string, caller auth.Caller) (*Appointment, error) {
	effectivePatient, err := resolvePatient(patientID, caller)
	if err != nil {
		return nil, err
	}

	var created *Appointment
	err = s.repo.WithSlotLease(ctx, slotID, func(ctx context.Context, tx Tx, locked *slot.Slot) error {
		if locked.Status != slot.StatusAvailable {
			return ErrSlotNotAvailable
		}

		ok, err := tx.UpdateSlotStatus(ctx, slotID, slot.StatusAvailable, slot.StatusBooked)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("slot %s changed state under lease", slotID)
		}

		now := time.Now()
		appt := &Appointment{
			ID:             uuid.New(),
			SlotID:         locked.ID,
			PatientID:      effectivePatient,
			DoctorID:       locked.DoctorID,
			DepartmentCode: locked.DepartmentCode,
			Mode:           locked.Mode,
			StartAt:        locked.StartAt,
			EndAt:          locked.EndAt,
			Status:         StatusBooked,
			Reason:         strings.TrimSpace(reason),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return err
		}
		created = appt

		ev, err := outbox.NewEvent(aggregateType, appt.ID.String(), EventAppointmentBooked, map[string]any{
			"appointment_id":  appt.ID.String(),
			"slot_id":         appt.SlotID.String(),
			"patient_id":      appt.PatientID.String(),
			"doctor_id":       appt.DoctorID.String(),
			"department_code": appt.DepartmentCode,
			"mode":            string(appt.Mode),
			"start_at":        appt.StartAt,
			"end_at":          appt.EndAt,
		}, Topic)
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// resolvePatient applies the identity rules: admins must name the patient,
// patients may only book for themselves.
func resolvePatient(patientID *uuid.UUID, caller auth.Caller) (uuid.UUID, error) {
	switch caller.Role {
	case auth.RoleAdmin:
		if patientID == nil {
			return uuid.Nil, ErrPatientRequired
		}
		return *patientID, nil
	case auth.RolePatient:
		if caller.PatientID == nil {
			return uuid.Nil, ErrPatientRequired
		}
		if patientID != nil && *patientID != *caller.PatientID {
			return uuid.Nil, ErrPatientMismatch
		}
		return *caller.PatientID, nil
	default:
		return uuid.Nil, auth.ErrAccessDenied
	}
}

// Cancel is idempotent: cancelling an already cancelled appointment succeeds
// without touching state or emitting an event. On a real cancellation the
// slot is freed again unless it was independently cancelled in the meantime.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, caller auth.Caller) error {
	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return err
	}

	if !caller.IsAdmin() {
		if caller.Role != auth.RolePatient || caller.PatientID == nil || *caller.PatientID != appt.PatientID {
			return auth.ErrAccessDenied
		}
	}

	if appt.Status == StatusCancelled {
		return nil
	}

	return s.repo.WithSlotLease(ctx, appt.SlotID, func(ctx context.Context, tx Tx, locked *slot.Slot) error {
		ok, err := tx.MarkCancelled(ctx, appointmentID, time.Now())
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race to another cancel; same terminal state either way.
			return nil
		}

		// Free the slot unless it was cancelled while booked.
		if locked.Status == slot.StatusBooked {
			if _, err := tx.UpdateSlotStatus(ctx, locked.ID, slot.StatusBooked, slot.StatusAvailable); err != nil {
				return err
			}
		}

		ev, err := outbox.NewEvent(aggregateType, appointmentID.String(), EventAppointmentCancelled, map[string]any{
			"appointment_id":  appointmentID.String(),
			"slot_id":         appt.SlotID.String(),
			"patient_id":      appt.PatientID.String(),
			"department_code": appt.DepartmentCode,
		}, Topic)
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	})
}

// Search applies role restrictions before filtering: patients see only their
// own appointments, doctors only their own schedule, admins see everything.
func (s *Service) Search(ctx context.Context, f Filter, limit, offset int, sort string, caller auth.Caller) ([]Appointment, int, error) {
	switch caller.Role {
	case auth.RoleAdmin:
	case auth.RolePatient:
		if caller.PatientID == nil {
			return nil, 0, auth.ErrAccessDenied
		}
		f.PatientID = caller.PatientID
	case auth.RoleDoctor:
		if caller.DoctorID == nil {
			return nil, 0, auth.ErrAccessDenied
		}
		f.DoctorID = caller.DoctorID
	default:
		return nil, 0, auth.ErrAccessDenied
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	field, desc, err := parseSort(sort)
	if err != nil {
		return nil, 0, err
	}

	return s.repo.Search(ctx, f, limit, offset, field, desc)
}

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
