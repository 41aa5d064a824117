package admission

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/auth"
	"github.com/medops/hospital-reservations/internal/outbox"
)

const (
	EventAdmissionCreated    = "ADMISSION_CREATED"
	EventAdmissionDischarged = "ADMISSION_DISCHARGED"
	EventAdmissionUpdated    = "ADMISSION_UPDATED"
	EventCapacitySet         = "CAPACITY_SET"

	Topic         = "admissions"
	CapacityTopic = "capacity"

	aggregateType         = "Admission"
	capacityAggregateType = "DepartmentCapacity"
)

var (
	ErrNoBedAvailable   = errors.New("no bed available in department")
	ErrNotDischargeable = errors.New("admission is not dischargeable in its current state")
	ErrAdmissionClosed  = errors.New("admission is not active")
	ErrNegativeBeds     = errors.New("total beds must be zero or positive")
	ErrDeptRequired     = errors.New("department code is required")
)

type Service struct {
	repo Repository
	acl  auth.AccessControl
}

func NewService(repo Repository, acl auth.AccessControl) *Service {
	return &Service{repo: repo, acl: acl}
}

func normalizeDept(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Admit places the patient in one of the department's beds. The capacity
// lease serializes concurrent intakes per department: occupancy is recounted
// under the lock, so the configured total can never be exceeded by a
// committed transaction.
func (s *Service) Admit(ctx context.Context, in AdmitInput, caller auth.Caller) (*Admission, error) {
	dept := normalizeDept(in.DepartmentCode)
	if dept == "" {
		return nil, ErrDeptRequired
	}
	if err := s.acl.RequireDepartmentAuthority(ctx, dept, caller); err != nil {
		return nil, err
	}

	var created *Admission
	err := s.repo.WithCapacityLease(ctx, dept, func(ctx context.Context, tx Tx, locked *DepartmentCapacity) error {
		occupied, err := tx.CountActive(ctx, dept)
		if err != nil {
			return err
		}
		if occupied >= locked.TotalBeds {
			return ErrNoBedAvailable
		}

		adm := &Admission{
			ID:                uuid.New(),
			PatientID:         in.PatientID,
			DepartmentCode:    dept,
			AdmissionType:     strings.TrimSpace(in.AdmissionType),
			Status:            StatusActive,
			AdmittedAt:        time.Now(),
			AttendingDoctorID: in.AttendingDoctorID,
			Notes:             in.Notes,
		}
		if err := tx.CreateAdmission(ctx, adm); err != nil {
			return err
		}
		created = adm

		ev, err := outbox.NewEvent(aggregateType, adm.ID.String(), EventAdmissionCreated, map[string]any{
			"admission_id":    adm.ID.String(),
			"patient_id":      adm.PatientID.String(),
			"department_code": adm.DepartmentCode,
			"admission_type":  adm.AdmissionType,
			"admitted_at":     adm.AdmittedAt,
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

// Discharge is deliberately NOT idempotent: a second discharge of the same
// admission fails with ErrNotDischargeable. No capacity lease is taken here,
// discharging only frees beds.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID, caller auth.Caller) (*Admission, error) {
	adm, err := s.repo.GetAdmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.acl.RequireDepartmentAuthority(ctx, adm.DepartmentCode, caller); err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.MarkDischarged(ctx, id, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotDischargeable
		}

		ev, err := outbox.NewEvent(aggregateType, id.String(), EventAdmissionDischarged, map[string]any{
			"admission_id":    id.String(),
			"patient_id":      adm.PatientID.String(),
			"department_code": adm.DepartmentCode,
			"discharged_at":   now,
		}, Topic)
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	adm.Status = StatusDischarged
	adm.DischargedAt = &now
	return adm, nil
}

// Update patches attending doctor and notes while the admission is ACTIVE.
// A patch that changes nothing is a no-op and emits no event.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput, caller auth.Caller) (*Admission, error) {
	adm, err := s.repo.GetAdmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.acl.RequireDepartmentAuthority(ctx, adm.DepartmentCode, caller); err != nil {
		return nil, err
	}
	if adm.Status != StatusActive {
		return nil, ErrAdmissionClosed
	}

	if !changesAnything(adm, in) {
		return adm, nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.PatchAdmission(ctx, id, in.AttendingDoctorID, in.Notes)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAdmissionClosed
		}

		payload := map[string]any{
			"admission_id":    id.String(),
			"department_code": adm.DepartmentCode,
		}
		if in.AttendingDoctorID != nil {
			payload["attending_doctor_id"] = in.AttendingDoctorID.String()
		}
		if in.Notes != nil {
			payload["notes"] = *in.Notes
		}

		ev, err := outbox.NewEvent(aggregateType, id.String(), EventAdmissionUpdated, payload, Topic)
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	if in.AttendingDoctorID != nil {
		adm.AttendingDoctorID = in.AttendingDoctorID
	}
	if in.Notes != nil {
		adm.Notes = in.Notes
	}
	return adm, nil
}

func changesAnything(adm *Admission, in UpdateInput) bool {
	if in.AttendingDoctorID != nil {
		if adm.AttendingDoctorID == nil || *adm.AttendingDoctorID != *in.AttendingDoctorID {
			return true
		}
	}
	if in.Notes != nil {
		if adm.Notes == nil || *adm.Notes != *in.Notes {
			return true
		}
	}
	return false
}

// Search scopes non-admin callers to their authorized departments; a caller
// with no departments gets an empty page rather than an error.
func (s *Service) Search(ctx context.Context, f Filter, limit, offset int, sortDesc bool, caller auth.Caller) ([]Admission, int, error) {
	f.DepartmentCode = normalizeDept(f.DepartmentCode)

	if !caller.IsAdmin() {
		allowed := s.acl.CallerDepartments(caller)
		if len(allowed) == 0 {
			return nil, 0, nil
		}
		if f.DepartmentCode != "" {
			if _, ok := allowed[f.DepartmentCode]; !ok {
				return nil, 0, nil
			}
		} else {
			depts := make([]string, 0, len(allowed))
			for d := range allowed {
				depts = append(depts, d)
			}
			f.Departments = depts
		}
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

	return s.repo.Search(ctx, f, limit, offset, sortDesc)
}

// SetCapacity creates or replaces the bed total for a department. Capacity is
// administrator-only: department staff manage admissions against the total,
// they do not set it.
func (s *Service) SetCapacity(ctx context.Context, deptCode string, totalBeds int, caller auth.Caller) (*DepartmentCapacity, error) {
	dept := normalizeDept(deptCode)
	if dept == "" {
		return nil, ErrDeptRequired
	}
	if totalBeds < 0 {
		return nil, ErrNegativeBeds
	}
	if !caller.IsAdmin() {
		return nil, auth.ErrAccessDenied
	}

	var saved *DepartmentCapacity
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		rec, err := tx.UpsertCapacity(ctx, dept, totalBeds)
		if err != nil {
			return err
		}
		saved = rec

		ev, err := outbox.NewEvent(capacityAggregateType, dept, EventCapacitySet, map[string]any{
			"department_code": dept,
			"total_beds":      totalBeds,
		}, CapacityTopic)
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// GetCapacity returns the configured total plus live occupancy. Reads take no
// lease; the numbers are a consistent-enough snapshot for dashboards.
func (s *Service) GetCapacity(ctx context.Context, deptCode string) (*CapacityView, error) {
	dept := normalizeDept(deptCode)
	rec, err := s.repo.GetCapacity(ctx, dept)
	if err != nil {
		return nil, err
	}

	occupied, err := s.repo.CountActive(ctx, dept)
	if err != nil {
		return nil, err
	}

	available := rec.TotalBeds - occupied
	if available < 0 {
		available = 0
	}

	return &CapacityView{
		DeptCode:  rec.DeptCode,
		TotalBeds: rec.TotalBeds,
		Occupied:  occupied,
		Available: available,
	}, nil
}
