package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/admission"
	"github.com/medops/hospital-reservations/internal/auth"
)

func admitHandler(svc *admission.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		var req AdmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		in := admission.AdmitInput{
			PatientID:      patientID,
			DepartmentCode: req.DepartmentCode,
			AdmissionType:  req.AdmissionType,
			Notes:          req.Notes,
		}
		if req.AttendingDoctorID != nil {
			id, err := uuid.Parse(*req.AttendingDoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_attending_doctor_id", "attending_doctor_id must be a valid UUID")
				return
			}
			in.AttendingDoctorID = &id
		}

		adm, err := svc.Admit(r.Context(), in, caller)
		if err != nil {
			handleAdmitError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAdmissionResponse(*adm))
	}
}

func dischargeHandler(svc *admission.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_admission_id", "id must be a valid UUID")
			return
		}

		adm, err := svc.Discharge(r.Context(), id, caller)
		if err != nil {
			handleAdmissionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAdmissionResponse(*adm))
	}
}

func updateAdmissionHandler(svc *admission.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_admission_id", "id must be a valid UUID")
			return
		}

		var req UpdateAdmissionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := admission.UpdateInput{Notes: req.Notes}
		if req.AttendingDoctorID != nil {
			docID, err := uuid.Parse(*req.AttendingDoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_attending_doctor_id", "attending_doctor_id must be a valid UUID")
				return
			}
			in.AttendingDoctorID = &docID
		}

		adm, err := svc.Update(r.Context(), id, in, caller)
		if err != nil {
			handleAdmissionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAdmissionResponse(*adm))
	}
}

func searchAdmissionsHandler(svc *admission.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()

		var f admission.Filter
		f.DepartmentCode = q.Get("department_code")
		if v := q.Get("status"); v != "" {
			st := admission.Status(v)
			if st != admission.StatusActive && st != admission.StatusDischarged {
				writeError(w, http.StatusBadRequest, "invalid_status", "status must be ACTIVE or DISCHARGED")
				return
			}
			f.Status = &st
		}

		limit, offset := parsePage(r)
		sortDesc := q.Get("sort") == "admitted_at:desc"

		items, total, err := svc.Search(r.Context(), f, limit, offset, sortDesc, caller)
		if err != nil {
			handleAdmissionError(w, err)
			return
		}

		resp := AdmissionListResponse{Items: make([]AdmissionResponse, 0, len(items)), Total: total, Limit: limit, Offset: offset}
		for _, a := range items {
			resp.Items = append(resp.Items, toAdmissionResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func setCapacityHandler(svc *admission.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		var req SetCapacityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		rec, err := svc.SetCapacity(r.Context(), chi.URLParam(r, "code"), req.TotalBeds, caller)
		if err != nil {
			handleAdmissionError(w, err)
			return
		}

		view, err := svc.GetCapacity(r.Context(), rec.DeptCode)
		if err != nil {
			handleAdmissionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toCapacityResponse(view))
	}
}

func getCapacityHandler(svc *admission.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.GetCapacity(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			if errors.Is(err, admission.ErrCapacityNotFound) {
				writeError(w, http.StatusNotFound, "capacity_not_found", err.Error())
				return
			}
			handleAdmissionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toCapacityResponse(view))
	}
}

func toCapacityResponse(v *admission.CapacityView) CapacityResponse {
	return CapacityResponse{
		DepartmentCode: v.DeptCode,
		TotalBeds:      v.TotalBeds,
		Occupied:       v.Occupied,
		Available:      v.Available,
	}
}

// handleAdmitError differs from the generic mapping in one spot: admitting
// into a department with no capacity record is a conflict, not a 404, because
// the admission itself referenced nothing missing.
func handleAdmitError(w http.ResponseWriter, err error) {
	if errors.Is(err, admission.ErrCapacityNotFound) {
		writeError(w, http.StatusConflict, "capacity_not_configured", err.Error())
		return
	}
	handleAdmissionError(w, err)
}

func handleAdmissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admission.ErrAdmissionNotFound):
		writeError(w, http.StatusNotFound, "admission_not_found", err.Error())
	case errors.Is(err, admission.ErrCapacityNotFound):
		writeError(w, http.StatusNotFound, "capacity_not_found", err.Error())
	case errors.Is(err, admission.ErrNoBedAvailable):
		writeError(w, http.StatusConflict, "no_bed_available", err.Error())
	case errors.Is(err, admission.ErrNotDischargeable):
		writeError(w, http.StatusConflict, "not_dischargeable", err.Error())
	case errors.Is(err, admission.ErrAdmissionClosed):
		writeError(w, http.StatusConflict, "admission_not_active", err.Error())
	case errors.Is(err, admission.ErrNegativeBeds),
		errors.Is(err, admission.ErrDeptRequired):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, auth.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access_denied", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
