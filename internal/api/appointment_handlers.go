package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/auth"
	"github.com/medops/hospital-reservations/internal/booking"
	"github.com/medops/hospital-reservations/internal/slot"
)

func bookAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		var patientID *uuid.UUID
		if req.PatientID != "" {
			id, err := uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			patientID = &id
		}

		appt, err := svc.Book(r.Context(), slotID, patientID, req.Reason, caller)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		if err := svc.Cancel(r.Context(), id, caller); err != nil {
			handleBookingError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func searchAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()

		var f booking.Filter
		if v := q.Get("patient_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			f.PatientID = &id
		}
		if v := q.Get("doctor_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			f.DoctorID = &id
		}
		f.DepartmentCode = q.Get("department_code")

		limit, offset := parsePage(r)
		items, total, err := svc.Search(r.Context(), f, limit, offset, q.Get("sort"), caller)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		resp := AppointmentListResponse{Items: make([]AppointmentResponse, 0, len(items)), Total: total, Limit: limit, Offset: offset}
		for _, a := range items {
			resp.Items = append(resp.Items, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, slot.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotNotAvailable):
		writeError(w, http.StatusConflict, "slot_not_available", err.Error())
	case errors.Is(err, booking.ErrPatientRequired),
		errors.Is(err, booking.ErrPatientMismatch),
		errors.Is(err, booking.ErrInvalidSort):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, auth.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access_denied", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
