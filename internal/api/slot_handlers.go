package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medops/hospital-reservations/internal/auth"
	"github.com/medops/hospital-reservations/internal/slot"
)

func callerFrom(w http.ResponseWriter, r *http.Request) (auth.Caller, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "request has no caller identity")
	}
	return caller, ok
}

// parsePage clamps to the same bounds the services enforce, so the
// limit/offset echoed in list responses match the page actually served.
func parsePage(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func parseMode(s string) (slot.Mode, bool) {
	switch slot.Mode(s) {
	case slot.ModeInPerson, slot.ModeTelevisit:
		return slot.Mode(s), true
	}
	return "", false
}

func toCreateInput(req CreateSlotRequest) (slot.CreateInput, string) {
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return slot.CreateInput{}, "doctor_id must be a valid UUID"
	}
	mode, ok := parseMode(req.Mode)
	if !ok {
		return slot.CreateInput{}, "mode must be IN_PERSON or TELEVISIT"
	}
	return slot.CreateInput{
		DoctorID:       doctorID,
		DepartmentCode: req.DepartmentCode,
		Mode:           mode,
		StartAt:        req.StartAt,
		EndAt:          req.EndAt,
	}, ""
}

func createSlotHandler(svc *slot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in, msg := toCreateInput(req)
		if msg != "" {
			writeError(w, http.StatusBadRequest, "invalid_request", msg)
			return
		}

		created, err := svc.Create(r.Context(), in, caller)
		if err != nil {
			handleSlotError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(*created))
	}
}

func bulkCreateSlotsHandler(svc *slot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		var req BulkCreateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		inputs := make([]slot.CreateInput, 0, len(req.Slots))
		for _, item := range req.Slots {
			in, msg := toCreateInput(item)
			if msg != "" {
				writeError(w, http.StatusBadRequest, "invalid_request", msg)
				return
			}
			inputs = append(inputs, in)
		}

		created, err := svc.CreateBulk(r.Context(), inputs, caller)
		if err != nil {
			handleSlotError(w, err)
			return
		}

		items := make([]SlotResponse, 0, len(created))
		for _, s := range created {
			items = append(items, toSlotResponse(s))
		}
		writeJSON(w, http.StatusCreated, items)
	}
}

func cancelSlotHandler(svc *slot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(w, r)
		if !ok {
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
			return
		}

		if err := svc.Cancel(r.Context(), id, caller); err != nil {
			handleSlotError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getSlotHandler(svc *slot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
			return
		}

		s, err := svc.Get(r.Context(), id)
		if err != nil {
			handleSlotError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(*s))
	}
}

func searchSlotsHandler(svc *slot.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var f slot.Filter
		if v := q.Get("doctor_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			f.DoctorID = &id
		}
		f.DepartmentCode = q.Get("department_code")
		if v := q.Get("mode"); v != "" {
			mode, ok := parseMode(v)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_mode", "mode must be IN_PERSON or TELEVISIT")
				return
			}
			f.Mode = &mode
		}
		if v := q.Get("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
				return
			}
			f.From = &t
		}
		if v := q.Get("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
				return
			}
			f.To = &t
		}

		limit, offset := parsePage(r)
		items, total, err := svc.SearchAvailable(r.Context(), f, limit, offset, q.Get("sort"))
		if err != nil {
			handleSlotError(w, err)
			return
		}

		resp := SlotListResponse{Items: make([]SlotResponse, 0, len(items)), Total: total, Limit: limit, Offset: offset}
		for _, s := range items {
			resp.Items = append(resp.Items, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSlotError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, slot.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, slot.ErrSlotBooked):
		writeError(w, http.StatusConflict, "slot_booked", err.Error())
	case errors.Is(err, slot.ErrInvalidTimeRange),
		errors.Is(err, slot.ErrEmptyBulk),
		errors.Is(err, slot.ErrInvalidSort):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, auth.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access_denied", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
