package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medops/hospital-reservations/internal/admission"
	"github.com/medops/hospital-reservations/internal/auth"
	"github.com/medops/hospital-reservations/internal/booking"
	"github.com/medops/hospital-reservations/internal/slot"
)

func recordError(t *testing.T, mapper func(http.ResponseWriter, error), err error) (int, ErrorResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	mapper(rec, err)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestSlotErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{slot.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
		{slot.ErrSlotBooked, http.StatusConflict, "slot_booked"},
		{slot.ErrInvalidTimeRange, http.StatusBadRequest, "invalid_request"},
		{slot.ErrEmptyBulk, http.StatusBadRequest, "invalid_request"},
		{slot.ErrInvalidSort, http.StatusBadRequest, "invalid_request"},
		{auth.ErrAccessDenied, http.StatusForbidden, "access_denied"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		status, body := recordError(t, handleSlotError, tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, body.Error, tc.err.Error())
	}
}

func TestBookingErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{slot.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
		{booking.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{booking.ErrSlotNotAvailable, http.StatusConflict, "slot_not_available"},
		{booking.ErrPatientRequired, http.StatusBadRequest, "invalid_request"},
		{booking.ErrPatientMismatch, http.StatusBadRequest, "invalid_request"},
		{auth.ErrAccessDenied, http.StatusForbidden, "access_denied"},
	}

	for _, tc := range cases {
		status, body := recordError(t, handleBookingError, tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, body.Error, tc.err.Error())
	}
}

func TestAdmissionErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{admission.ErrAdmissionNotFound, http.StatusNotFound, "admission_not_found"},
		{admission.ErrNoBedAvailable, http.StatusConflict, "no_bed_available"},
		{admission.ErrNotDischargeable, http.StatusConflict, "not_dischargeable"},
		{admission.ErrAdmissionClosed, http.StatusConflict, "admission_not_active"},
		{admission.ErrNegativeBeds, http.StatusBadRequest, "invalid_request"},
		{admission.ErrDeptRequired, http.StatusBadRequest, "invalid_request"},
		{auth.ErrAccessDenied, http.StatusForbidden, "access_denied"},
	}

	for _, tc := range cases {
		status, body := recordError(t, handleAdmissionError, tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, body.Error, tc.err.Error())
	}
}

// A missing capacity row is a 404 except when admitting, where the admission
// request itself is fine and the department is simply full of nothing.
func TestCapacityNotFoundMapping(t *testing.T) {
	status, body := recordError(t, handleAdmitError, admission.ErrCapacityNotFound)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "capacity_not_configured", body.Error)

	status, body = recordError(t, handleAdmissionError, admission.ErrCapacityNotFound)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "capacity_not_found", body.Error)
}

func TestParseMode(t *testing.T) {
	mode, ok := parseMode("IN_PERSON")
	assert.True(t, ok)
	assert.Equal(t, slot.ModeInPerson, mode)

	mode, ok = parseMode("TELEVISIT")
	assert.True(t, ok)
	assert.Equal(t, slot.ModeTelevisit, mode)

	_, ok = parseMode("phone")
	assert.False(t, ok)
	_, ok = parseMode("")
	assert.False(t, ok)
}

func TestParsePage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/slots?limit=5&offset=40", nil)
	limit, offset := parsePage(req)
	assert.Equal(t, 5, limit)
	assert.Equal(t, 40, offset)

	// Missing or unusable values clamp to the served defaults, not zero.
	req = httptest.NewRequest(http.MethodGet, "/slots?limit=abc", nil)
	limit, offset = parsePage(req)
	assert.Equal(t, 20, limit)
	assert.Zero(t, offset)

	req = httptest.NewRequest(http.MethodGet, "/slots?limit=500&offset=-3", nil)
	limit, offset = parsePage(req)
	assert.Equal(t, 100, limit)
	assert.Zero(t, offset)
}
