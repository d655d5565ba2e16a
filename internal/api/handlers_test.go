package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenadam/clinic-scheduling/internal/scheduling"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestConvertDateHandler(t *testing.T) {
	h := convertDateHandler()

	t.Run("ethiopian new year", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/calendar/convert?date=2024-09-11", nil)
		rec := httptest.NewRecorder()

		h(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp CalendarResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "2024-09-11", resp.Gregorian)
		assert.Equal(t, 2017, resp.Ethiopian.Year)
		assert.Equal(t, 1, resp.Ethiopian.Month)
		assert.Equal(t, 1, resp.Ethiopian.Day)
		assert.Equal(t, "Meskerem", resp.Ethiopian.MonthName)
	})

	t.Run("missing date", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/calendar/convert", nil)
		rec := httptest.NewRecorder()

		h(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed date", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/calendar/convert?date=11-09-2024", nil)
		rec := httptest.NewRecorder()

		h(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTodayHandler(t *testing.T) {
	clock := fixedClock{now: time.Date(2024, time.September, 11, 15, 30, 0, 0, time.UTC)}
	h := todayHandler(clock)

	req := httptest.NewRequest(http.MethodGet, "/calendar/today", nil)
	rec := httptest.NewRecorder()

	h(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp CalendarResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2024-09-11", resp.Gregorian)
	assert.Equal(t, 2017, resp.Ethiopian.Year)
}

func TestBookAppointmentHandlerValidation(t *testing.T) {
	// Decode and validation failures never reach the service.
	h := bookAppointmentHandler(nil)

	cases := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing fields", `{}`},
		{"bad uuid", `{"doctor_id":"nope","patient_id":"nope","date":"2024-10-02","time":"09:30"}`},
		{"bad date", `{"doctor_id":"3e2f7e5e-34c3-4d76-9e36-5a70962b1c1d","patient_id":"0cb6e4e5-9f0e-4f82-9e1f-2f9d9f6f1f59","date":"tomorrow","time":"09:30"}`},
		{"bad time", `{"doctor_id":"3e2f7e5e-34c3-4d76-9e36-5a70962b1c1d","patient_id":"0cb6e4e5-9f0e-4f82-9e1f-2f9d9f6f1f59","date":"2024-10-02","time":"9am"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()

			h(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleBookErrorMapping(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{scheduling.ErrDoctorNotFound, http.StatusNotFound, "doctor_not_found"},
		{scheduling.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{scheduling.ErrUnknownSlot, http.StatusBadRequest, "unknown_slot"},
		{scheduling.ErrClinicClosed, http.StatusConflict, "clinic_closed"},
		{scheduling.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
		{scheduling.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.wantCode, func(t *testing.T) {
			rec := httptest.NewRecorder()

			handleBookError(rec, tc.err)

			assert.Equal(t, tc.wantStatus, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantCode, resp.Error)
		})
	}
}

func TestHandleTransitionErrorMapping(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{scheduling.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
		{scheduling.ErrInvalidTransition, http.StatusConflict, "invalid_status_transition"},
		{scheduling.ErrAlreadyCheckedIn, http.StatusConflict, "already_checked_in"},
		{scheduling.ErrWrongCheckInDay, http.StatusConflict, "wrong_check_in_day"},
	}

	for _, tc := range cases {
		t.Run(tc.wantCode, func(t *testing.T) {
			rec := httptest.NewRecorder()

			handleTransitionError(rec, tc.err)

			assert.Equal(t, tc.wantStatus, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantCode, resp.Error)
		})
	}
}
