package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tenadam/clinic-scheduling/internal/ethiopian"
	redisclient "github.com/tenadam/clinic-scheduling/internal/redis"
	"github.com/tenadam/clinic-scheduling/internal/scheduling"
)

var validate = validator.New()

func bookAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		doctorID, _ := uuid.Parse(req.DoctorID)
		patientID, _ := uuid.Parse(req.PatientID)
		date, _ := time.Parse("2006-01-02", req.Date)

		appt, err := svc.Book(r.Context(), doctorID, patientID, date, req.Time)
		if err != nil {
			handleBookError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientIDStr := r.URL.Query().Get("patient_id")
		if patientIDStr == "" {
			writeError(w, http.StatusBadRequest, "missing_patient_id", "patient_id query parameter is required")
			return
		}
		patientID, err := uuid.Parse(patientIDStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		limit := queryInt(r, "limit", 20)
		offset := queryInt(r, "offset", 0)

		appointments, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]AppointmentResponse, 0, len(appointments))
		for i := range appointments {
			resp = append(resp, toAppointmentResponse(&appointments[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func transitionHandler(apply func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := apply(r, id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		return svc.Confirm(r.Context(), id)
	})
}

func completeAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		return svc.Complete(r.Context(), id)
	})
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		return svc.Cancel(r.Context(), id)
	})
}

func checkInHandler(svc *scheduling.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*scheduling.Appointment, error) {
		return svc.CheckIn(r.Context(), id)
	})
}

func availableSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		date, ok := parseDateQuery(w, r)
		if !ok {
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), doctorID, date)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			DoctorID:      doctorID,
			Date:          date.Format("2006-01-02"),
			EthiopianDate: ethiopian.ToEthiopian(date),
			Slots:         slots,
		})
	}
}

func clinicQueueHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "id must be a valid UUID")
			return
		}

		date, ok := parseDateQuery(w, r)
		if !ok {
			return
		}

		entries, err := svc.Queue(r.Context(), clinicID, date)
		if err != nil {
			handleLookupError(w, err)
			return
		}

		resp := QueueResponse{
			ClinicID: clinicID,
			Date:     date.Format("2006-01-02"),
			Count:    len(entries),
			Entries:  make([]AppointmentResponse, 0, len(entries)),
		}
		for i := range entries {
			resp.Entries = append(resp.Entries, toAppointmentResponse(&entries[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createClosureHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateClosureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if !req.IsFullDay && (req.StartTime == nil || req.EndTime == nil) {
			writeError(w, http.StatusBadRequest, "invalid_request", "partial closures require start_time and end_time")
			return
		}
		if !req.IsFullDay && *req.EndTime <= *req.StartTime {
			writeError(w, http.StatusBadRequest, "invalid_request", "end_time must be after start_time")
			return
		}

		clinicID, _ := uuid.Parse(req.ClinicID)
		date, _ := time.Parse("2006-01-02", req.Date)

		closure := scheduling.ClinicClosure{
			ClinicID:  clinicID,
			Title:     req.Title,
			Date:      date,
			Type:      scheduling.ClosureType(req.Type),
			IsFullDay: req.IsFullDay,
		}
		if !req.IsFullDay {
			closure.StartTime = req.StartTime
			closure.EndTime = req.EndTime
		}

		created, err := svc.CreateClosure(r.Context(), closure)
		if err != nil {
			handleLookupError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toClosureResponse(created))
	}
}

func listClosuresHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicIDStr := r.URL.Query().Get("clinic_id")
		if clinicIDStr == "" {
			writeError(w, http.StatusBadRequest, "missing_clinic_id", "clinic_id query parameter is required")
			return
		}
		clinicID, err := uuid.Parse(clinicIDStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}

		closures, err := svc.ListClosures(r.Context(), clinicID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]ClosureResponse, 0, len(closures))
		for i := range closures {
			resp = append(resp, toClosureResponse(&closures[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deleteClosureHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_closure_id", "id must be a valid UUID")
			return
		}

		if err := svc.DeleteClosure(r.Context(), id); err != nil {
			handleLookupError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func convertDateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, ok := parseDateQuery(w, r)
		if !ok {
			return
		}

		writeJSON(w, http.StatusOK, CalendarResponse{
			Gregorian: date.Format("2006-01-02"),
			Ethiopian: ethiopian.ToEthiopian(date),
		})
	}
}

func todayHandler(clock scheduling.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := clock.Now()
		writeJSON(w, http.StatusOK, CalendarResponse{
			Gregorian: now.Format("2006-01-02"),
			Ethiopian: ethiopian.ToEthiopian(now),
		})
	}
}

// Helpers

func parseDateQuery(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing_date", "date query parameter is required (YYYY-MM-DD)")
		return time.Time{}, false
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// Error mapping

func handleBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrUnknownSlot):
		writeError(w, http.StatusBadRequest, "unknown_slot", err.Error())
	case errors.Is(err, scheduling.ErrClinicClosed):
		writeError(w, http.StatusConflict, "clinic_closed", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrAlreadyCheckedIn):
		writeError(w, http.StatusConflict, "already_checked_in", err.Error())
	case errors.Is(err, scheduling.ErrWrongCheckInDay):
		writeError(w, http.StatusConflict, "wrong_check_in_day", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
	case errors.Is(err, scheduling.ErrClosureNotFound):
		writeError(w, http.StatusNotFound, "closure_not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
