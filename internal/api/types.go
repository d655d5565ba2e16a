package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/tenadam/clinic-scheduling/internal/ethiopian"
	"github.com/tenadam/clinic-scheduling/internal/scheduling"
)

type BookAppointmentRequest struct {
	DoctorID  string `json:"doctor_id" validate:"required,uuid"`
	PatientID string `json:"patient_id" validate:"required,uuid"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Time      string `json:"time" validate:"required,datetime=15:04"`
}

type CreateClosureRequest struct {
	ClinicID  string  `json:"clinic_id" validate:"required,uuid"`
	Title     string  `json:"title" validate:"required,max=200"`
	Date      string  `json:"date" validate:"required,datetime=2006-01-02"`
	Type      string  `json:"type" validate:"required,oneof=holiday ceremony emergency maintenance"`
	IsFullDay bool    `json:"is_full_day"`
	StartTime *string `json:"start_time,omitempty" validate:"omitempty,datetime=15:04"`
	EndTime   *string `json:"end_time,omitempty" validate:"omitempty,datetime=15:04"`
}

// AppointmentResponse carries the dual-calendar view: the Gregorian date of
// record plus its derived Ethiopian representation.
type AppointmentResponse struct {
	ID            uuid.UUID      `json:"id"`
	ClinicID      uuid.UUID      `json:"clinic_id"`
	DoctorID      uuid.UUID      `json:"doctor_id"`
	PatientID     uuid.UUID      `json:"patient_id"`
	Date          string         `json:"date"`
	EthiopianDate ethiopian.Date `json:"ethiopian_date"`
	Time          string         `json:"time"`
	Status        string         `json:"status"`
	CheckedInAt   *time.Time     `json:"checked_in_at,omitempty"`
	QueuePosition *int           `json:"queue_position,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		ClinicID:      a.ClinicID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		Date:          a.Date.Format("2006-01-02"),
		EthiopianDate: ethiopian.ToEthiopian(a.Date),
		Time:          a.TimeLabel,
		Status:        string(a.Status),
		CheckedInAt:   a.CheckedInAt,
		QueuePosition: a.QueuePosition,
		ExpiresAt:     a.ExpiresAt,
	}
}

type ClosureResponse struct {
	ID            uuid.UUID      `json:"id"`
	ClinicID      uuid.UUID      `json:"clinic_id"`
	Title         string         `json:"title"`
	Date          string         `json:"date"`
	EthiopianDate ethiopian.Date `json:"ethiopian_date"`
	Type          string         `json:"type"`
	IsFullDay     bool           `json:"is_full_day"`
	StartTime     *string        `json:"start_time,omitempty"`
	EndTime       *string        `json:"end_time,omitempty"`
}

func toClosureResponse(c *scheduling.ClinicClosure) ClosureResponse {
	return ClosureResponse{
		ID:            c.ID,
		ClinicID:      c.ClinicID,
		Title:         c.Title,
		Date:          c.Date.Format("2006-01-02"),
		EthiopianDate: c.EthiopianDate(),
		Type:          string(c.Type),
		IsFullDay:     c.IsFullDay,
		StartTime:     c.StartTime,
		EndTime:       c.EndTime,
	}
}

type SlotsResponse struct {
	DoctorID      uuid.UUID      `json:"doctor_id"`
	Date          string         `json:"date"`
	EthiopianDate ethiopian.Date `json:"ethiopian_date"`
	Slots         []string       `json:"slots"`
}

type QueueResponse struct {
	ClinicID uuid.UUID             `json:"clinic_id"`
	Date     string                `json:"date"`
	Count    int                   `json:"count"`
	Entries  []AppointmentResponse `json:"entries"`
}

type CalendarResponse struct {
	Gregorian string         `json:"gregorian"`
	Ethiopian ethiopian.Date `json:"ethiopian"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
