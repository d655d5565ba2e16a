package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/tenadam/clinic-scheduling/internal/ethiopian"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type ClosureType string

const (
	ClosureHoliday     ClosureType = "holiday"
	ClosureCeremony    ClosureType = "ceremony"
	ClosureEmergency   ClosureType = "emergency"
	ClosureMaintenance ClosureType = "maintenance"
)

type Clinic struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClinicClosure blocks booking on a Gregorian calendar day, either entirely
// or for the window [StartTime, EndTime). Immutable once created; removal is
// a hard delete.
type ClinicClosure struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Title     string
	Date      time.Time
	Type      ClosureType
	IsFullDay bool
	StartTime *string // "HH:MM", set when IsFullDay is false
	EndTime   *string
	CreatedAt time.Time
}

// EthiopianDate derives the closure's Ethiopian calendar representation.
// Never persisted; the Gregorian date is the source of truth.
func (c ClinicClosure) EthiopianDate() ethiopian.Date {
	return ethiopian.ToEthiopian(c.Date)
}

// Appointment holds one bookable slot for one patient. Date is day
// granularity; TimeLabel is the slot's "HH:MM" label. CheckedInAt and
// QueuePosition are set together at check-in and never unset.
type Appointment struct {
	ID            uuid.UUID
	ClinicID      uuid.UUID
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
	Date          time.Time
	TimeLabel     string
	Status        AppointmentStatus
	CheckedInAt   *time.Time
	QueuePosition *int
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a Appointment) CheckedIn() bool {
	return a.CheckedInAt != nil
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// transitions lists the legal status moves. Completed and cancelled are
// terminal.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to AppointmentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
