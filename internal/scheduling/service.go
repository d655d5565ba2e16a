package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tenadam/clinic-scheduling/internal/config"
	"github.com/tenadam/clinic-scheduling/internal/ethiopian"
	redisclient "github.com/tenadam/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventPatientCheckedIn     = "PATIENT_CHECKED_IN"
	EventClosureCreated       = "CLOSURE_CREATED"
	EventClosureDeleted       = "CLOSURE_DELETED"
)

var (
	ErrClinicClosed      = errors.New("clinic is closed for the requested date and time")
	ErrSlotUnavailable   = errors.New("slot already has an active appointment")
	ErrSlotBeingBooked   = errors.New("slot is currently being booked, please retry")
	ErrUnknownSlot       = errors.New("time is not on the clinic slot grid")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyCheckedIn  = errors.New("appointment is already checked in")
	ErrWrongCheckInDay   = errors.New("appointment is not scheduled for today")
)

// Decision is the outcome of a bookability check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	queue  redisclient.QueueCounter
	clock  Clock
	cfg    config.Config
	grid   []string
	logger *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, queue redisclient.QueueCounter, clock Clock, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		queue:  queue,
		clock:  clock,
		cfg:    cfg,
		grid:   slotGrid(cfg.ClinicOpen, cfg.ClinicClose, cfg.SlotWidth),
		logger: logger,
	}
}

// slotGrid builds the chronological list of "HH:MM" labels between open
// (inclusive) and close (exclusive).
func slotGrid(open, close string, width time.Duration) []string {
	start, err := time.Parse("15:04", open)
	if err != nil {
		return nil
	}
	end, err := time.Parse("15:04", close)
	if err != nil {
		return nil
	}

	var grid []string
	for t := start; t.Before(end); t = t.Add(width) {
		grid = append(grid, t.Format("15:04"))
	}
	return grid
}

// dayOf truncates a timestamp to its calendar day in UTC. Appointments and
// closures are day-granular.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsBookable decides whether a clinic accepts bookings at the given date and
// time. Closures are matched on the Ethiopian calendar day derived from the
// Gregorian date of record. A full-day closure blocks every time; a partial
// closure blocks [StartTime, EndTime) only.
func (s *Service) IsBookable(ctx context.Context, clinicID uuid.UUID, date time.Time, timeLabel string) (Decision, error) {
	closures, err := s.repo.ListClosuresByClinic(ctx, clinicID)
	if err != nil {
		return Decision{}, fmt.Errorf("list closures: %w", err)
	}

	target := ethiopian.ToEthiopian(date)

	for _, c := range closures {
		if !ethiopian.SameDay(ethiopian.ToEthiopian(c.Date), target) {
			continue
		}

		if c.IsFullDay {
			return Decision{Allowed: false, Reason: fmt.Sprintf("clinic closed: %s", c.Title)}, nil
		}

		// Zero-padded "HH:MM" labels compare correctly as strings.
		if c.StartTime != nil && c.EndTime != nil &&
			timeLabel >= *c.StartTime && timeLabel < *c.EndTime {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("clinic closed %s-%s: %s", *c.StartTime, *c.EndTime, c.Title),
			}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// AvailableSlots returns the clinic's slot grid for a day minus slots held
// by an active (pending or confirmed) appointment for the doctor. The result
// is chronological and recomputed fresh on every call.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]string, error) {
	booked, err := s.repo.ListActiveAppointmentsForDay(ctx, doctorID, dayOf(date))
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}

	taken := make(map[string]bool, len(booked))
	for _, a := range booked {
		taken[a.TimeLabel] = true
	}

	free := make([]string, 0, len(s.grid))
	for _, label := range s.grid {
		if !taken[label] {
			free = append(free, label)
		}
	}
	return free, nil
}

// Book reserves a slot for a patient as a pending appointment. The check and
// the claiming insert run inside a per-slot distributed lock so concurrent
// requests for the same (doctor, date, time) cannot both succeed; the partial
// unique index on active slots backstops the lock.
func (s *Service) Book(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, timeLabel string) (*Appointment, error) {
	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	if !s.onGrid(timeLabel) {
		return nil, ErrUnknownSlot
	}

	day := dayOf(date)

	decision, err := s.IsBookable(ctx, doctor.ClinicID, day, timeLabel)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrClinicClosed, decision.Reason)
	}

	slotKey := fmt.Sprintf("%s:%s:%s", doctorID, day.Format("2006-01-02"), timeLabel)

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, slotKey, func(lockCtx context.Context) error {
		// Re-check inside the critical section.
		existing, err := s.repo.GetActiveAppointmentForSlot(lockCtx, doctorID, day, timeLabel)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check active appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotUnavailable
		}

		expiresAt := s.clock.Now().Add(s.cfg.PendingTTL)
		appt, err := s.repo.CreatePendingAppointment(lockCtx, Appointment{
			ClinicID:  doctor.ClinicID,
			DoctorID:  doctorID,
			PatientID: patientID,
			Date:      day,
			TimeLabel: timeLabel,
			ExpiresAt: &expiresAt,
		})
		if err != nil {
			return fmt.Errorf("create pending appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"doctor_id":  doctorID.String(),
			"patient_id": patientID.String(),
			"date":       day.Format("2006-01-02"),
			"time":       timeLabel,
			"expires_at": expiresAt,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

func (s *Service) onGrid(timeLabel string) bool {
	for _, label := range s.grid {
		if label == timeLabel {
			return true
		}
	}
	return false
}

// Confirm moves a pending appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, EventAppointmentConfirmed)
}

// Complete moves a confirmed appointment to completed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, EventAppointmentCompleted)
}

// Cancel moves a pending or confirmed appointment to cancelled. Cancelling
// an appointment that is already cancelled or completed is an
// invalid-transition error, not a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, EventAppointmentCancelled)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, eventType string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if !CanTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Status moved under us between read and guarded update.
			return nil, fmt.Errorf("%w: concurrent update", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.logEvent(ctx, updated.ID, eventType, map[string]any{
		"from": string(appt.Status),
		"to":   string(to),
	})

	return updated, nil
}

// CheckIn records a patient's physical arrival. The appointment must be
// confirmed, scheduled for today, and not already checked in. The queue
// position comes from an atomic per clinic/day counter, so order is strictly
// first-checked-in, first-served; status does not change.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: check-in requires a confirmed appointment, got %s", ErrInvalidTransition, appt.Status)
	}
	if appt.CheckedIn() {
		return nil, ErrAlreadyCheckedIn
	}

	now := s.clock.Now()
	today := dayOf(now)
	if !dayOf(appt.Date).Equal(today) {
		return nil, ErrWrongCheckInDay
	}

	position, err := s.queue.NextPosition(ctx, appt.ClinicID, today.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("assign queue position: %w", err)
	}

	updated, err := s.repo.MarkCheckedIn(ctx, id, now, position)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// The checked_in_at IS NULL guard failed: someone else won.
			return nil, ErrAlreadyCheckedIn
		}
		return nil, fmt.Errorf("mark checked in: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventPatientCheckedIn, map[string]any{
		"queue_position": position,
		"checked_in_at":  now,
	})

	return updated, nil
}

// Queue returns the day's checked-in appointments for a clinic ordered by
// queue position.
func (s *Service) Queue(ctx context.Context, clinicID uuid.UUID, date time.Time) ([]Appointment, error) {
	if _, err := s.repo.GetClinicByID(ctx, clinicID); err != nil {
		return nil, err
	}

	entries, err := s.repo.ListQueueForDay(ctx, clinicID, dayOf(date))
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return entries, nil
}

// GetAppointment loads a single appointment.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// ListAppointmentsByPatient pages a patient's appointment history.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// CreateClosure records an admin-created clinic closure.
func (s *Service) CreateClosure(ctx context.Context, c ClinicClosure) (*ClinicClosure, error) {
	if _, err := s.repo.GetClinicByID(ctx, c.ClinicID); err != nil {
		return nil, err
	}

	c.Date = dayOf(c.Date)
	created, err := s.repo.CreateClosure(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create closure: %w", err)
	}

	s.logEvent(ctx, uuid.Nil, EventClosureCreated, map[string]any{
		"closure_id": created.ID.String(),
		"clinic_id":  created.ClinicID.String(),
		"date":       created.Date.Format("2006-01-02"),
		"type":       string(created.Type),
	})

	return created, nil
}

// ListClosures returns all closures for a clinic.
func (s *Service) ListClosures(ctx context.Context, clinicID uuid.UUID) ([]ClinicClosure, error) {
	return s.repo.ListClosuresByClinic(ctx, clinicID)
}

// DeleteClosure hard-deletes a closure.
func (s *Service) DeleteClosure(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteClosure(ctx, id); err != nil {
		return err
	}
	s.logEvent(ctx, uuid.Nil, EventClosureDeleted, map[string]any{
		"closure_id": id.String(),
	})
	return nil
}

// CancelStalePending is the expiry worker entry point: pending appointments
// past their deadline are cancelled so their slots become bookable again.
func (s *Service) CancelStalePending(ctx context.Context) error {
	stale, err := s.repo.FindExpiredPending(ctx, s.clock.Now())
	if err != nil {
		return fmt.Errorf("find stale pending appointments: %w", err)
	}

	for _, appt := range stale {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusCancelled)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			s.logger.Warn("failed to cancel stale appointment",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err))
			continue
		}
		s.logEvent(ctx, appt.ID, EventAppointmentCancelled, map[string]any{
			"reason": "pending_expired",
		})
	}

	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload",
			zap.String("event_type", eventType),
			zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: s.clock.Now(),
	}
	if appointmentID != uuid.Nil {
		apptID := appointmentID
		ev.AppointmentID = &apptID
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}
