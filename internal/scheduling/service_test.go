package scheduling

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tenadam/clinic-scheduling/internal/config"
)

// In-memory fakes for the repository, locker, queue counter and clock.

type fakeRepo struct {
	clinics      map[uuid.UUID]*Clinic
	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	closures     map[uuid.UUID]*ClinicClosure
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		clinics:      make(map[uuid.UUID]*Clinic),
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		closures:     make(map[uuid.UUID]*ClinicClosure),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *fakeRepo) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	if c, ok := r.clinics[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrClinicNotFound
}

func (r *fakeRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	if d, ok := r.doctors[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, ErrDoctorNotFound
}

func (r *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	if p, ok := r.patients[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPatientNotFound
}

func (r *fakeRepo) CreateClosure(_ context.Context, c ClinicClosure) (*ClinicClosure, error) {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	r.closures[c.ID] = &c
	cp := c
	return &cp, nil
}

func (r *fakeRepo) ListClosuresByClinic(_ context.Context, clinicID uuid.UUID) ([]ClinicClosure, error) {
	var result []ClinicClosure
	for _, c := range r.closures {
		if c.ClinicID == clinicID {
			result = append(result, *c)
		}
	}
	return result, nil
}

func (r *fakeRepo) DeleteClosure(_ context.Context, id uuid.UUID) error {
	if _, ok := r.closures[id]; !ok {
		return ErrClosureNotFound
	}
	delete(r.closures, id)
	return nil
}

func (r *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	if a, ok := r.appointments[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) GetActiveAppointmentForSlot(_ context.Context, doctorID uuid.UUID, date time.Time, timeLabel string) (*Appointment, error) {
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.TimeLabel == timeLabel &&
			(a.Status == StatusPending || a.Status == StatusConfirmed) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *fakeRepo) ListActiveAppointmentsForDay(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	var result []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date.Equal(date) &&
			(a.Status == StatusPending || a.Status == StatusConfirmed) {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TimeLabel < result[j].TimeLabel })
	return result, nil
}

func (r *fakeRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	var result []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *fakeRepo) CreatePendingAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	if existing, _ := r.GetActiveAppointmentForSlot(ctx, appt.DoctorID, appt.Date, appt.TimeLabel); existing != nil {
		return nil, ErrSlotUnavailable
	}
	appt.ID = uuid.New()
	appt.Status = StatusPending
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	r.appointments[appt.ID] = &appt
	cp := appt
	return &cp, nil
}

func (r *fakeRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) MarkCheckedIn(_ context.Context, id uuid.UUID, at time.Time, position int) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok || a.CheckedInAt != nil {
		return nil, ErrAppointmentNotFound
	}
	a.CheckedInAt = &at
	a.QueuePosition = &position
	a.UpdatedAt = at
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) ListQueueForDay(_ context.Context, clinicID uuid.UUID, date time.Time) ([]Appointment, error) {
	var result []Appointment
	for _, a := range r.appointments {
		if a.ClinicID == clinicID && a.Date.Equal(date) && a.CheckedInAt != nil {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return *result[i].QueuePosition < *result[j].QueuePosition })
	return result, nil
}

func (r *fakeRepo) FindExpiredPending(_ context.Context, now time.Time) ([]Appointment, error) {
	var result []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusPending && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.events = append(r.events, ev)
	return nil
}

type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeCounter struct {
	counts map[string]int
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: make(map[string]int)}
}

func (c *fakeCounter) NextPosition(_ context.Context, clinicID uuid.UUID, day string) (int, error) {
	key := fmt.Sprintf("%s:%s", clinicID, day)
	c.counts[key]++
	return c.counts[key], nil
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// Test fixture

type fixture struct {
	svc     *Service
	repo    *fakeRepo
	clock   *fixedClock
	clinic  uuid.UUID
	doctor  uuid.UUID
	patient uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newFakeRepo()
	clock := &fixedClock{now: time.Date(2024, time.September, 11, 9, 0, 0, 0, time.UTC)}

	clinicID := uuid.New()
	doctorID := uuid.New()
	patientID := uuid.New()

	repo.clinics[clinicID] = &Clinic{ID: clinicID, Name: "Tena Clinic"}
	repo.doctors[doctorID] = &Doctor{ID: doctorID, ClinicID: clinicID, Name: "Dr. Alem"}
	repo.patients[patientID] = &Patient{ID: patientID, Name: "Kebede"}

	cfg := config.Config{
		ClinicOpen:  "08:00",
		ClinicClose: "17:00",
		SlotWidth:   30 * time.Minute,
		PendingTTL:  10 * time.Minute,
	}

	svc := NewService(repo, passLocker{}, newFakeCounter(), clock, cfg, zap.NewNop())

	return &fixture{
		svc:     svc,
		repo:    repo,
		clock:   clock,
		clinic:  clinicID,
		doctor:  doctorID,
		patient: patientID,
	}
}

func (f *fixture) addClosure(t *testing.T, date time.Time, fullDay bool, start, end string) {
	t.Helper()

	c := ClinicClosure{
		ClinicID:  f.clinic,
		Title:     "Enkutatash",
		Date:      date,
		Type:      ClosureHoliday,
		IsFullDay: fullDay,
	}
	if !fullDay {
		c.StartTime = &start
		c.EndTime = &end
	}
	_, err := f.svc.CreateClosure(context.Background(), c)
	require.NoError(t, err)
}

func (f *fixture) addConfirmed(t *testing.T, date time.Time, label string) *Appointment {
	t.Helper()

	appt, err := f.svc.Book(context.Background(), f.doctor, f.patient, date, label)
	require.NoError(t, err)
	confirmed, err := f.svc.Confirm(context.Background(), appt.ID)
	require.NoError(t, err)
	return confirmed
}

func TestIsBookableFullDayClosure(t *testing.T) {
	f := newFixture(t)
	newYear := time.Date(2024, time.September, 11, 0, 0, 0, 0, time.UTC)
	f.addClosure(t, newYear, true, "", "")

	for _, label := range []string{"08:00", "12:30", "16:30"} {
		d, err := f.svc.IsBookable(context.Background(), f.clinic, newYear, label)
		require.NoError(t, err)
		assert.False(t, d.Allowed, "time %s", label)
		assert.NotEmpty(t, d.Reason)
	}

	for _, day := range []time.Time{newYear.AddDate(0, 0, -1), newYear.AddDate(0, 0, 1)} {
		d, err := f.svc.IsBookable(context.Background(), f.clinic, day, "10:00")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "day %s", day)
	}
}

func TestIsBookablePartialClosure(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2024, time.October, 2, 0, 0, 0, 0, time.UTC)
	f.addClosure(t, day, false, "09:00", "12:00")

	cases := []struct {
		label   string
		allowed bool
	}{
		{"08:30", true},
		{"09:00", false}, // window start is inclusive
		{"10:00", false},
		{"11:30", false},
		{"12:00", true}, // window end is exclusive
		{"13:00", true},
	}

	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			d, err := f.svc.IsBookable(context.Background(), f.clinic, day, tc.label)
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, d.Allowed)
		})
	}
}

func TestBookSlotExclusivity(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2024, time.October, 2, 0, 0, 0, 0, time.UTC)

	first, err := f.svc.Book(context.Background(), f.doctor, f.patient, day, "09:30")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)
	require.NotNil(t, first.ExpiresAt)

	_, err = f.svc.Book(context.Background(), f.doctor, f.patient, day, "09:30")
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.svc.Book(context.Background(), f.doctor, f.patient, day, "10:00")
	assert.NoError(t, err)
}

func TestBookRejectsOffGridTime(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2024, time.October, 2, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.Book(context.Background(), f.doctor, f.patient, day, "09:17")
	assert.ErrorIs(t, err, ErrUnknownSlot)

	_, err = f.svc.Book(context.Background(), f.doctor, f.patient, day, "17:00")
	assert.ErrorIs(t, err, ErrUnknownSlot, "close time is not a bookable slot")
}

func TestBookClosedDay(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2024, time.September, 11, 0, 0, 0, 0, time.UTC)
	f.addClosure(t, day, true, "", "")

	_, err := f.svc.Book(context.Background(), f.doctor, f.patient, day, "09:30")
	assert.ErrorIs(t, err, ErrClinicClosed)
}

func TestBookUnknownActors(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2024, time.October, 2, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.Book(context.Background(), uuid.New(), f.patient, day, "09:30")
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, err = f.svc.Book(context.Background(), f.doctor, uuid.New(), day, "09:30")
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestAvailableSlots(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2024, time.October, 2, 0, 0, 0, 0, time.UTC)

	free, err := f.svc.AvailableSlots(context.Background(), f.doctor, day)
	require.NoError(t, err)
	require.Len(t, free, 18) // 08:00-17:00 at 30 minutes
	assert.Equal(t, "08:00", free[0])
	assert.Equal(t, "16:30", free[len(free)-1])
	assert.True(t, sort.StringsAreSorted(free))

	_, err = f.svc.Book(context.Background(), f.doctor, f.patient, day, "09:30")
	require.NoError(t, err)

	free, err = f.svc.AvailableSlots(context.Background(), f.doctor, day)
	require.NoError(t, err)
	assert.Len(t, free, 17)
	assert.NotContains(t, free, "09:30")
}

func TestCancelledSlotBecomesAvailable(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2024, time.October, 2, 0, 0, 0, 0, time.UTC)

	appt, err := f.svc.Book(context.Background(), f.doctor, f.patient, day, "09:30")
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), appt.ID)
	require.NoError(t, err)

	free, err := f.svc.AvailableSlots(context.Background(), f.doctor, day)
	require.NoError(t, err)
	assert.Contains(t, free, "09:30")

	_, err = f.svc.Book(context.Background(), f.doctor, f.patient, day, "09:30")
	assert.NoError(t, err)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2024, time.October, 2, 0, 0, 0, 0, time.UTC)

	t.Run("pending to confirmed to completed", func(t *testing.T) {
		appt, err := f.svc.Book(context.Background(), f.doctor, f.patient, day, "08:00")
		require.NoError(t, err)

		confirmed, err := f.svc.Confirm(context.Background(), appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, confirmed.Status)

		completed, err := f.svc.Complete(context.Background(), appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, completed.Status)
	})

	t.Run("complete requires confirmed", func(t *testing.T) {
		appt, err := f.svc.Book(context.Background(), f.doctor, f.patient, day, "08:30")
		require.NoError(t, err)

		_, err = f.svc.Complete(context.Background(), appt.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("double cancel is an error", func(t *testing.T) {
		appt, err := f.svc.Book(context.Background(), f.doctor, f.patient, day, "09:00")
		require.NoError(t, err)

		_, err = f.svc.Cancel(context.Background(), appt.ID)
		require.NoError(t, err)

		_, err = f.svc.Cancel(context.Background(), appt.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("cancel completed is an error", func(t *testing.T) {
		appt := f.addConfirmed(t, day, "10:30")
		_, err := f.svc.Complete(context.Background(), appt.ID)
		require.NoError(t, err)

		_, err = f.svc.Cancel(context.Background(), appt.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		_, err := f.svc.Confirm(context.Background(), uuid.New())
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})
}

func TestCheckInQueueOrdering(t *testing.T) {
	f := newFixture(t)
	today := dayOf(f.clock.now)

	// Scheduled order is A (morning), B (midday), C (afternoon); physical
	// arrival order is B, A, C. Positions follow arrival, not the slots.
	a := f.addConfirmed(t, today, "08:30")
	b := f.addConfirmed(t, today, "11:00")
	c := f.addConfirmed(t, today, "15:00")

	for i, appt := range []*Appointment{b, a, c} {
		updated, err := f.svc.CheckIn(context.Background(), appt.ID)
		require.NoError(t, err)
		require.NotNil(t, updated.QueuePosition)
		assert.Equal(t, i+1, *updated.QueuePosition)
		require.NotNil(t, updated.CheckedInAt)
		assert.Equal(t, StatusConfirmed, updated.Status, "check-in must not change status")
	}

	queue, err := f.svc.Queue(context.Background(), f.clinic, today)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, b.ID, queue[0].ID)
	assert.Equal(t, a.ID, queue[1].ID)
	assert.Equal(t, c.ID, queue[2].ID)
}

func TestCheckInPreconditions(t *testing.T) {
	f := newFixture(t)
	today := dayOf(f.clock.now)

	t.Run("pending appointment cannot check in", func(t *testing.T) {
		appt, err := f.svc.Book(context.Background(), f.doctor, f.patient, today, "08:00")
		require.NoError(t, err)

		_, err = f.svc.CheckIn(context.Background(), appt.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("wrong day", func(t *testing.T) {
		appt := f.addConfirmed(t, today.AddDate(0, 0, 1), "08:30")

		_, err := f.svc.CheckIn(context.Background(), appt.ID)
		assert.ErrorIs(t, err, ErrWrongCheckInDay)
	})

	t.Run("double check-in", func(t *testing.T) {
		appt := f.addConfirmed(t, today, "09:00")

		_, err := f.svc.CheckIn(context.Background(), appt.ID)
		require.NoError(t, err)

		_, err = f.svc.CheckIn(context.Background(), appt.ID)
		assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
	})
}

func TestCancelStalePending(t *testing.T) {
	f := newFixture(t)
	day := dayOf(f.clock.now)

	stale, err := f.svc.Book(context.Background(), f.doctor, f.patient, day, "08:00")
	require.NoError(t, err)
	confirmed := f.addConfirmed(t, day, "09:00")

	// Pass the pending TTL and run a worker pass.
	f.clock.now = f.clock.now.Add(11 * time.Minute)
	require.NoError(t, f.svc.CancelStalePending(context.Background()))

	got, err := f.svc.GetAppointment(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	got, err = f.svc.GetAppointment(context.Background(), confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status, "confirmed appointments never expire")

	// The released slot is bookable again.
	free, err := f.svc.AvailableSlots(context.Background(), f.doctor, day)
	require.NoError(t, err)
	assert.Contains(t, free, "08:00")
}

func TestClosureLifecycle(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2024, time.September, 11, 0, 0, 0, 0, time.UTC)
	f.addClosure(t, day, true, "", "")

	closures, err := f.svc.ListClosures(context.Background(), f.clinic)
	require.NoError(t, err)
	require.Len(t, closures, 1)

	eth := closures[0].EthiopianDate()
	assert.Equal(t, 2017, eth.Year)
	assert.Equal(t, 1, eth.Month)
	assert.Equal(t, 1, eth.Day)
	assert.Equal(t, "Meskerem", eth.MonthName)

	require.NoError(t, f.svc.DeleteClosure(context.Background(), closures[0].ID))

	d, err := f.svc.IsBookable(context.Background(), f.clinic, day, "10:00")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	err = f.svc.DeleteClosure(context.Background(), closures[0].ID)
	assert.ErrorIs(t, err, ErrClosureNotFound)
}
