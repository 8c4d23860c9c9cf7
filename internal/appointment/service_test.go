package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/hospital-scheduling/internal/config"
	redisclient "github.com/medicore/hospital-scheduling/internal/redis"
)

// fakeRepo is an in-memory Repository with the same overlap and CAS semantics
// as the Postgres implementation.
type fakeRepo struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	departments  map[uuid.UUID]*Department
	appointments map[uuid.UUID]*Appointment
	events       []EventLog

	failCAS bool // force the next UpdateStatus to miss, as if the row moved
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		departments:  make(map[uuid.UUID]*Department),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *fakeRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) GetDepartmentByID(_ context.Context, id uuid.UUID) (*Department, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.departments[id]
	if !ok {
		return nil, ErrDepartmentNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*Detail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return r.detailLocked(*a), nil
}

func (r *fakeRepo) detailLocked(a Appointment) *Detail {
	det := &Detail{Appointment: a}
	if d, ok := r.doctors[a.DoctorID]; ok {
		cp := *d
		det.Doctor = &cp
	}
	if p, ok := r.patients[a.PatientID]; ok {
		cp := *p
		det.Patient = &cp
	}
	if d, ok := r.departments[a.DepartmentID]; ok {
		cp := *d
		det.Department = &cp
	}
	return det
}

func (r *fakeRepo) ListBlocking(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Status.Blocking() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) findOverlapLocked(a Appointment) *Appointment {
	for _, other := range r.appointments {
		if other.ID == a.ID || other.DoctorID != a.DoctorID || !other.Date.Equal(a.Date) {
			continue
		}
		if !other.Status.Blocking() {
			continue
		}
		if Overlaps(a.StartTime, a.EndTime, other.StartTime, other.EndTime) {
			return other
		}
	}
	return nil
}

func (r *fakeRepo) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other := r.findOverlapLocked(a); other != nil {
		return nil, &ConflictError{ConflictingID: other.ID}
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := a
	r.appointments[a.ID] = &cp
	out := a
	return &out, nil
}

func (r *fakeRepo) UpdateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[a.ID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	if other := r.findOverlapLocked(a); other != nil {
		return nil, &ConflictError{ConflictingID: other.ID}
	}
	a.UpdatedAt = time.Now()
	cp := a
	r.appointments[a.ID] = &cp
	out := a
	return &out, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCAS {
		r.failCAS = false
		return nil, ErrAppointmentNotFound
	}
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if reason != nil {
		a.CancellationReason = reason
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]Detail, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Appointment
	for _, a := range r.appointments {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.DoctorID != nil && a.DoctorID != *filter.DoctorID {
			continue
		}
		if filter.PatientID != nil && a.PatientID != *filter.PatientID {
			continue
		}
		if filter.Date != nil && !a.Date.Equal(*filter.Date) {
			continue
		}
		if filter.StartDate != nil && a.Date.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && a.Date.After(*filter.EndDate) {
			continue
		}
		matched = append(matched, *a)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date) {
			return matched[i].Date.Before(matched[j].Date)
		}
		if matched[i].StartTime != matched[j].StartTime {
			return matched[i].StartTime < matched[j].StartTime
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]Detail, 0, end-offset)
	for _, a := range matched[offset:end] {
		out = append(out, *r.detailLocked(a))
	}
	return out, total, nil
}

func (r *fakeRepo) MarkReminderSent(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.ReminderSent = true
	return nil
}

func (r *fakeRepo) FindDueReminders(_ context.Context, now time.Time, lead time.Duration) ([]Detail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Detail
	for _, a := range r.appointments {
		if a.ReminderSent || !a.Status.Blocking() {
			continue
		}
		startsAt := a.Date.Add(time.Duration(a.StartTime) * time.Minute)
		if startsAt.After(now) && !startsAt.After(now.Add(lead)) {
			out = append(out, *r.detailLocked(*a))
		}
	}
	return out, nil
}

func (r *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *fakeRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

// fakeLocker runs the critical section inline and counts acquisitions.
type fakeLocker struct {
	mu       sync.Mutex
	acquired int
	err      error
}

func (l *fakeLocker) WithScheduleLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.err != nil {
		defer l.mu.Unlock()
		return l.err
	}
	l.acquired++
	l.mu.Unlock()
	return fn(ctx)
}

func (l *fakeLocker) acquisitions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired
}

type sentMessage struct {
	Channel   Channel
	Recipient string
	Subject   string
	Body      string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, channel Channel, recipient, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{Channel: channel, Recipient: recipient, Subject: subject, Body: body})
	return nil
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type testEnv struct {
	svc      *Service
	repo     *fakeRepo
	locker   *fakeLocker
	notifier *fakeNotifier

	doctorID     uuid.UUID
	patientID    uuid.UUID
	departmentID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := newFakeRepo()
	locker := &fakeLocker{}
	notifier := &fakeNotifier{}

	cfg := config.Config{
		WorkDayStart:      9 * 60,
		WorkDayEnd:        17 * 60,
		DependencyTimeout: 3 * time.Second,
		ReminderLead:      24 * time.Hour,
	}

	svc := NewService(repo, locker, notifier, cfg, zerolog.Nop())

	env := &testEnv{
		svc:          svc,
		repo:         repo,
		locker:       locker,
		notifier:     notifier,
		doctorID:     uuid.New(),
		patientID:    uuid.New(),
		departmentID: uuid.New(),
	}

	email := "pat@example.com"
	phone := "+15550100"
	repo.departments[env.departmentID] = &Department{ID: env.departmentID, Name: "Cardiology"}
	repo.doctors[env.doctorID] = &Doctor{ID: env.doctorID, Name: "Dr. Reyes", Specialization: "Cardiology", DepartmentID: env.departmentID}
	repo.patients[env.patientID] = &Patient{ID: env.patientID, Name: "Pat Doe", Email: &email, Phone: &phone}

	return env
}

func (e *testEnv) draft(t *testing.T, date string, start string, duration int) Draft {
	t.Helper()
	d, err := ParseDate(date)
	require.NoError(t, err)
	return Draft{
		PatientID:       e.patientID,
		DoctorID:        e.doctorID,
		DepartmentID:    e.departmentID,
		Date:            d,
		StartTime:       mustTime(t, start),
		DurationMinutes: duration,
		Reason:          "routine checkup",
	}
}

func (e *testEnv) mustCreate(t *testing.T, date string, start string, duration int) *Appointment {
	t.Helper()
	a, err := e.svc.Create(context.Background(), e.draft(t, date, start, duration))
	require.NoError(t, err)
	return a
}

func TestServiceCreate(t *testing.T) {
	env := newTestEnv(t)

	a, err := env.svc.Create(context.Background(), env.draft(t, "2026-09-14", "09:00", 30))
	require.NoError(t, err)

	assert.Equal(t, StatusScheduled, a.Status)
	assert.Equal(t, mustTime(t, "09:30"), a.EndTime)
	assert.Equal(t, TypeNew, a.Type, "type defaults when omitted")
	assert.Equal(t, PriorityMedium, a.Priority, "priority defaults when omitted")
	assert.Equal(t, 1, env.locker.acquisitions())
	assert.Equal(t, []string{EventAppointmentCreated}, env.repo.eventTypes())
}

func TestServiceCreate_Conflict(t *testing.T) {
	env := newTestEnv(t)

	first := env.mustCreate(t, "2026-09-14", "10:00", 30)

	// Overlapping window for the same doctor and date is rejected and names
	// the colliding appointment.
	_, err := env.svc.Create(context.Background(), env.draft(t, "2026-09-14", "10:15", 30))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ConflictingID)

	// Back to back is fine.
	_, err = env.svc.Create(context.Background(), env.draft(t, "2026-09-14", "10:30", 30))
	assert.NoError(t, err)

	// Same window on another date is fine.
	_, err = env.svc.Create(context.Background(), env.draft(t, "2026-09-15", "10:00", 30))
	assert.NoError(t, err)
}

func TestServiceCreate_CancelledDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)

	first := env.mustCreate(t, "2026-09-14", "10:00", 30)
	_, err := env.svc.Cancel(context.Background(), first.ID, "patient request")
	require.NoError(t, err)

	_, err = env.svc.Create(context.Background(), env.draft(t, "2026-09-14", "10:00", 30))
	assert.NoError(t, err)
}

func TestServiceCreate_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("unknown doctor", func(t *testing.T) {
		d := env.draft(t, "2026-09-14", "09:00", 30)
		d.DoctorID = uuid.New()
		_, err := env.svc.Create(ctx, d)
		assert.ErrorIs(t, err, ErrDoctorNotFound)
	})

	t.Run("unknown patient", func(t *testing.T) {
		d := env.draft(t, "2026-09-14", "09:00", 30)
		d.PatientID = uuid.New()
		_, err := env.svc.Create(ctx, d)
		assert.ErrorIs(t, err, ErrPatientNotFound)
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := env.svc.Create(ctx, env.draft(t, "2026-09-14", "09:00", 25))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "duration", verr.Field)
	})

	t.Run("blank reason", func(t *testing.T) {
		d := env.draft(t, "2026-09-14", "09:00", 30)
		d.Reason = "   "
		_, err := env.svc.Create(ctx, d)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "reason", verr.Field)
	})

	t.Run("end time disagrees with duration", func(t *testing.T) {
		d := env.draft(t, "2026-09-14", "09:00", 30)
		wrong := mustTime(t, "10:00")
		d.EndTime = &wrong
		_, err := env.svc.Create(ctx, d)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "endTime", verr.Field)
	})

	t.Run("window past midnight", func(t *testing.T) {
		_, err := env.svc.Create(ctx, env.draft(t, "2026-09-14", "23:45", 30))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("unknown type", func(t *testing.T) {
		d := env.draft(t, "2026-09-14", "09:00", 30)
		d.Type = Type("walk-in")
		_, err := env.svc.Create(ctx, d)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestServiceCreate_PastDateAllowed(t *testing.T) {
	env := newTestEnv(t)

	// Backdated administrative entries are permitted.
	_, err := env.svc.Create(context.Background(), env.draft(t, "2020-01-06", "09:00", 30))
	assert.NoError(t, err)
}

func TestServiceCreate_LockBusy(t *testing.T) {
	env := newTestEnv(t)
	env.locker.err = redisclient.ErrLockNotAcquired

	_, err := env.svc.Create(context.Background(), env.draft(t, "2026-09-14", "09:00", 30))
	assert.ErrorIs(t, err, ErrScheduleBusy)
}

func TestServiceUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("notes only skips the schedule lock", func(t *testing.T) {
		a := env.mustCreate(t, "2026-09-14", "09:00", 30)
		before := env.locker.acquisitions()

		notes := "fasting bloodwork"
		updated, err := env.svc.Update(ctx, a.ID, Patch{Notes: &notes})
		require.NoError(t, err)

		require.NotNil(t, updated.Notes)
		assert.Equal(t, notes, *updated.Notes)
		assert.Equal(t, before, env.locker.acquisitions())
	})

	t.Run("reschedule re-checks conflicts under the lock", func(t *testing.T) {
		blocker := env.mustCreate(t, "2026-09-16", "11:00", 30)
		a := env.mustCreate(t, "2026-09-16", "09:00", 30)
		before := env.locker.acquisitions()

		start := mustTime(t, "11:15")
		_, err := env.svc.Update(ctx, a.ID, Patch{StartTime: &start})
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, blocker.ID, conflict.ConflictingID)
		assert.Equal(t, before+1, env.locker.acquisitions())

		// Shifting within a free stretch succeeds and rederives the end.
		start = mustTime(t, "10:00")
		updated, err := env.svc.Update(ctx, a.ID, Patch{StartTime: &start})
		require.NoError(t, err)
		assert.Equal(t, mustTime(t, "10:30"), updated.EndTime)
	})

	t.Run("own window does not conflict with itself", func(t *testing.T) {
		a := env.mustCreate(t, "2026-09-17", "09:00", 30)

		duration := 60
		updated, err := env.svc.Update(ctx, a.ID, Patch{DurationMinutes: &duration})
		require.NoError(t, err)
		assert.Equal(t, mustTime(t, "10:00"), updated.EndTime)
	})

	t.Run("terminal appointment is frozen", func(t *testing.T) {
		a := env.mustCreate(t, "2026-09-18", "09:00", 30)
		_, err := env.svc.Cancel(ctx, a.ID, "patient request")
		require.NoError(t, err)

		notes := "should not stick"
		_, err = env.svc.Update(ctx, a.ID, Patch{Notes: &notes})
		assert.ErrorIs(t, err, ErrNotEditable)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		notes := "n"
		_, err := env.svc.Update(ctx, uuid.New(), Patch{Notes: &notes})
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})

	t.Run("patched invalid duration is rejected", func(t *testing.T) {
		a := env.mustCreate(t, "2026-09-19", "09:00", 30)

		duration := 25
		_, err := env.svc.Update(ctx, a.ID, Patch{DurationMinutes: &duration})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestServiceTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("confirm then complete", func(t *testing.T) {
		env.svc.now = func() time.Time { return time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC) }

		a := env.mustCreate(t, "2026-09-14", "09:00", 30)

		confirmed, err := env.svc.Confirm(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, confirmed.Status)

		completed, err := env.svc.Complete(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, completed.Status)
	})

	t.Run("complete before start is rejected", func(t *testing.T) {
		env.svc.now = func() time.Time { return time.Date(2026, 9, 14, 8, 0, 0, 0, time.UTC) }

		a := env.mustCreate(t, "2026-09-14", "10:00", 30)

		_, err := env.svc.Complete(ctx, a.ID)
		var inv *InvalidTransitionError
		require.ErrorAs(t, err, &inv)
		assert.Equal(t, StatusCompleted, inv.To)
	})

	t.Run("confirm twice is rejected", func(t *testing.T) {
		a := env.mustCreate(t, "2026-09-15", "09:00", 30)

		_, err := env.svc.Confirm(ctx, a.ID)
		require.NoError(t, err)

		_, err = env.svc.Confirm(ctx, a.ID)
		var inv *InvalidTransitionError
		require.ErrorAs(t, err, &inv)
		assert.Equal(t, StatusConfirmed, inv.From)
	})

	t.Run("no-show", func(t *testing.T) {
		a := env.mustCreate(t, "2026-09-15", "10:00", 30)

		updated, err := env.svc.MarkNoShow(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusNoShow, updated.Status)

		_, err = env.svc.Confirm(ctx, a.ID)
		var inv *InvalidTransitionError
		assert.ErrorAs(t, err, &inv)
	})

	t.Run("cas miss maps to invalid transition", func(t *testing.T) {
		a := env.mustCreate(t, "2026-09-15", "11:00", 30)
		env.repo.failCAS = true

		_, err := env.svc.Confirm(ctx, a.ID)
		var inv *InvalidTransitionError
		assert.ErrorAs(t, err, &inv)
	})
}

func TestServiceCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustCreate(t, "2026-09-14", "09:00", 30)

	t.Run("requires a reason", func(t *testing.T) {
		_, err := env.svc.Cancel(ctx, a.ID, "  ")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "cancellationReason", verr.Field)
	})

	t.Run("records the reason", func(t *testing.T) {
		cancelled, err := env.svc.Cancel(ctx, a.ID, "patient request")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
		require.NotNil(t, cancelled.CancellationReason)
		assert.Equal(t, "patient request", *cancelled.CancellationReason)
	})

	t.Run("cancelling twice fails loudly", func(t *testing.T) {
		_, err := env.svc.Cancel(ctx, a.ID, "again")
		var inv *InvalidTransitionError
		require.ErrorAs(t, err, &inv)
		assert.Equal(t, StatusCancelled, inv.From)
	})

	t.Run("cancelled slot is bookable again", func(t *testing.T) {
		date, err := ParseDate("2026-09-14")
		require.NoError(t, err)

		slots, err := env.svc.AvailableSlots(ctx, env.doctorID, date, 30)
		require.NoError(t, err)
		require.NotEmpty(t, slots)
		assert.Equal(t, mustTime(t, "09:00"), slots[0].StartTime)
	})
}

func TestServiceAvailableSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	date, err := ParseDate("2026-09-14")
	require.NoError(t, err)

	t.Run("rejects off-menu durations", func(t *testing.T) {
		_, err := env.svc.AvailableSlots(ctx, env.doctorID, date, 25)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("unknown doctor", func(t *testing.T) {
		_, err := env.svc.AvailableSlots(ctx, uuid.New(), date, 30)
		assert.ErrorIs(t, err, ErrDoctorNotFound)
	})

	t.Run("bookings split the day", func(t *testing.T) {
		env.mustCreate(t, "2026-09-14", "10:00", 30)

		slots, err := env.svc.AvailableSlots(ctx, env.doctorID, date, 30)
		require.NoError(t, err)

		// 8 hour day minus one 30 minute booking.
		assert.Len(t, slots, 15)
		for _, s := range slots {
			assert.False(t, Overlaps(s.StartTime, s.EndTime, mustTime(t, "10:00"), mustTime(t, "10:30")))
		}
		assert.Equal(t, mustTime(t, "09:00"), slots[0].StartTime)
		assert.Equal(t, mustTime(t, "10:30"), slots[2].StartTime)
	})
}

func TestServiceList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 25 appointments across consecutive half-hour windows.
	date, err := ParseDate("2026-09-14")
	require.NoError(t, err)
	var created []*Appointment
	for i := 0; i < 25; i++ {
		d := Draft{
			PatientID:       env.patientID,
			DoctorID:        env.doctorID,
			DepartmentID:    env.departmentID,
			Date:            date.AddDate(0, 0, i/10),
			StartTime:       TimeOfDay(9*60 + (i%10)*30),
			DurationMinutes: 30,
			Reason:          "routine checkup",
		}
		a, err := env.svc.Create(ctx, d)
		require.NoError(t, err)
		created = append(created, a)
	}

	t.Run("pages are stable and 1-indexed", func(t *testing.T) {
		page1, err := env.svc.List(ctx, ListFilter{}, 1, 10)
		require.NoError(t, err)
		assert.Len(t, page1.Items, 10)
		assert.Equal(t, 1, page1.Page)
		assert.Equal(t, 3, page1.TotalPages)
		assert.Equal(t, 25, page1.TotalItems)

		page2, err := env.svc.List(ctx, ListFilter{}, 2, 10)
		require.NoError(t, err)
		assert.Len(t, page2.Items, 10)
		assert.Equal(t, 2, page2.Page)

		page3, err := env.svc.List(ctx, ListFilter{}, 3, 10)
		require.NoError(t, err)
		assert.Len(t, page3.Items, 5)

		// No item appears on two pages.
		seen := make(map[uuid.UUID]bool)
		for _, page := range [][]Detail{page1.Items, page2.Items, page3.Items} {
			for _, it := range page {
				assert.False(t, seen[it.ID], "item %s duplicated across pages", it.ID)
				seen[it.ID] = true
			}
		}
		assert.Len(t, seen, 25)
	})

	t.Run("page past the end is empty with intact totals", func(t *testing.T) {
		res, err := env.svc.List(ctx, ListFilter{}, 9, 10)
		require.NoError(t, err)
		assert.Empty(t, res.Items)
		assert.Equal(t, 3, res.TotalPages)
		assert.Equal(t, 25, res.TotalItems)
	})

	t.Run("defaults and caps", func(t *testing.T) {
		res, err := env.svc.List(ctx, ListFilter{}, 0, 0)
		require.NoError(t, err)
		assert.Len(t, res.Items, 10)
		assert.Equal(t, 1, res.Page)

		res, err = env.svc.List(ctx, ListFilter{}, 1, 1000)
		require.NoError(t, err)
		assert.Len(t, res.Items, 25)
		assert.Equal(t, 1, res.TotalPages)
	})

	t.Run("ordered by date then start time", func(t *testing.T) {
		res, err := env.svc.List(ctx, ListFilter{}, 1, 100)
		require.NoError(t, err)
		for i := 1; i < len(res.Items); i++ {
			prev, cur := res.Items[i-1], res.Items[i]
			if prev.Date.Equal(cur.Date) {
				assert.LessOrEqual(t, int(prev.StartTime), int(cur.StartTime))
			} else {
				assert.True(t, prev.Date.Before(cur.Date))
			}
		}
	})

	t.Run("status filter", func(t *testing.T) {
		_, err := env.svc.Cancel(ctx, created[0].ID, "conflict")
		require.NoError(t, err)

		cancelled := StatusCancelled
		res, err := env.svc.List(ctx, ListFilter{Status: &cancelled}, 1, 10)
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assert.Equal(t, created[0].ID, res.Items[0].ID)
	})

	t.Run("date range filter", func(t *testing.T) {
		day2 := date.AddDate(0, 0, 1)
		res, err := env.svc.List(ctx, ListFilter{StartDate: &day2, EndDate: &day2}, 1, 100)
		require.NoError(t, err)
		assert.Len(t, res.Items, 10)
	})

	t.Run("unknown status is a validation error", func(t *testing.T) {
		bogus := Status("pending")
		_, err := env.svc.List(ctx, ListFilter{Status: &bogus}, 1, 10)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestServiceSendReminder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.mustCreate(t, "2026-09-14", "10:00", 30)

	t.Run("email reminder", func(t *testing.T) {
		err := env.svc.SendReminder(ctx, a.ID, ChannelEmail)
		require.NoError(t, err)

		msgs := env.notifier.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, ChannelEmail, msgs[0].Channel)
		assert.Equal(t, "pat@example.com", msgs[0].Recipient)
		assert.Contains(t, msgs[0].Body, "Dr. Reyes")
		assert.Contains(t, msgs[0].Body, "2026-09-14")
		assert.Contains(t, msgs[0].Body, "10:00")

		stored, err := env.svc.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, stored.ReminderSent)
	})

	t.Run("sms reminder", func(t *testing.T) {
		err := env.svc.SendReminder(ctx, a.ID, ChannelSMS)
		require.NoError(t, err)

		msgs := env.notifier.messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, ChannelSMS, msgs[1].Channel)
		assert.Equal(t, "+15550100", msgs[1].Recipient)
	})

	t.Run("invalid channel", func(t *testing.T) {
		err := env.svc.SendReminder(ctx, a.ID, Channel("fax"))
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		err := env.svc.SendReminder(ctx, uuid.New(), ChannelEmail)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})

	t.Run("delivery failure leaves state untouched", func(t *testing.T) {
		b := env.mustCreate(t, "2026-09-15", "10:00", 30)
		env.notifier.err = errors.New("gateway down")
		defer func() { env.notifier.err = nil }()

		err := env.svc.SendReminder(ctx, b.ID, ChannelEmail)
		var derr *DeliveryError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, "email", derr.Channel)

		stored, err := env.svc.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.False(t, stored.ReminderSent)
	})

	t.Run("notifier timeout", func(t *testing.T) {
		b := env.mustCreate(t, "2026-09-15", "11:00", 30)
		env.notifier.err = context.DeadlineExceeded
		defer func() { env.notifier.err = nil }()

		err := env.svc.SendReminder(ctx, b.ID, ChannelEmail)
		assert.ErrorIs(t, err, ErrDependencyTimeout)
	})

	t.Run("cancelled appointment", func(t *testing.T) {
		b := env.mustCreate(t, "2026-09-15", "12:00", 30)
		_, err := env.svc.Cancel(ctx, b.ID, "patient request")
		require.NoError(t, err)

		err = env.svc.SendReminder(ctx, b.ID, ChannelEmail)
		assert.ErrorIs(t, err, ErrAppointmentCancelled)
	})

	t.Run("patient without email", func(t *testing.T) {
		phonePatient := uuid.New()
		phone := "+15550199"
		env.repo.patients[phonePatient] = &Patient{ID: phonePatient, Name: "No Mail", Phone: &phone}

		d := env.draft(t, "2026-09-15", "13:00", 30)
		d.PatientID = phonePatient
		b, err := env.svc.Create(ctx, d)
		require.NoError(t, err)

		err = env.svc.SendReminder(ctx, b.ID, ChannelEmail)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)

		assert.NoError(t, env.svc.SendReminder(ctx, b.ID, ChannelSMS))
	})
}

func TestServiceDispatchDueReminders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.now = func() time.Time { return time.Date(2026, 9, 13, 12, 0, 0, 0, time.UTC) }

	// Within the 24h lead window.
	due := env.mustCreate(t, "2026-09-14", "10:00", 30)
	// Too far out.
	env.mustCreate(t, "2026-09-20", "10:00", 30)

	// A patient without email falls back to SMS.
	phonePatient := uuid.New()
	phone := "+15550188"
	env.repo.patients[phonePatient] = &Patient{ID: phonePatient, Name: "No Mail", Phone: &phone}
	d := env.draft(t, "2026-09-14", "11:00", 30)
	d.PatientID = phonePatient
	dueSMS, err := env.svc.Create(ctx, d)
	require.NoError(t, err)

	require.NoError(t, env.svc.DispatchDueReminders(ctx))

	msgs := env.notifier.messages()
	require.Len(t, msgs, 2)
	byChannel := map[Channel]sentMessage{}
	for _, m := range msgs {
		byChannel[m.Channel] = m
	}
	assert.Equal(t, "pat@example.com", byChannel[ChannelEmail].Recipient)
	assert.Equal(t, phone, byChannel[ChannelSMS].Recipient)

	for _, id := range []uuid.UUID{due.ID, dueSMS.ID} {
		stored, err := env.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, stored.ReminderSent)
	}

	// Second run finds nothing new.
	require.NoError(t, env.svc.DispatchDueReminders(ctx))
	assert.Len(t, env.notifier.messages(), 2)
}

func TestServiceDispatchDueReminders_FailureContinues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.now = func() time.Time { return time.Date(2026, 9, 13, 12, 0, 0, 0, time.UTC) }
	env.mustCreate(t, "2026-09-14", "10:00", 30)
	env.notifier.err = errors.New("gateway down")

	// Failures are logged, never returned.
	assert.NoError(t, env.svc.DispatchDueReminders(ctx))
}
