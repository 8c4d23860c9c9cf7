package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medicore/hospital-scheduling/internal/config"
	redisclient "github.com/medicore/hospital-scheduling/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentUpdated   = "APPOINTMENT_UPDATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	EventReminderSent         = "REMINDER_SENT"
)

// Channel selects the reminder transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Notifier is the external notification collaborator. The service performs no
// retries and no templating beyond the plain reminder message it hands over.
type Notifier interface {
	Send(ctx context.Context, channel Channel, recipient, subject, body string) error
}

// Draft is the input to Create. EndTime is optional; when present it must
// agree with StartTime + DurationMinutes.
type Draft struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	DepartmentID    uuid.UUID
	Date            time.Time
	StartTime       TimeOfDay
	EndTime         *TimeOfDay
	DurationMinutes int
	Type            Type
	Priority        Priority
	Reason          string
	Notes           *string
	Insurance       *string
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	cfg      config.Config
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, cfg config.Config, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// depCtx bounds calls to external collaborators so no operation hangs.
func (s *Service) depCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.DependencyTimeout)
}

func mapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrDependencyTimeout
	}
	return err
}

// AvailableSlots computes bookable windows for a doctor on a date. Cancelled,
// completed and no-show appointments do not block slots.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, durationMinutes int) ([]Slot, error) {
	if !ValidDuration(durationMinutes) {
		return nil, invalidf("duration", "must be one of %v minutes", ValidDurations)
	}

	depCtx, cancel := s.depCtx(ctx)
	_, err := s.repo.GetDoctorByID(depCtx, doctorID)
	cancel()
	if err != nil {
		return nil, mapTimeout(err)
	}

	booked, err := s.repo.ListBlocking(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list blocking appointments: %w", err)
	}

	intervals := make([]Slot, 0, len(booked))
	for _, a := range booked {
		intervals = append(intervals, Slot{StartTime: a.StartTime, EndTime: a.EndTime})
	}

	slots := ComputeSlots(TimeOfDay(s.cfg.WorkDayStart), TimeOfDay(s.cfg.WorkDayEnd), intervals, durationMinutes)
	return slots, nil
}

// Create books a new appointment with status scheduled. The conflict check
// and the insert run as one atomic unit behind the doctor+date schedule lock.
func (s *Service) Create(ctx context.Context, draft Draft) (*Appointment, error) {
	a, err := s.validateDraft(draft)
	if err != nil {
		return nil, err
	}

	if err := s.checkReferences(ctx, a.DoctorID, a.PatientID, a.DepartmentID); err != nil {
		return nil, err
	}

	var created *Appointment

	err = s.locker.WithScheduleLock(ctx, a.DoctorID, a.Date, func(lockCtx context.Context) error {
		result, err := s.repo.CreateAppointment(lockCtx, a)
		if err != nil {
			return err
		}
		created = result

		s.logEvent(lockCtx, created.ID, EventAppointmentCreated, map[string]any{
			"doctor_id":  a.DoctorID.String(),
			"patient_id": a.PatientID.String(),
			"date":       a.Date.Format(DateLayout),
			"start_time": a.StartTime.String(),
			"end_time":   a.EndTime.String(),
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrScheduleBusy
		}
		return nil, mapTimeout(err)
	}

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Str("date", created.Date.Format(DateLayout)).
		Msg("appointment created")

	return created, nil
}

// Update applies a partial patch. Moving the appointment to another doctor or
// time window re-runs the conflict check with the row itself excluded.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Appointment, error) {
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, mapTimeout(err)
	}
	if current.Status.Terminal() {
		return nil, ErrNotEditable
	}

	merged := patch.Apply(*current)
	if err := validateAppointment(merged); err != nil {
		return nil, err
	}

	if err := s.checkChangedReferences(ctx, *current, patch); err != nil {
		return nil, err
	}

	var updated *Appointment

	if patch.TouchesSchedule() {
		err = s.locker.WithScheduleLock(ctx, merged.DoctorID, merged.Date, func(lockCtx context.Context) error {
			result, err := s.repo.UpdateAppointment(lockCtx, merged)
			if err != nil {
				return err
			}
			updated = result
			return nil
		})
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrScheduleBusy
		}
	} else {
		updated, err = s.repo.UpdateAppointment(ctx, merged)
	}
	if err != nil {
		return nil, mapTimeout(err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentUpdated, map[string]any{
		"schedule_changed": patch.TouchesSchedule(),
	})

	return updated, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, nil, EventAppointmentConfirmed, nil)
}

// Complete is time-gated: an appointment whose start is still in the future
// cannot be completed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	guard := func(a *Appointment) error {
		startsAt := a.Date.Add(time.Duration(a.StartTime) * time.Minute)
		if startsAt.After(s.now()) {
			return &InvalidTransitionError{From: a.Status, To: StatusCompleted}
		}
		return nil
	}
	return s.transition(ctx, id, StatusCompleted, nil, EventAppointmentCompleted, guard)
}

// MarkNoShow records that the patient did not attend.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow, nil, EventAppointmentNoShow, nil)
}

// Cancel requires a non-empty reason and is terminal; cancelling twice fails
// with InvalidTransitionError, never silently succeeds.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalidf("cancellationReason", "must not be empty")
	}
	return s.transition(ctx, id, StatusCancelled, &reason, EventAppointmentCancelled, nil)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, reason *string, event string, guard func(*Appointment) error) (*Appointment, error) {
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, mapTimeout(err)
	}

	if !current.Status.CanTransitionTo(to) {
		return nil, &InvalidTransitionError{From: current.Status, To: to}
	}
	if guard != nil {
		if err := guard(current); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.UpdateStatus(ctx, id, current.Status, to, reason)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Status moved under us between read and CAS.
			return nil, &InvalidTransitionError{From: current.Status, To: to}
		}
		return nil, mapTimeout(err)
	}

	payload := map[string]any{"from": string(current.Status), "to": string(to)}
	if reason != nil {
		payload["reason"] = *reason
	}
	s.logEvent(ctx, id, event, payload)

	return updated, nil
}

// Get retrieves a fully hydrated appointment by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	det, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, mapTimeout(err)
	}
	return det, nil
}

// ListResult is one page of matching appointments.
type ListResult struct {
	Items      []Detail
	Page       int
	TotalPages int
	TotalItems int
}

// List applies the filter with 1-indexed pagination and stable ordering.
func (s *Service) List(ctx context.Context, filter ListFilter, page, pageSize int) (*ListResult, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10 // default
	}
	if pageSize > 100 {
		pageSize = 100 // max
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, invalidf("status", "unknown status %q", string(*filter.Status))
	}

	items, total, err := s.repo.List(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, mapTimeout(err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	return &ListResult{
		Items:      items,
		Page:       page,
		TotalPages: totalPages,
		TotalItems: total,
	}, nil
}

// SendReminder validates the appointment and delegates to the notification
// collaborator, reporting its result unchanged. Delivery failures never touch
// appointment state.
func (s *Service) SendReminder(ctx context.Context, id uuid.UUID, channel Channel) error {
	if !channel.Valid() {
		return invalidf("type", "must be %q or %q", ChannelEmail, ChannelSMS)
	}

	det, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return mapTimeout(err)
	}
	if det.Status == StatusCancelled {
		return ErrAppointmentCancelled
	}

	recipient, err := reminderRecipient(det, channel)
	if err != nil {
		return err
	}

	subject, body := reminderMessage(det)

	depCtx, cancel := s.depCtx(ctx)
	err = s.notifier.Send(depCtx, channel, recipient, subject, body)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrDependencyTimeout
		}
		return &DeliveryError{Channel: string(channel), Err: err}
	}

	if err := s.repo.MarkReminderSent(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", id.String()).Msg("failed to mark reminder sent")
	}
	s.logEvent(ctx, id, EventReminderSent, map[string]any{"channel": string(channel)})

	return nil
}

// DispatchDueReminders is called by the reminder worker. Failures are logged
// and retried on the next tick; they never abort the whole run.
func (s *Service) DispatchDueReminders(ctx context.Context) error {
	due, err := s.repo.FindDueReminders(ctx, s.now(), s.cfg.ReminderLead)
	if err != nil {
		return fmt.Errorf("find due reminders: %w", err)
	}

	for _, det := range due {
		channel := ChannelEmail
		if det.Patient == nil || det.Patient.Email == nil {
			channel = ChannelSMS
		}
		if err := s.SendReminder(ctx, det.ID, channel); err != nil {
			s.logger.Error().Err(err).
				Str("appointment_id", det.ID.String()).
				Str("channel", string(channel)).
				Msg("reminder dispatch failed")
		}
	}

	return nil
}

func reminderRecipient(det *Detail, channel Channel) (string, error) {
	if det.Patient == nil {
		return "", ErrPatientNotFound
	}
	switch channel {
	case ChannelEmail:
		if det.Patient.Email == nil || *det.Patient.Email == "" {
			return "", invalidf("type", "patient has no email address on file")
		}
		return *det.Patient.Email, nil
	case ChannelSMS:
		if det.Patient.Phone == nil || *det.Patient.Phone == "" {
			return "", invalidf("type", "patient has no phone number on file")
		}
		return *det.Patient.Phone, nil
	}
	return "", invalidf("type", "unknown channel %q", string(channel))
}

func reminderMessage(det *Detail) (subject, body string) {
	doctorName := "your doctor"
	if det.Doctor != nil {
		doctorName = det.Doctor.Name
	}
	subject = "Appointment reminder"
	body = fmt.Sprintf("Reminder: you have an appointment with %s on %s at %s.",
		doctorName, det.Date.Format(DateLayout), det.StartTime.String())
	return subject, body
}

// checkReferences verifies the doctor, patient and department exist, each
// lookup bounded by the dependency timeout.
func (s *Service) checkReferences(ctx context.Context, doctorID, patientID, departmentID uuid.UUID) error {
	depCtx, cancel := s.depCtx(ctx)
	defer cancel()

	if _, err := s.repo.GetDoctorByID(depCtx, doctorID); err != nil {
		return mapTimeout(err)
	}
	if _, err := s.repo.GetPatientByID(depCtx, patientID); err != nil {
		return mapTimeout(err)
	}
	if _, err := s.repo.GetDepartmentByID(depCtx, departmentID); err != nil {
		return mapTimeout(err)
	}
	return nil
}

func (s *Service) checkChangedReferences(ctx context.Context, current Appointment, patch Patch) error {
	depCtx, cancel := s.depCtx(ctx)
	defer cancel()

	if patch.DoctorID != nil && *patch.DoctorID != current.DoctorID {
		if _, err := s.repo.GetDoctorByID(depCtx, *patch.DoctorID); err != nil {
			return mapTimeout(err)
		}
	}
	if patch.PatientID != nil && *patch.PatientID != current.PatientID {
		if _, err := s.repo.GetPatientByID(depCtx, *patch.PatientID); err != nil {
			return mapTimeout(err)
		}
	}
	if patch.DepartmentID != nil && *patch.DepartmentID != current.DepartmentID {
		if _, err := s.repo.GetDepartmentByID(depCtx, *patch.DepartmentID); err != nil {
			return mapTimeout(err)
		}
	}
	return nil
}

// validateDraft normalizes a draft into an Appointment ready for insert.
// Past dates are accepted so backdated administrative entries stay possible.
func (s *Service) validateDraft(draft Draft) (Appointment, error) {
	a := Appointment{
		ID:              uuid.New(),
		PatientID:       draft.PatientID,
		DoctorID:        draft.DoctorID,
		DepartmentID:    draft.DepartmentID,
		Date:            draft.Date,
		StartTime:       draft.StartTime,
		DurationMinutes: draft.DurationMinutes,
		Type:            draft.Type,
		Priority:        draft.Priority,
		Status:          StatusScheduled,
		Reason:          strings.TrimSpace(draft.Reason),
		Notes:           draft.Notes,
		Insurance:       draft.Insurance,
	}

	if a.Type == "" {
		a.Type = TypeNew
	}
	if a.Priority == "" {
		a.Priority = PriorityMedium
	}

	a.EndTime = a.StartTime + TimeOfDay(a.DurationMinutes)
	if draft.EndTime != nil && *draft.EndTime != a.EndTime {
		return Appointment{}, invalidf("endTime", "must equal startTime + duration (%s)", a.EndTime)
	}

	if err := validateAppointment(a); err != nil {
		return Appointment{}, err
	}
	return a, nil
}

func validateAppointment(a Appointment) error {
	if a.PatientID == uuid.Nil {
		return invalidf("patientId", "is required")
	}
	if a.DoctorID == uuid.Nil {
		return invalidf("doctorId", "is required")
	}
	if a.DepartmentID == uuid.Nil {
		return invalidf("departmentId", "is required")
	}
	if a.Date.IsZero() {
		return invalidf("date", "is required")
	}
	if strings.TrimSpace(a.Reason) == "" {
		return invalidf("reason", "must not be empty")
	}
	if !ValidDuration(a.DurationMinutes) {
		return invalidf("duration", "must be one of %v minutes", ValidDurations)
	}
	if !a.Type.Valid() {
		return invalidf("appointmentType", "unknown type %q", string(a.Type))
	}
	if !a.Priority.Valid() {
		return invalidf("priority", "unknown priority %q", string(a.Priority))
	}
	if a.EndTime != a.StartTime+TimeOfDay(a.DurationMinutes) {
		return invalidf("endTime", "must equal startTime + duration")
	}
	if int(a.EndTime) > 24*60 {
		return invalidf("startTime", "window runs past midnight")
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
