package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDepartmentByID(ctx context.Context, id uuid.UUID) (*Department, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*Detail, error)

	// ListBlocking returns scheduled/confirmed appointments for a doctor on
	// a date, the input to slot computation and conflict checks.
	ListBlocking(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)

	// CreateAppointment and UpdateAppointment perform the overlap check and
	// the write as one atomic unit; they return *ConflictError when the time
	// window collides with another blocking appointment for the same doctor
	// and date. Updates exclude the appointment's own row.
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error)

	// UpdateStatus is a compare-and-swap on the status column. reason is
	// stored as the cancellation reason when non-nil.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error)

	// List applies the filter with stable (date, start, id) ordering and
	// returns the page plus the total matching count.
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]Detail, int, error)

	// Reminder bookkeeping
	MarkReminderSent(ctx context.Context, id uuid.UUID) error
	FindDueReminders(ctx context.Context, now time.Time, lead time.Duration) ([]Detail, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
