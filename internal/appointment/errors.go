package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDepartmentNotFound  = errors.New("department not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrScheduleBusy means the doctor+date schedule lock could not be
	// acquired; the caller should retry shortly.
	ErrScheduleBusy = errors.New("schedule is currently being modified, please retry")

	// ErrNotEditable means the appointment is in a terminal status and can
	// no longer be updated.
	ErrNotEditable = errors.New("appointment is no longer editable")

	// ErrAppointmentCancelled blocks reminders for cancelled appointments.
	ErrAppointmentCancelled = errors.New("appointment is cancelled")

	// ErrDependencyTimeout means a store or notifier call exceeded its bound.
	ErrDependencyTimeout = errors.New("dependency did not respond in time")
)

// ValidationError reports malformed or missing input. Recoverable by the
// caller correcting the request; never retried automatically.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports an overlapping booking detected at write time. It
// carries the colliding appointment so the caller can re-query available
// slots and pick another window.
type ConflictError struct {
	ConflictingID uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.ConflictingID == uuid.Nil {
		return "time window overlaps an existing appointment"
	}
	return fmt.Sprintf("time window overlaps appointment %s", e.ConflictingID)
}

// InvalidTransitionError reports a status change out of a terminal state or
// an unsupported transition.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition appointment from %s to %s", e.From, e.To)
}

// DeliveryError reports a reminder the notification collaborator failed to
// deliver. It never affects appointment state.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("reminder delivery via %s failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
