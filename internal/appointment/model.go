package appointment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no-show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Blocking reports whether an appointment in this status occupies its time
// window for conflict checks. Cancelled, completed and no-show do not block.
func (s Status) Blocking() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Terminal statuses permit no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func (s Status) CanTransitionTo(to Status) bool {
	if s.Terminal() {
		return false
	}
	switch to {
	case StatusConfirmed:
		return s == StatusScheduled
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return s == StatusScheduled || s == StatusConfirmed
	}
	return false
}

type Type string

const (
	TypeNew          Type = "new"
	TypeFollowUp     Type = "follow-up"
	TypeEmergency    Type = "emergency"
	TypeRoutine      Type = "routine"
	TypeSpecialist   Type = "specialist"
	TypeConsultation Type = "consultation"
	TypeDiagnostic   Type = "diagnostic"
	TypeTherapy      Type = "therapy"
	TypeSurgery      Type = "surgery"
)

func (t Type) Valid() bool {
	switch t {
	case TypeNew, TypeFollowUp, TypeEmergency, TypeRoutine, TypeSpecialist,
		TypeConsultation, TypeDiagnostic, TypeTherapy, TypeSurgery:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Durations bookable through the API, in minutes.
var ValidDurations = []int{15, 30, 45, 60, 90}

func ValidDuration(minutes int) bool {
	for _, d := range ValidDurations {
		if minutes == d {
			return true
		}
	}
	return false
}

// TimeOfDay is minutes since midnight. It marshals as "HH:MM".
type TimeOfDay int

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

const DateLayout = "2006-01-02"

// ParseDate parses YYYY-MM-DD into a UTC midnight time.Time.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Slot is a candidate, unbooked window for a doctor/date. Computed on demand,
// never stored.
type Slot struct {
	StartTime TimeOfDay `json:"startTime"`
	EndTime   TimeOfDay `json:"endTime"`
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	DepartmentID       uuid.UUID
	Date               time.Time // calendar date, midnight UTC
	StartTime          TimeOfDay
	EndTime            TimeOfDay
	DurationMinutes    int
	Type               Type
	Priority           Priority
	Status             Status
	Reason             string
	Notes              *string
	Insurance          *string
	CancellationReason *string
	ReminderSent       bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Overlaps reports whether two half-open time windows on the same date collide.
func Overlaps(aStart, aEnd, bStart, bEnd TimeOfDay) bool {
	return aStart < bEnd && bStart < aEnd
}

type Doctor struct {
	ID             uuid.UUID
	Name           string
	Specialization string
	DepartmentID   uuid.UUID
	Email          *string
	Phone          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Department struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Detail is an appointment hydrated with read-only display copies of the
// referenced doctor, patient and department.
type Detail struct {
	Appointment
	Doctor     *Doctor
	Patient    *Patient
	Department *Department
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ListFilter is AND-combined; nil fields are ignored.
type ListFilter struct {
	Status    *Status
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Date      *time.Time
	StartDate *time.Time
	EndDate   *time.Time
}

// Patch carries a partial update. A nil field leaves the stored value
// unchanged; a set pointer overwrites it.
type Patch struct {
	PatientID       *uuid.UUID
	DoctorID        *uuid.UUID
	DepartmentID    *uuid.UUID
	Date            *time.Time
	StartTime       *TimeOfDay
	DurationMinutes *int
	Type            *Type
	Priority        *Priority
	Reason          *string
	Notes           *string
	Insurance       *string
}

// Apply merges the patch into a copy of the appointment. EndTime is rederived
// so start/end/duration stay internally consistent.
func (p Patch) Apply(a Appointment) Appointment {
	if p.PatientID != nil {
		a.PatientID = *p.PatientID
	}
	if p.DoctorID != nil {
		a.DoctorID = *p.DoctorID
	}
	if p.DepartmentID != nil {
		a.DepartmentID = *p.DepartmentID
	}
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.StartTime != nil {
		a.StartTime = *p.StartTime
	}
	if p.DurationMinutes != nil {
		a.DurationMinutes = *p.DurationMinutes
	}
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Priority != nil {
		a.Priority = *p.Priority
	}
	if p.Reason != nil {
		a.Reason = *p.Reason
	}
	if p.Notes != nil {
		a.Notes = p.Notes
	}
	if p.Insurance != nil {
		a.Insurance = p.Insurance
	}
	a.EndTime = a.StartTime + TimeOfDay(a.DurationMinutes)
	return a
}

// TouchesSchedule reports whether the patch moves the appointment to a
// different doctor or time window, requiring a fresh conflict check.
func (p Patch) TouchesSchedule() bool {
	return p.DoctorID != nil || p.Date != nil || p.StartTime != nil || p.DurationMinutes != nil
}
