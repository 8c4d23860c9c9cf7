package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medicore/hospital-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID       string  `json:"patientId"`
	DoctorID        string  `json:"doctorId"`
	DepartmentID    string  `json:"departmentId"`
	AppointmentType string  `json:"appointmentType"`
	Date            string  `json:"date"`
	StartTime       string  `json:"startTime"`
	EndTime         string  `json:"endTime,omitempty"`
	Duration        int     `json:"duration"`
	Reason          string  `json:"reason"`
	Priority        string  `json:"priority"`
	Notes           *string `json:"notes,omitempty"`
	Insurance       *string `json:"insurance,omitempty"`
}

// UpdateAppointmentRequest is a patch: absent fields leave the stored value
// unchanged.
type UpdateAppointmentRequest struct {
	PatientID       *string `json:"patientId,omitempty"`
	DoctorID        *string `json:"doctorId,omitempty"`
	DepartmentID    *string `json:"departmentId,omitempty"`
	AppointmentType *string `json:"appointmentType,omitempty"`
	Date            *string `json:"date,omitempty"`
	StartTime       *string `json:"startTime,omitempty"`
	Duration        *int    `json:"duration,omitempty"`
	Reason          *string `json:"reason,omitempty"`
	Priority        *string `json:"priority,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	Insurance       *string `json:"insurance,omitempty"`
}

type CancelAppointmentRequest struct {
	CancellationReason string `json:"cancellationReason"`
}

type SendReminderRequest struct {
	Type string `json:"type"`
}

type DoctorDisplay struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
}

type PatientDisplay struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email *string   `json:"email,omitempty"`
	Phone *string   `json:"phone,omitempty"`
}

type DepartmentDisplay struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID             `json:"id"`
	PatientID          uuid.UUID             `json:"patientId"`
	DoctorID           uuid.UUID             `json:"doctorId"`
	DepartmentID       uuid.UUID             `json:"departmentId"`
	Date               string                `json:"date"`
	StartTime          appointment.TimeOfDay `json:"startTime"`
	EndTime            appointment.TimeOfDay `json:"endTime"`
	Duration           int                   `json:"duration"`
	AppointmentType    string                `json:"appointmentType"`
	Priority           string                `json:"priority"`
	Status             string                `json:"status"`
	Reason             string                `json:"reason"`
	Notes              *string               `json:"notes,omitempty"`
	Insurance          *string               `json:"insurance,omitempty"`
	CancellationReason *string               `json:"cancellationReason,omitempty"`
	ReminderSent       bool                  `json:"reminderSent"`
	CreatedAt          time.Time             `json:"createdAt"`
	Doctor             *DoctorDisplay        `json:"doctor,omitempty"`
	Patient            *PatientDisplay       `json:"patient,omitempty"`
	Department         *DepartmentDisplay    `json:"department,omitempty"`
}

type ListAppointmentsResponse struct {
	Data       []AppointmentResponse `json:"data"`
	Page       int                   `json:"page"`
	TotalPages int                   `json:"totalPages"`
	TotalItems int                   `json:"totalItems"`
}

type AvailableSlotsResponse struct {
	AvailableSlots []appointment.Slot `json:"availableSlots"`
}

type ErrorResponse struct {
	Error         string     `json:"error"`
	Details       string     `json:"details,omitempty"`
	ConflictingID *uuid.UUID `json:"conflictingId,omitempty"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		DepartmentID:       a.DepartmentID,
		Date:               a.Date.Format(appointment.DateLayout),
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Duration:           a.DurationMinutes,
		AppointmentType:    string(a.Type),
		Priority:           string(a.Priority),
		Status:             string(a.Status),
		Reason:             a.Reason,
		Notes:              a.Notes,
		Insurance:          a.Insurance,
		CancellationReason: a.CancellationReason,
		ReminderSent:       a.ReminderSent,
		CreatedAt:          a.CreatedAt,
	}
}

func toDetailResponse(det appointment.Detail) AppointmentResponse {
	resp := toAppointmentResponse(det.Appointment)
	if det.Doctor != nil {
		resp.Doctor = &DoctorDisplay{
			ID:             det.Doctor.ID,
			Name:           det.Doctor.Name,
			Specialization: det.Doctor.Specialization,
		}
	}
	if det.Patient != nil {
		resp.Patient = &PatientDisplay{
			ID:    det.Patient.ID,
			Name:  det.Patient.Name,
			Email: det.Patient.Email,
			Phone: det.Patient.Phone,
		}
	}
	if det.Department != nil {
		resp.Department = &DepartmentDisplay{
			ID:   det.Department.ID,
			Name: det.Department.Name,
		}
	}
	return resp
}
