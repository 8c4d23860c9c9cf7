package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medicore/hospital-scheduling/internal/appointment"
)

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseListFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
			return
		}

		page := parseIntQuery(r, "page", 1)
		limit := parseIntQuery(r, "limit", 10)

		result, err := svc.List(r.Context(), filter, page, limit)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		items := make([]AppointmentResponse, 0, len(result.Items))
		for _, det := range result.Items {
			items = append(items, toDetailResponse(det))
		}

		writeJSON(w, http.StatusOK, ListAppointmentsResponse{
			Data:       items,
			Page:       result.Page,
			TotalPages: result.TotalPages,
			TotalItems: result.TotalItems,
		})
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		det, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(*det))
	}
}

func availableSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(r.URL.Query().Get("doctorId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
			return
		}

		date, err := appointment.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		duration, err := strconv.Atoi(r.URL.Query().Get("duration"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be an integer number of minutes")
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), doctorID, date, duration)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		if slots == nil {
			slots = []appointment.Slot{}
		}
		writeJSON(w, http.StatusOK, AvailableSlotsResponse{AvailableSlots: slots})
	}
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		draft, err := draftFromRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		appt, err := svc.Create(r.Context(), draft)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func updateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patch, err := patchFromRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		appt, err := svc.Update(r.Context(), id, patch)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, req.CancellationReason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc.Confirm)
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc.Complete)
}

func noShowAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc.MarkNoShow)
}

func transitionHandler(fn func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := fn(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func sendReminderHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req SendReminderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := svc.SendReminder(r.Context(), id, appointment.Channel(req.Type)); err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	}
}

// Helpers

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseIntQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func handleServiceError(w http.ResponseWriter, err error) {
	var validation *appointment.ValidationError
	var conflict *appointment.ConflictError
	var transition *appointment.InvalidTransitionError
	var delivery *appointment.DeliveryError

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", validation.Error())
	case errors.As(err, &conflict):
		resp := ErrorResponse{Error: "slot_conflict", Details: "slot no longer available, please choose another time"}
		if conflict.ConflictingID != uuid.Nil {
			id := conflict.ConflictingID
			resp.ConflictingID = &id
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "invalid_status_transition", transition.Error())
	case errors.As(err, &delivery):
		writeError(w, http.StatusBadGateway, "reminder_delivery_failed", delivery.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDepartmentNotFound):
		writeError(w, http.StatusNotFound, "department_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotEditable):
		writeError(w, http.StatusConflict, "appointment_not_editable", err.Error())
	case errors.Is(err, appointment.ErrAppointmentCancelled):
		writeError(w, http.StatusConflict, "appointment_cancelled", err.Error())
	case errors.Is(err, appointment.ErrScheduleBusy):
		writeError(w, http.StatusConflict, "schedule_busy", "schedule is currently being modified, please retry shortly")
	case errors.Is(err, appointment.ErrDependencyTimeout):
		writeError(w, http.StatusGatewayTimeout, "dependency_timeout", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseListFilter(r *http.Request) (appointment.ListFilter, error) {
	q := r.URL.Query()
	var filter appointment.ListFilter

	if raw := q.Get("status"); raw != "" {
		status := appointment.Status(raw)
		filter.Status = &status
	}
	if raw := q.Get("doctorId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errors.New("doctorId must be a valid UUID")
		}
		filter.DoctorID = &id
	}
	if raw := q.Get("patientId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errors.New("patientId must be a valid UUID")
		}
		filter.PatientID = &id
	}
	if raw := q.Get("date"); raw != "" {
		date, err := appointment.ParseDate(raw)
		if err != nil {
			return filter, errors.New("date must be YYYY-MM-DD")
		}
		filter.Date = &date
	}
	if raw := q.Get("startDate"); raw != "" {
		date, err := appointment.ParseDate(raw)
		if err != nil {
			return filter, errors.New("startDate must be YYYY-MM-DD")
		}
		filter.StartDate = &date
	}
	if raw := q.Get("endDate"); raw != "" {
		date, err := appointment.ParseDate(raw)
		if err != nil {
			return filter, errors.New("endDate must be YYYY-MM-DD")
		}
		filter.EndDate = &date
	}

	return filter, nil
}

func draftFromRequest(req CreateAppointmentRequest) (appointment.Draft, error) {
	var draft appointment.Draft

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return draft, errors.New("patientId must be a valid UUID")
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return draft, errors.New("doctorId must be a valid UUID")
	}
	departmentID, err := uuid.Parse(req.DepartmentID)
	if err != nil {
		return draft, errors.New("departmentId must be a valid UUID")
	}
	date, err := appointment.ParseDate(req.Date)
	if err != nil {
		return draft, errors.New("date must be YYYY-MM-DD")
	}
	startTime, err := appointment.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return draft, err
	}

	draft = appointment.Draft{
		PatientID:       patientID,
		DoctorID:        doctorID,
		DepartmentID:    departmentID,
		Date:            date,
		StartTime:       startTime,
		DurationMinutes: req.Duration,
		Type:            appointment.Type(req.AppointmentType),
		Priority:        appointment.Priority(req.Priority),
		Reason:          req.Reason,
		Notes:           req.Notes,
		Insurance:       req.Insurance,
	}

	if req.EndTime != "" {
		endTime, err := appointment.ParseTimeOfDay(req.EndTime)
		if err != nil {
			return draft, err
		}
		draft.EndTime = &endTime
	}

	return draft, nil
}

func patchFromRequest(req UpdateAppointmentRequest) (appointment.Patch, error) {
	var patch appointment.Patch

	if req.PatientID != nil {
		id, err := uuid.Parse(*req.PatientID)
		if err != nil {
			return patch, errors.New("patientId must be a valid UUID")
		}
		patch.PatientID = &id
	}
	if req.DoctorID != nil {
		id, err := uuid.Parse(*req.DoctorID)
		if err != nil {
			return patch, errors.New("doctorId must be a valid UUID")
		}
		patch.DoctorID = &id
	}
	if req.DepartmentID != nil {
		id, err := uuid.Parse(*req.DepartmentID)
		if err != nil {
			return patch, errors.New("departmentId must be a valid UUID")
		}
		patch.DepartmentID = &id
	}
	if req.Date != nil {
		date, err := appointment.ParseDate(*req.Date)
		if err != nil {
			return patch, errors.New("date must be YYYY-MM-DD")
		}
		patch.Date = &date
	}
	if req.StartTime != nil {
		start, err := appointment.ParseTimeOfDay(*req.StartTime)
		if err != nil {
			return patch, err
		}
		patch.StartTime = &start
	}
	if req.Duration != nil {
		patch.DurationMinutes = req.Duration
	}
	if req.AppointmentType != nil {
		t := appointment.Type(*req.AppointmentType)
		patch.Type = &t
	}
	if req.Priority != nil {
		p := appointment.Priority(*req.Priority)
		patch.Priority = &p
	}
	patch.Reason = req.Reason
	patch.Notes = req.Notes
	patch.Insurance = req.Insurance

	return patch, nil
}
