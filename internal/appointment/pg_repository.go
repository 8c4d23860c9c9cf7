package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgExclusionViolation is raised by the appointments_no_overlap constraint.
const pgExclusionViolation = "23P01"

// DB is the subset of pgxpool.Pool the repository needs. Satisfied by
// *pgxpool.Pool and by pgxmock pools in tests.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, patient_id, doctor_id, department_id, date, start_min, end_min,
	duration_min, appointment_type, priority, status, reason, notes, insurance,
	cancellation_reason, reminder_sent, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var startMin, endMin int

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.DepartmentID,
		&a.Date,
		&startMin,
		&endMin,
		&a.DurationMinutes,
		&a.Type,
		&a.Priority,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.Insurance,
		&a.CancellationReason,
		&a.ReminderSent,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.StartTime = TimeOfDay(startMin)
	a.EndTime = TimeOfDay(endMin)
	return &a, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialization,
		&d.DepartmentID,
		&d.Email,
		&d.Phone,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialization, department_id, email, phone, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDepartmentByID(ctx context.Context, id uuid.UUID) (*Department, error) {
	var d Department
	err := r.db.QueryRow(ctx, `
		SELECT id, name, created_at, updated_at
		FROM departments
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDepartmentNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListBlocking(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status IN ('scheduled', 'confirmed')
		ORDER BY start_min
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// CreateAppointment checks for an overlapping blocking appointment and inserts
// in one transaction. The appointments_no_overlap exclusion constraint backs
// the check, so concurrent writers cannot both commit.
func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkOverlap(ctx, tx, a); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, department_id, date, start_min, end_min,
			duration_min, appointment_type, priority, status, reason, notes,
			insurance, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.DoctorID, a.DepartmentID, a.Date, int(a.StartTime), int(a.EndTime),
		a.DurationMinutes, a.Type, a.Priority, a.Status, a.Reason, a.Notes, a.Insurance)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapConflict(ctx, r.db, a, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapConflict(ctx, r.db, a, err)
	}

	return created, nil
}

// UpdateAppointment rewrites every mutable column, excluding the row itself
// from the overlap check.
func (r *PgRepository) UpdateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkOverlap(ctx, tx, a); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET patient_id = $2,
		    doctor_id = $3,
		    department_id = $4,
		    date = $5,
		    start_min = $6,
		    end_min = $7,
		    duration_min = $8,
		    appointment_type = $9,
		    priority = $10,
		    status = $11,
		    reason = $12,
		    notes = $13,
		    insurance = $14,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.DoctorID, a.DepartmentID, a.Date, int(a.StartTime), int(a.EndTime),
		a.DurationMinutes, a.Type, a.Priority, a.Status, a.Reason, a.Notes, a.Insurance)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, mapConflict(ctx, r.db, a, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapConflict(ctx, r.db, a, err)
	}

	return updated, nil
}

// checkOverlap looks for a blocking appointment colliding with a's window,
// locking matches so they cannot change under us before commit.
func checkOverlap(ctx context.Context, tx pgx.Tx, a Appointment) error {
	var conflictingID uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status IN ('scheduled', 'confirmed')
		  AND start_min < $4
		  AND $3 < end_min
		  AND id <> $5
		LIMIT 1
		FOR UPDATE
	`, a.DoctorID, a.Date, int(a.StartTime), int(a.EndTime), a.ID).Scan(&conflictingID)
	if err == nil {
		return &ConflictError{ConflictingID: conflictingID}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return fmt.Errorf("check overlap: %w", err)
}

// mapConflict converts an exclusion-constraint violation into a ConflictError,
// re-querying for the colliding row's id on a best-effort basis.
func mapConflict(ctx context.Context, db DB, a Appointment, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgExclusionViolation {
		return err
	}

	conflict := &ConflictError{}
	_ = db.QueryRow(ctx, `
		SELECT id
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status IN ('scheduled', 'confirmed')
		  AND start_min < $4
		  AND $3 < end_min
		  AND id <> $5
		LIMIT 1
	`, a.DoctorID, a.Date, int(a.StartTime), int(a.EndTime), a.ID).Scan(&conflict.ConflictingID)
	return conflict
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = COALESCE($4, cancellation_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from, reason)

	return scanAppointment(row)
}

const detailColumns = `
	a.id, a.patient_id, a.doctor_id, a.department_id, a.date, a.start_min, a.end_min,
	a.duration_min, a.appointment_type, a.priority, a.status, a.reason, a.notes,
	a.insurance, a.cancellation_reason, a.reminder_sent, a.created_at, a.updated_at,
	d.name, d.specialization, p.name, p.email, p.phone, dep.name`

const detailJoins = `
	FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN patients p ON p.id = a.patient_id
	JOIN departments dep ON dep.id = a.department_id`

func scanDetail(row pgx.Row) (*Detail, error) {
	var det Detail
	var startMin, endMin int
	doctor := Doctor{}
	patient := Patient{}
	department := Department{}

	err := row.Scan(
		&det.ID,
		&det.PatientID,
		&det.DoctorID,
		&det.DepartmentID,
		&det.Date,
		&startMin,
		&endMin,
		&det.DurationMinutes,
		&det.Type,
		&det.Priority,
		&det.Status,
		&det.Reason,
		&det.Notes,
		&det.Insurance,
		&det.CancellationReason,
		&det.ReminderSent,
		&det.CreatedAt,
		&det.UpdatedAt,
		&doctor.Name,
		&doctor.Specialization,
		&patient.Name,
		&patient.Email,
		&patient.Phone,
		&department.Name,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	det.StartTime = TimeOfDay(startMin)
	det.EndTime = TimeOfDay(endMin)
	doctor.ID = det.DoctorID
	patient.ID = det.PatientID
	department.ID = det.DepartmentID
	det.Doctor = &doctor
	det.Patient = &patient
	det.Department = &department
	return &det, nil
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	row := r.db.QueryRow(ctx, `SELECT `+detailColumns+detailJoins+` WHERE a.id = $1`, id)
	return scanDetail(row)
}

// filterClause builds the WHERE clause for a ListFilter. Conditions are
// AND-combined; placeholders continue from the returned args slice.
func filterClause(f ListFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != nil {
		add("a.status = $%d", *f.Status)
	}
	if f.DoctorID != nil {
		add("a.doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("a.patient_id = $%d", *f.PatientID)
	}
	if f.Date != nil {
		add("a.date = $%d", *f.Date)
	}
	if f.StartDate != nil {
		add("a.date >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("a.date <= $%d", *f.EndDate)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PgRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Detail, int, error) {
	where, args := filterClause(filter)

	var total int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM appointments a`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	// Stable ordering so pagination never skips or duplicates rows.
	query := `SELECT ` + detailColumns + detailJoins + where +
		fmt.Sprintf(` ORDER BY a.date, a.start_min, a.id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Detail
	for rows.Next() {
		det, err := scanDetail(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *det)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent = true,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) FindDueReminders(ctx context.Context, now time.Time, lead time.Duration) ([]Detail, error) {
	until := now.Add(lead)

	rows, err := r.db.Query(ctx, `
		SELECT `+detailColumns+detailJoins+`
		WHERE a.status IN ('scheduled', 'confirmed')
		  AND a.reminder_sent = false
		  AND (a.date + make_interval(mins => a.start_min)) AT TIME ZONE 'UTC' >= $1
		  AND (a.date + make_interval(mins => a.start_min)) AT TIME ZONE 'UTC' < $2
		ORDER BY a.date, a.start_min, a.id
	`, now, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Detail
	for rows.Next() {
		det, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *det)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
