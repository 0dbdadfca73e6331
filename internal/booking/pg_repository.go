package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var specialty, description *string

	err := row.Scan(
		&u.ID,
		&u.ExternalID,
		&u.Name,
		&u.Email,
		&u.Role,
		&specialty,
		&description,
		&u.VerificationStatus,
		&u.Credits,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Specialty = specialty
	u.Description = description
	return &u, nil
}

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	var startMinutes, endMinutes int

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&startMinutes,
		&endMinutes,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	a.Start = TimeOfDay(startMinutes)
	a.End = TimeOfDay(endMinutes)
	return &a, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var description *string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.PatientJoined,
		&a.DoctorJoined,
		&a.VideoSessionID,
		&description,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.PatientDescription = description
	return &a, nil
}

// isOverlapViolation reports whether err is the appointments_no_overlap
// exclusion constraint (or a unique violation) firing at commit time.
func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23P01" || pgErr.Code == "23505"
}

// Interface methods

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, external_id, name, email, role, specialty, description, verification_status, credits, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, external_id, name, email, role, specialty, description, verification_status, credits, created_at, updated_at
		FROM users
		WHERE external_id = $1
	`, externalID)
	return scanUser(row)
}

func (r *PgRepository) EnsureUser(ctx context.Context, externalID, name, email string) (*User, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin ensure user: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO users (id, external_id, name, email, credits)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id, external_id, name, email, role, specialty, description, verification_status, credits, created_at, updated_at
	`, uuid.New(), externalID, name, email, SignupCredits)

	user, err := scanUser(row)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		// Already existed; the insert was a no-op.
		existing, err := scanUser(tx.QueryRow(ctx, `
			SELECT id, external_id, name, email, role, specialty, description, verification_status, credits, created_at, updated_at
			FROM users
			WHERE external_id = $1
		`, externalID))
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit ensure user: %w", err)
		}
		return existing, nil
	}

	// Fresh row: record the signup bonus in the ledger.
	_, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions (user_id, type, amount)
		VALUES ($1, $2, $3)
	`, user.ID, TxSignupBonus, SignupCredits)
	if err != nil {
		return nil, fmt.Errorf("insert signup bonus: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ensure user: %w", err)
	}
	return user, nil
}

func (r *PgRepository) SetUserRole(ctx context.Context, id uuid.UUID, upd RoleUpdate) (*User, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE users
		SET role = $2,
		    specialty = $3,
		    description = $4,
		    verification_status = CASE WHEN $2 = 'DOCTOR' THEN 'PENDING' ELSE verification_status END,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, external_id, name, email, role, specialty, description, verification_status, credits, created_at, updated_at
	`, id, upd.Role, upd.Specialty, upd.Description)
	return scanUser(row)
}

func (r *PgRepository) GetActiveAvailability(ctx context.Context, doctorID uuid.UUID) (*Availability, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, doctor_id, start_minutes, end_minutes, status, created_at, updated_at
		FROM availabilities
		WHERE doctor_id = $1 AND status = 'AVAILABLE'
	`, doctorID)
	return scanAvailability(row)
}

func (r *PgRepository) UpsertAvailability(ctx context.Context, doctorID uuid.UUID, start, end TimeOfDay) (*Availability, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert availability: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE availabilities
		SET status = 'UNAVAILABLE',
		    updated_at = now()
		WHERE doctor_id = $1 AND status = 'AVAILABLE'
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("deactivate previous window: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO availabilities (id, doctor_id, start_minutes, end_minutes, status)
		VALUES ($1, $2, $3, $4, 'AVAILABLE')
		RETURNING id, doctor_id, start_minutes, end_minutes, status, created_at, updated_at
	`, uuid.New(), doctorID, start.Minutes(), end.Minutes())

	window, err := scanAvailability(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert availability: %w", err)
	}
	return window, nil
}

func (r *PgRepository) ListScheduledAppointments(ctx context.Context, doctorID uuid.UUID, before time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, doctor_id, patient_id, start_time, end_time, status, patient_joined, doctor_joined, video_session_id, patient_description, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'SCHEDULED'
		  AND start_time < $2
		ORDER BY start_time
	`, doctorID, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) HasOverlappingAppointment(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error) {
	var taken bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE doctor_id = $1
			  AND status = 'SCHEDULED'
			  AND start_time < $3
			  AND end_time > $2
		)
	`, doctorID, start, end).Scan(&taken)
	if err != nil {
		return false, err
	}
	return taken, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, doctor_id, patient_id, start_time, end_time, status, patient_joined, doctor_joined, video_session_id, patient_description, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsForUser(ctx context.Context, userID uuid.UUID) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, doctor_id, patient_id, start_time, end_time, status, patient_joined, doctor_joined, video_session_id, patient_description, created_at, updated_at
		FROM appointments
		WHERE patient_id = $1 OR doctor_id = $1
		ORDER BY start_time DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) CreateBookedAppointment(ctx context.Context, p BookingParams) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize check-and-insert per doctor at the database level too, in
	// case the distributed lock was unavailable.
	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, p.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("acquire doctor tx lock: %w", err)
	}

	var taken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE doctor_id = $1
			  AND status = 'SCHEDULED'
			  AND start_time < $3
			  AND end_time > $2
		)
	`, p.DoctorID, p.StartTime, p.EndTime).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("recheck overlap: %w", err)
	}
	if taken {
		return nil, ErrSlotTaken
	}

	// Debit guarded by the balance so it can never go negative.
	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET credits = credits - $2,
		    updated_at = now()
		WHERE id = $1 AND credits >= $2
	`, p.PatientID, AppointmentCost)
	if err != nil {
		return nil, fmt.Errorf("debit patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInsufficientCredits
	}

	tag, err = tx.Exec(ctx, `
		UPDATE users
		SET credits = credits + $2,
		    updated_at = now()
		WHERE id = $1
	`, p.DoctorID, AppointmentCost)
	if err != nil {
		return nil, fmt.Errorf("credit doctor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrUserNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions (user_id, type, amount)
		VALUES ($1, $2, $3), ($4, $5, $6)
	`, p.PatientID, TxAppointmentDeduction, -AppointmentCost,
		p.DoctorID, TxAppointmentEarning, AppointmentCost)
	if err != nil {
		return nil, fmt.Errorf("insert ledger rows: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, start_time, end_time, status, video_session_id, patient_description)
		VALUES ($1, $2, $3, $4, $5, 'SCHEDULED', $6, $7)
		RETURNING id, doctor_id, patient_id, start_time, end_time, status, patient_joined, doctor_joined, video_session_id, patient_description, created_at, updated_at
	`, uuid.New(), p.DoctorID, p.PatientID, p.StartTime, p.EndTime, p.VideoSessionID, p.PatientDescription)

	appt, err := scanAppointment(row)
	if err != nil {
		if isOverlapViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isOverlapViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("commit booking: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) SetJoined(ctx context.Context, id uuid.UUID, party Role) (*Appointment, error) {
	var query string
	switch party {
	case RolePatient:
		query = `
			UPDATE appointments
			SET patient_joined = true,
			    updated_at = now()
			WHERE id = $1 AND status = 'SCHEDULED'
			RETURNING id, doctor_id, patient_id, start_time, end_time, status, patient_joined, doctor_joined, video_session_id, patient_description, created_at, updated_at
		`
	case RoleDoctor:
		query = `
			UPDATE appointments
			SET doctor_joined = true,
			    updated_at = now()
			WHERE id = $1 AND status = 'SCHEDULED'
			RETURNING id, doctor_id, patient_id, start_time, end_time, status, patient_joined, doctor_joined, video_session_id, patient_description, created_at, updated_at
		`
	default:
		return nil, fmt.Errorf("set joined: unsupported party %q", party)
	}

	return scanAppointment(r.db.QueryRow(ctx, query, id))
}

func (r *PgRepository) FinalizeAppointment(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'SCHEDULED'
		RETURNING id, doctor_id, patient_id, start_time, end_time, status, patient_joined, doctor_joined, video_session_id, patient_description, created_at, updated_at
	`, id, to)
	return scanAppointment(row)
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'CANCELLED',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'SCHEDULED'
		RETURNING id, doctor_id, patient_id, start_time, end_time, status, patient_joined, doctor_joined, video_session_id, patient_description, created_at, updated_at
	`, id)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET credits = credits + $2,
		    updated_at = now()
		WHERE id = $1
	`, appt.PatientID, AppointmentCost)
	if err != nil {
		return nil, fmt.Errorf("refund patient: %w", err)
	}

	// Claw back the doctor's earning when the balance still covers it.
	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET credits = credits - $2,
		    updated_at = now()
		WHERE id = $1 AND credits >= $2
	`, appt.DoctorID, AppointmentCost)
	if err != nil {
		return nil, fmt.Errorf("claw back doctor earning: %w", err)
	}

	if tag.RowsAffected() > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO credit_transactions (user_id, type, amount)
			VALUES ($1, $2, $3), ($4, $5, $6)
		`, appt.PatientID, TxAppointmentRefund, AppointmentCost,
			appt.DoctorID, TxAppointmentRefund, -AppointmentCost)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO credit_transactions (user_id, type, amount)
			VALUES ($1, $2, $3)
		`, appt.PatientID, TxAppointmentRefund, AppointmentCost)
	}
	if err != nil {
		return nil, fmt.Errorf("insert refund ledger rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}

	return appt, nil
}

func (r *PgRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET status = CASE WHEN patient_joined THEN 'COMPLETED' ELSE 'TIME_OVER' END,
		    updated_at = now()
		WHERE status = 'SCHEDULED'
		  AND end_time < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
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
