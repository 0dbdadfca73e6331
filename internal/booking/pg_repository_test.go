package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userColumns = []string{
	"id", "external_id", "name", "email", "role", "specialty", "description",
	"verification_status", "credits", "created_at", "updated_at",
}

var appointmentColumns = []string{
	"id", "doctor_id", "patient_id", "start_time", "end_time", "status",
	"patient_joined", "doctor_joined", "video_session_id", "patient_description",
	"created_at", "updated_at",
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func userRow(id uuid.UUID, role Role, credits int) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(userColumns).AddRow(
		id, "ext-"+id.String(), "Ada", "ada@example.com", role,
		(*string)(nil), (*string)(nil), VerificationPending, credits, now, now,
	)
}

func appointmentRow(id, doctorID, patientID uuid.UUID, start, end time.Time) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(appointmentColumns).AddRow(
		id, doctorID, patientID, start, end, StatusScheduled,
		false, false, "sess-1", (*string)(nil), now, now,
	)
}

func existsRow(taken bool) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"exists"}).AddRow(taken)
}

func TestCreateBookedAppointmentCommitsDebitAndInsert(t *testing.T) {
	mock, repo := newMockRepo(t)

	doctorID := uuid.New()
	patientID := uuid.New()
	apptID := uuid.New()
	start := time.Now().Add(24 * time.Hour).Truncate(time.Hour)
	end := start.Add(SlotDuration)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(doctorID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctorID, start, end).
		WillReturnRows(existsRow(false))
	mock.ExpectExec("UPDATE users").
		WithArgs(patientID, AppointmentCost).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE users").
		WithArgs(doctorID, AppointmentCost).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(patientID, TxAppointmentDeduction, -AppointmentCost,
			doctorID, TxAppointmentEarning, AppointmentCost).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), doctorID, patientID, start, end, "sess-1", pgxmock.AnyArg()).
		WillReturnRows(appointmentRow(apptID, doctorID, patientID, start, end))
	mock.ExpectCommit()

	appt, err := repo.CreateBookedAppointment(context.Background(), BookingParams{
		DoctorID:       doctorID,
		PatientID:      patientID,
		StartTime:      start,
		EndTime:        end,
		VideoSessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, apptID, appt.ID)
	assert.Equal(t, StatusScheduled, appt.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookedAppointmentInsufficientCreditsRollsBack(t *testing.T) {
	mock, repo := newMockRepo(t)

	doctorID := uuid.New()
	patientID := uuid.New()
	start := time.Now().Add(24 * time.Hour)
	end := start.Add(SlotDuration)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(doctorID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctorID, start, end).
		WillReturnRows(existsRow(false))
	// guarded debit matches no row when the balance is short
	mock.ExpectExec("UPDATE users").
		WithArgs(patientID, AppointmentCost).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := repo.CreateBookedAppointment(context.Background(), BookingParams{
		DoctorID:       doctorID,
		PatientID:      patientID,
		StartTime:      start,
		EndTime:        end,
		VideoSessionID: "sess-1",
	})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookedAppointmentOverlapRecheckShortCircuits(t *testing.T) {
	mock, repo := newMockRepo(t)

	doctorID := uuid.New()
	patientID := uuid.New()
	start := time.Now().Add(24 * time.Hour)
	end := start.Add(SlotDuration)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(doctorID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctorID, start, end).
		WillReturnRows(existsRow(true))
	mock.ExpectRollback()

	_, err := repo.CreateBookedAppointment(context.Background(), BookingParams{
		DoctorID:       doctorID,
		PatientID:      patientID,
		StartTime:      start,
		EndTime:        end,
		VideoSessionID: "sess-1",
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBookedAppointmentExclusionViolationMapsToSlotTaken(t *testing.T) {
	mock, repo := newMockRepo(t)

	doctorID := uuid.New()
	patientID := uuid.New()
	start := time.Now().Add(24 * time.Hour)
	end := start.Add(SlotDuration)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(doctorID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctorID, start, end).
		WillReturnRows(existsRow(false))
	mock.ExpectExec("UPDATE users").
		WithArgs(patientID, AppointmentCost).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE users").
		WithArgs(doctorID, AppointmentCost).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(patientID, TxAppointmentDeduction, -AppointmentCost,
			doctorID, TxAppointmentEarning, AppointmentCost).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	// the exclusion constraint fires on the insert
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), doctorID, patientID, start, end, "sess-1", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})
	mock.ExpectRollback()

	_, err := repo.CreateBookedAppointment(context.Background(), BookingParams{
		DoctorID:       doctorID,
		PatientID:      patientID,
		StartTime:      start,
		EndTime:        end,
		VideoSessionID: "sess-1",
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureUserCreatesWithSignupBonus(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), "auth0|abc", "Ada", "ada@example.com", SignupCredits).
		WillReturnRows(userRow(userID, RoleUnassigned, SignupCredits))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(userID, TxSignupBonus, SignupCredits).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	user, err := repo.EnsureUser(context.Background(), "auth0|abc", "Ada", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, SignupCredits, user.Credits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureUserReturnsExistingWithoutBonus(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID := uuid.New()

	mock.ExpectBegin()
	// ON CONFLICT DO NOTHING returns no row for an existing user
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), "auth0|abc", "Ada", "ada@example.com", SignupCredits).
		WillReturnRows(pgxmock.NewRows(userColumns))
	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("auth0|abc").
		WillReturnRows(userRow(userID, RolePatient, 0))
	mock.ExpectCommit()

	user, err := repo.EnsureUser(context.Background(), "auth0|abc", "Ada", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, RolePatient, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByIDNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(userColumns))

	_, err := repo.GetUserByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeAppointmentRequiresScheduledStatus(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	// the CAS update matches nothing when the row left SCHEDULED already
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(id, StatusCompleted).
		WillReturnRows(pgxmock.NewRows(appointmentColumns))

	_, err := repo.FinalizeAppointment(context.Background(), id, StatusCompleted)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepExpiredReturnsRowsAffected(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now()

	mock.ExpectExec("UPDATE appointments").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	updated, err := repo.SweepExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepExpiredPropagatesError(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now()

	mock.ExpectExec("UPDATE appointments").
		WithArgs(now).
		WillReturnError(assert.AnError)

	_, err := repo.SweepExpired(context.Background(), now)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
