package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrAvailabilityNotFound = errors.New("no availability set by doctor")
)

// BookingParams carries everything the repository needs to commit a booking
// as one transaction: the appointment row plus the credit movement.
type BookingParams struct {
	DoctorID           uuid.UUID
	PatientID          uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	VideoSessionID     string
	PatientDescription *string
}

// RoleUpdate is applied when a user picks their role during onboarding.
type RoleUpdate struct {
	Role        Role
	Specialty   *string
	Description *string
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
	// EnsureUser finds or creates the row for an identity-provider subject.
	// New users start with the signup bonus and a matching ledger entry.
	EnsureUser(ctx context.Context, externalID, name, email string) (*User, error)
	SetUserRole(ctx context.Context, id uuid.UUID, upd RoleUpdate) (*User, error)

	GetActiveAvailability(ctx context.Context, doctorID uuid.UUID) (*Availability, error)
	// UpsertAvailability replaces the doctor's active window, deactivating
	// any previous one.
	UpsertAvailability(ctx context.Context, doctorID uuid.UUID, start, end TimeOfDay) (*Availability, error)

	// ListScheduledAppointments returns the doctor's SCHEDULED appointments
	// starting before the given instant, ordered by start time.
	ListScheduledAppointments(ctx context.Context, doctorID uuid.UUID, before time.Time) ([]Appointment, error)
	HasOverlappingAppointment(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (bool, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsForUser(ctx context.Context, userID uuid.UUID) ([]Appointment, error)

	// CreateBookedAppointment re-checks the overlap, debits the patient,
	// credits the doctor, writes both ledger rows and inserts the
	// appointment, all in one transaction serialized per doctor.
	CreateBookedAppointment(ctx context.Context, p BookingParams) (*Appointment, error)

	SetJoined(ctx context.Context, id uuid.UUID, party Role) (*Appointment, error)
	// FinalizeAppointment is a compare-and-swap from SCHEDULED to a
	// terminal status.
	FinalizeAppointment(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error)
	// CancelAppointment moves SCHEDULED to CANCELLED and refunds the
	// booking cost in the same transaction.
	CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// SweepExpired resolves every SCHEDULED appointment whose end time has
	// passed and reports how many rows it touched.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}
