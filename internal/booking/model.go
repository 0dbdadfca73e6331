package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUnassigned Role = "UNASSIGNED"
	RolePatient    Role = "PATIENT"
	RoleDoctor     Role = "DOCTOR"
	RoleAdmin      Role = "ADMIN"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusTimeOver  AppointmentStatus = "TIME_OVER"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

type AvailabilityStatus string

const (
	AvailabilityAvailable   AvailabilityStatus = "AVAILABLE"
	AvailabilityUnavailable AvailabilityStatus = "UNAVAILABLE"
)

type TransactionType string

const (
	TxSignupBonus          TransactionType = "SIGNUP_BONUS"
	TxAppointmentDeduction TransactionType = "APPOINTMENT_DEDUCTION"
	TxAppointmentEarning   TransactionType = "APPOINTMENT_EARNING"
	TxAppointmentRefund    TransactionType = "APPOINTMENT_REFUND"
)

const (
	// AppointmentCost is what a patient pays to book one consultation.
	AppointmentCost = 2
	// SignupCredits is the starter balance granted on first sign-in.
	SignupCredits = 2
	// SlotDuration is the booking granularity.
	SlotDuration = 30 * time.Minute
	// SlotHorizonDays is how many calendar days of slots are offered.
	SlotHorizonDays = 4
	// JoinLeadTime is how early before the scheduled start a call token
	// can be issued.
	JoinLeadTime = 30 * time.Minute
	// TokenGracePeriod extends token validity past the scheduled end.
	TokenGracePeriod = time.Hour
)

type User struct {
	ID                 uuid.UUID
	ExternalID         string
	Name               string
	Email              string
	Role               Role
	Specialty          *string
	Description        *string
	VerificationStatus VerificationStatus
	Credits            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TimeOfDay is a clock time expressed as minutes since midnight, projected
// onto concrete dates by the slot generator.
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) Minutes() int { return int(t) }

// On projects the clock time onto the calendar day of d, in d's location.
func (t TimeOfDay) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), int(t)/60, int(t)%60, 0, 0, d.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

type Availability struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Start     TimeOfDay
	End       TimeOfDay
	Status    AvailabilityStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID                 uuid.UUID
	DoctorID           uuid.UUID
	PatientID          uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	Status             AppointmentStatus
	PatientJoined      bool
	DoctorJoined       bool
	VideoSessionID     string
	PatientDescription *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsParty reports whether the user is the appointment's patient or doctor.
func (a *Appointment) IsParty(userID uuid.UUID) bool {
	return a.PatientID == userID || a.DoctorID == userID
}

type CreditTransaction struct {
	ID        int64
	UserID    uuid.UUID
	Type      TransactionType
	Amount    int
	CreatedAt time.Time
}

// Slot is a derived bookable interval; it is never persisted.
type Slot struct {
	StartTime time.Time
	EndTime   time.Time
	Formatted string // "3:00 PM - 3:30 PM"
	Day       string // "Monday, January 2"
}

// DaySlots is one calendar day's bucket of open slots. Empty buckets are
// kept so callers can render day placeholders.
type DaySlots struct {
	Date        string // "2006-01-02"
	DisplayDate string
	Slots       []Slot
}
