package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/telemed-booking/internal/redis"
	"github.com/hackgods/telemed-booking/internal/video"
)

var (
	ErrPatientNotFound     = errors.New("patient account not found")
	ErrDoctorNotFound      = errors.New("doctor not found or not verified")
	ErrNoAvailability      = errors.New("no availability set by doctor")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrSlotTaken           = errors.New("this time slot is already booked")
	ErrSlotBeingBooked     = errors.New("slot is currently being booked, please retry")
	ErrVideoSession        = errors.New("failed to create video session")
	ErrCreditDeduction     = errors.New("failed to deduct credits")
	ErrForbidden           = errors.New("not a party to this appointment")
	ErrInvalidState        = errors.New("appointment is not in scheduled status")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	video  video.Provider
	logger *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, provider video.Provider, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		video:  provider,
		logger: logger,
	}
}

// EnsureUser maps an identity-provider subject to our user row, creating it
// with the signup bonus on first sight. Idempotent; called once per request
// at the boundary.
func (s *Service) EnsureUser(ctx context.Context, externalID, name, email string) (*User, error) {
	if externalID == "" {
		return nil, fmt.Errorf("%w: identity subject is required", ErrInvalidInput)
	}
	if name == "" {
		name = "User"
	}

	user, err := s.repo.EnsureUser(ctx, externalID, name, email)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

// SetRole applies the onboarding role choice. Picking DOCTOR requires a
// specialty and description and puts the account back into PENDING review.
func (s *Service) SetRole(ctx context.Context, userID uuid.UUID, upd RoleUpdate) (*User, error) {
	switch upd.Role {
	case RolePatient:
		upd.Specialty = nil
		upd.Description = nil
	case RoleDoctor:
		if upd.Specialty == nil || *upd.Specialty == "" || upd.Description == nil || *upd.Description == "" {
			return nil, fmt.Errorf("%w: specialty and description are required for doctors", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: invalid role selection", ErrInvalidInput)
	}

	user, err := s.repo.SetUserRole(ctx, userID, upd)
	if err != nil {
		return nil, fmt.Errorf("set user role: %w", err)
	}

	s.logger.Info("user role set",
		zap.String("user_id", userID.String()),
		zap.String("role", string(upd.Role)),
	)
	return user, nil
}

// SetAvailability replaces the doctor's recurring daily window.
// Cross-midnight windows are rejected here rather than silently
// mis-generating slots later.
func (s *Service) SetAvailability(ctx context.Context, doctorID uuid.UUID, start, end TimeOfDay) (*Availability, error) {
	doctor, err := s.repo.GetUserByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doctor.Role != RoleDoctor {
		return nil, ErrDoctorNotFound
	}

	if start < 0 || end > 24*60 {
		return nil, fmt.Errorf("%w: window must fall within a single day", ErrInvalidInput)
	}
	if end <= start {
		return nil, fmt.Errorf("%w: window end %s must be after start %s on the same day", ErrInvalidInput, end, start)
	}

	window, err := s.repo.UpsertAvailability(ctx, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("upsert availability: %w", err)
	}

	s.logger.Info("availability window set",
		zap.String("doctor_id", doctorID.String()),
		zap.String("start", start.String()),
		zap.String("end", end.String()),
	)
	return window, nil
}

type BookingRequest struct {
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	PatientDescription *string
}

// BookAppointment validates the request, creates the remote video session
// and commits the appointment together with the credit movement. The
// overlap check and the insert run under a per-doctor lock so two
// concurrent requests for overlapping intervals cannot both succeed; the
// exclusion constraint on the appointments table backs that up at commit
// time.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	patient, err := s.repo.GetUserByID(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if patient.Role != RolePatient {
		return nil, ErrPatientNotFound
	}

	doctor, err := s.repo.GetUserByID(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doctor.Role != RoleDoctor || doctor.VerificationStatus != VerificationVerified {
		return nil, ErrDoctorNotFound
	}

	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return nil, fmt.Errorf("%w: start time and end time are required", ErrInvalidInput)
	}
	if !req.StartTime.Before(req.EndTime) {
		return nil, fmt.Errorf("%w: start time must be before end time", ErrInvalidInput)
	}

	if patient.Credits < AppointmentCost {
		return nil, fmt.Errorf("%w: you have %d credits but need %d", ErrInsufficientCredits, patient.Credits, AppointmentCost)
	}

	var created *Appointment

	err = s.locker.WithDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		// Fresh conflict check inside the critical section, not the slot
		// generator's possibly stale view.
		taken, err := s.repo.HasOverlappingAppointment(lockCtx, req.DoctorID, req.StartTime, req.EndTime)
		if err != nil {
			return fmt.Errorf("check overlapping appointment: %w", err)
		}
		if taken {
			return ErrSlotTaken
		}

		sessionID, err := s.video.CreateSession(lockCtx)
		if err != nil {
			s.logger.Error("video session creation failed", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrVideoSession, err)
		}

		appt, err := s.repo.CreateBookedAppointment(lockCtx, BookingParams{
			DoctorID:           req.DoctorID,
			PatientID:          req.PatientID,
			StartTime:          req.StartTime,
			EndTime:            req.EndTime,
			VideoSessionID:     sessionID,
			PatientDescription: req.PatientDescription,
		})
		if err != nil {
			// The session is free to abandon; credits and the appointment
			// row roll back together.
			s.logger.Warn("abandoning video session after failed booking",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			if errors.Is(err, ErrSlotTaken) || errors.Is(err, ErrInsufficientCredits) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrCreditDeduction, err)
		}

		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("doctor_id", req.DoctorID.String()),
		zap.String("patient_id", req.PatientID.String()),
		zap.Time("start_time", created.StartTime),
	)

	return created, nil
}

// MarkJoined records that one party of the appointment entered the call.
// Re-joining is a no-op, not an error.
func (s *Service) MarkJoined(ctx context.Context, appointmentID, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.IsParty(actorID) {
		return nil, ErrForbidden
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidState
	}

	var party Role
	switch actorID {
	case appt.PatientID:
		if appt.PatientJoined {
			return appt, nil
		}
		party = RolePatient
	case appt.DoctorID:
		if appt.DoctorJoined {
			return appt, nil
		}
		party = RoleDoctor
	}

	updated, err := s.repo.SetJoined(ctx, appointmentID, party)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// lost a race with finalize/sweep
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("mark joined: %w", err)
	}
	return updated, nil
}

// Finalize lets the doctor close out a consultation: COMPLETED when the
// patient showed up, TIME_OVER otherwise.
func (s *Service) Finalize(ctx context.Context, appointmentID, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != actorID {
		return nil, fmt.Errorf("%w: only the doctor can finalize the appointment", ErrForbidden)
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidState
	}

	to := terminalStatus(appt.PatientJoined)

	updated, err := s.repo.FinalizeAppointment(ctx, appointmentID, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("finalize appointment: %w", err)
	}

	s.logger.Info("appointment finalized",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("status", string(to)),
	)
	return updated, nil
}

// Cancel lets either party cancel a scheduled appointment; the booking cost
// flows back to the patient in the same transaction.
func (s *Service) Cancel(ctx context.Context, appointmentID, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.IsParty(actorID) {
		return nil, ErrForbidden
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidState
	}

	updated, err := s.repo.CancelAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logger.Info("appointment cancelled",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("cancelled_by", actorID.String()),
	)
	return updated, nil
}

// SweepExpired resolves every SCHEDULED appointment whose end time has
// passed. Best effort: errors are logged, never propagated, so it is safe
// to run before any appointment-list read or from the worker.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) int64 {
	updated, err := s.repo.SweepExpired(ctx, now)
	if err != nil {
		s.logger.Error("sweep of expired appointments failed", zap.Error(err))
		return 0
	}
	if updated > 0 {
		s.logger.Info("swept expired appointments", zap.Int64("updated", updated))
	}
	return updated
}

// ListAppointments returns the actor's appointments, sweeping stale
// SCHEDULED rows first so listings never show an appointment whose time has
// already passed.
func (s *Service) ListAppointments(ctx context.Context, actorID uuid.UUID) ([]Appointment, error) {
	s.SweepExpired(ctx, time.Now())

	appts, err := s.repo.ListAppointmentsForUser(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// VideoCredentials is what a party needs to join the call.
type VideoCredentials struct {
	SessionID string
	Token     string
}

// IssueSessionToken hands a party the session handle plus a signed token.
// Available from 30 minutes before the scheduled start; the token stays
// valid until one hour past the scheduled end.
func (s *Service) IssueSessionToken(ctx context.Context, appointmentID, actorID uuid.UUID, now time.Time) (*VideoCredentials, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.IsParty(actorID) {
		return nil, fmt.Errorf("%w: you are not authorized to join this call", ErrForbidden)
	}
	if appt.Status != StatusScheduled {
		return nil, ErrInvalidState
	}
	if now.Before(appt.StartTime.Add(-JoinLeadTime)) {
		return nil, fmt.Errorf("%w: the call opens %d minutes before the scheduled start", ErrInvalidState, int(JoinLeadTime.Minutes()))
	}

	actor, err := s.repo.GetUserByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("load actor: %w", err)
	}

	expiresAt := appt.EndTime.Add(TokenGracePeriod)
	token, err := s.video.IssueToken(appt.VideoSessionID, video.TokenIdentity{
		UserID: actor.ID.String(),
		Name:   actor.Name,
		Role:   string(actor.Role),
	}, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVideoSession, err)
	}

	return &VideoCredentials{
		SessionID: appt.VideoSessionID,
		Token:     token,
	}, nil
}

func terminalStatus(patientJoined bool) AppointmentStatus {
	if patientJoined {
		return StatusCompleted
	}
	return StatusTimeOver
}
