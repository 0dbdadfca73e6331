package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/telemed-booking/internal/booking"
)

type BookAppointmentRequest struct {
	DoctorID    string    `json:"doctor_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Description *string   `json:"description,omitempty"`
}

type AppointmentResponse struct {
	ID             uuid.UUID `json:"id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Status         string    `json:"status"`
	PatientJoined  bool      `json:"patient_joined"`
	DoctorJoined   bool      `json:"doctor_joined"`
	VideoSessionID string    `json:"video_session_id,omitempty"`
	Description    *string   `json:"description,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		DoctorID:       a.DoctorID,
		PatientID:      a.PatientID,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		Status:         string(a.Status),
		PatientJoined:  a.PatientJoined,
		DoctorJoined:   a.DoctorJoined,
		VideoSessionID: a.VideoSessionID,
		Description:    a.PatientDescription,
	}
}

type SlotResponse struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Formatted string    `json:"formatted"`
	Day       string    `json:"day"`
}

type DaySlotsResponse struct {
	Date        string         `json:"date"`
	DisplayDate string         `json:"display_date"`
	Slots       []SlotResponse `json:"slots"`
}

func toDaySlotsResponse(days []booking.DaySlots) []DaySlotsResponse {
	out := make([]DaySlotsResponse, 0, len(days))
	for _, d := range days {
		slots := make([]SlotResponse, 0, len(d.Slots))
		for _, s := range d.Slots {
			slots = append(slots, SlotResponse{
				StartTime: s.StartTime,
				EndTime:   s.EndTime,
				Formatted: s.Formatted,
				Day:       s.Day,
			})
		}
		out = append(out, DaySlotsResponse{
			Date:        d.Date,
			DisplayDate: d.DisplayDate,
			Slots:       slots,
		})
	}
	return out
}

type SetAvailabilityRequest struct {
	Start string `json:"start"` // "09:00"
	End   string `json:"end"`   // "17:00"
}

type AvailabilityResponse struct {
	ID       uuid.UUID `json:"id"`
	DoctorID uuid.UUID `json:"doctor_id"`
	Start    string    `json:"start"`
	End      string    `json:"end"`
	Status   string    `json:"status"`
}

type SetRoleRequest struct {
	Role        string  `json:"role"`
	Specialty   *string `json:"specialty,omitempty"`
	Description *string `json:"description,omitempty"`
}

type UserResponse struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email,omitempty"`
	Role               string    `json:"role"`
	Specialty          *string   `json:"specialty,omitempty"`
	VerificationStatus string    `json:"verification_status"`
	Credits            int       `json:"credits"`
}

func toUserResponse(u *booking.User) UserResponse {
	return UserResponse{
		ID:                 u.ID,
		Name:               u.Name,
		Email:              u.Email,
		Role:               string(u.Role),
		Specialty:          u.Specialty,
		VerificationStatus: string(u.VerificationStatus),
		Credits:            u.Credits,
	}
}

type VideoCredentialsResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type SweepResponse struct {
	Updated int64 `json:"updated"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
