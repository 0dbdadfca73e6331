package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/telemed-booking/internal/booking"
)

func getOpenSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		days, err := svc.GenerateOpenSlots(r.Context(), doctorID, time.Now())
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDaySlotsResponse(days))
	}
}

func bookAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		actor := Actor(r.Context())

		appt, err := svc.BookAppointment(r.Context(), booking.BookingRequest{
			PatientID:          actor.ID,
			DoctorID:           doctorID,
			StartTime:          req.StartTime,
			EndTime:            req.EndTime,
			PatientDescription: req.Description,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := Actor(r.Context())

		appts, err := svc.ListAppointments(r.Context(), actor.ID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func markJoinedHandler(svc *booking.Service) http.HandlerFunc {
	return appointmentActionHandler(svc, func(r *http.Request, svc *booking.Service, id, actorID uuid.UUID) (*booking.Appointment, error) {
		return svc.MarkJoined(r.Context(), id, actorID)
	})
}

func finalizeHandler(svc *booking.Service) http.HandlerFunc {
	return appointmentActionHandler(svc, func(r *http.Request, svc *booking.Service, id, actorID uuid.UUID) (*booking.Appointment, error) {
		return svc.Finalize(r.Context(), id, actorID)
	})
}

func cancelHandler(svc *booking.Service) http.HandlerFunc {
	return appointmentActionHandler(svc, func(r *http.Request, svc *booking.Service, id, actorID uuid.UUID) (*booking.Appointment, error) {
		return svc.Cancel(r.Context(), id, actorID)
	})
}

func appointmentActionHandler(svc *booking.Service, action func(*http.Request, *booking.Service, uuid.UUID, uuid.UUID) (*booking.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actor := Actor(r.Context())

		appt, err := action(r, svc, id, actor.ID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func sessionTokenHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actor := Actor(r.Context())

		creds, err := svc.IssueSessionToken(r.Context(), id, actor.ID, time.Now())
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, VideoCredentialsResponse{
			SessionID: creds.SessionID,
			Token:     creds.Token,
		})
	}
}

func setAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		start, err := booking.ParseTimeOfDay(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be HH:MM")
			return
		}
		end, err := booking.ParseTimeOfDay(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be HH:MM")
			return
		}

		actor := Actor(r.Context())

		window, err := svc.SetAvailability(r.Context(), actor.ID, start, end)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ID:       window.ID,
			DoctorID: window.DoctorID,
			Start:    window.Start.String(),
			End:      window.End.String(),
			Status:   string(window.Status),
		})
	}
}

func setRoleHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetRoleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := Actor(r.Context())

		user, err := svc.SetRole(r.Context(), actor.ID, booking.RoleUpdate{
			Role:        booking.Role(req.Role),
			Specialty:   req.Specialty,
			Description: req.Description,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toUserResponse(user))
	}
}

func currentUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, toUserResponse(Actor(r.Context())))
	}
}

func sweepHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updated := svc.SweepExpired(r.Context(), time.Now())
		writeJSON(w, http.StatusOK, SweepResponse{Updated: updated})
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, booking.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, booking.ErrNoAvailability):
		writeError(w, http.StatusNotFound, "no_availability", err.Error())
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, booking.ErrVideoSession):
		writeError(w, http.StatusBadGateway, "video_session_error", err.Error())
	case errors.Is(err, booking.ErrCreditDeduction):
		writeError(w, http.StatusInternalServerError, "credit_deduction_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
