package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	dayKeyFormat   = "2006-01-02"
	dayLabelFormat = "Monday, January 2"
	slotTimeFormat = "3:04 PM"
)

// GenerateOpenSlots computes the doctor's free 30-minute slots over a fixed
// 4-day horizon starting on ref's calendar day. The result always contains
// one bucket per day, in order, even when a day has no open slots.
func (s *Service) GenerateOpenSlots(ctx context.Context, doctorID uuid.UUID, ref time.Time) ([]DaySlots, error) {
	doctor, err := s.repo.GetUserByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doctor.Role != RoleDoctor || doctor.VerificationStatus != VerificationVerified {
		return nil, ErrDoctorNotFound
	}

	window, err := s.repo.GetActiveAvailability(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrAvailabilityNotFound) {
			return nil, ErrNoAvailability
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}

	// One bounded range query for the whole horizon instead of one per day.
	horizonEnd := startOfDay(ref).AddDate(0, 0, SlotHorizonDays)
	existing, err := s.repo.ListScheduledAppointments(ctx, doctorID, horizonEnd)
	if err != nil {
		return nil, fmt.Errorf("load scheduled appointments: %w", err)
	}

	return buildDaySlots(window, existing, ref), nil
}

// buildDaySlots is the pure core of the generator: a deterministic function
// of the window, the existing appointments and the reference instant.
func buildDaySlots(window *Availability, existing []Appointment, ref time.Time) []DaySlots {
	days := make([]DaySlots, 0, SlotHorizonDays)

	for i := 0; i < SlotHorizonDays; i++ {
		day := ref.AddDate(0, 0, i)
		slots := openSlotsForDay(window, existing, day, ref)

		bucket := DaySlots{
			Date:  day.Format(dayKeyFormat),
			Slots: slots,
		}
		if len(slots) > 0 {
			bucket.DisplayDate = slots[0].Day
		} else {
			bucket.DisplayDate = day.Format(dayLabelFormat)
		}
		days = append(days, bucket)
	}

	return days
}

func openSlotsForDay(window *Availability, existing []Appointment, day, ref time.Time) []Slot {
	start := window.Start.On(day)
	end := window.End.On(day)

	var slots []Slot

	// Walk in fixed steps; the last slot's end may land exactly on the
	// window end.
	for cur := start; !cur.Add(SlotDuration).After(end); cur = cur.Add(SlotDuration) {
		next := cur.Add(SlotDuration)

		// no booking into the past
		if cur.Before(ref) {
			continue
		}

		if conflictsWithAny(cur, next, existing) {
			continue
		}

		slots = append(slots, Slot{
			StartTime: cur,
			EndTime:   next,
			Formatted: fmt.Sprintf("%s - %s", cur.Format(slotTimeFormat), next.Format(slotTimeFormat)),
			Day:       cur.Format(dayLabelFormat),
		})
	}

	return slots
}

func conflictsWithAny(start, end time.Time, existing []Appointment) bool {
	for _, a := range existing {
		if Overlaps(start, end, a.StartTime, a.EndTime) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
