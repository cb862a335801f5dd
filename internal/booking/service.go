package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/doctor-booking/internal/lock"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	ErrDoctorInactive = errors.New("doctor is not active")
	ErrPastDate       = errors.New("cannot book an appointment in the past")
	ErrNotOwner       = errors.New("appointment does not belong to this patient")

	// ErrSlotContended is returned when the slot lock could not be acquired,
	// meaning another booking for the same slot is in flight right now.
	ErrSlotContended = errors.New("slot is currently being booked, please retry")
)

type Service struct {
	repo   Repository
	locker lock.Locker
	log    zerolog.Logger
}

func NewService(repo Repository, locker lock.Locker, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
	}
}

// BookAppointment validates the booking rules and reserves the
// (doctor, date, time) slot for the patient. The conflict check and the
// insert run under a per slot lock so that concurrent requests for the same
// slot cannot both observe it free; the store's uniqueness constraint
// backstops the lock and also surfaces as ErrSlotTaken.
func (s *Service) BookAppointment(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time, timeOfDay, notes string) (*Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doctor.Status != DoctorActive {
		return nil, ErrDoctorInactive
	}

	date = normalizeDate(date)
	key := SlotKey(doctorID, date, timeOfDay)

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		existing, err := s.repo.FindConflicting(lockCtx, doctorID, date, timeOfDay)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check slot conflict: %w", err)
		}
		if existing != nil {
			return ErrSlotTaken
		}

		if date.Before(today()) {
			return ErrPastDate
		}

		appt, err := s.repo.CreateAppointment(lockCtx, patientID, doctorID, date, timeOfDay, notes)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"patient_id": patientID.String(),
			"doctor_id":  doctorID.String(),
			"slot":       key,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, lock.ErrLockNotAcquired) {
			// The competing booking holding the lock may already have
			// committed; answer with the definitive conflict when it has.
			if existing, cerr := s.repo.FindConflicting(ctx, doctorID, date, timeOfDay); cerr == nil && existing != nil {
				return nil, ErrSlotTaken
			}
			return nil, ErrSlotContended
		}
		if errors.Is(err, ErrSlotTaken) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("slot", key).
		Msg("appointment booked")

	return created, nil
}

// CancelAppointment moves an appointment to CANCELLED on behalf of its
// owning patient. Cancellation is the only patient-driven mutation; date,
// time or doctor changes require cancel-and-rebook.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID, patientID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.PatientID != patientID {
		return nil, ErrNotOwner
	}

	updated, err := s.transition(ctx, appt, StatusCancelled)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"patient_id": patientID.String(),
		"slot":       updated.SlotKey(),
	})

	s.log.Info().
		Str("appointment_id", updated.ID.String()).
		Str("slot", updated.SlotKey()).
		Msg("appointment cancelled")

	return updated, nil
}

// CompleteAppointment marks a visit as having taken place. This is an
// administrative transition; it does not check ownership.
func (s *Service) CompleteAppointment(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	updated, err := s.transition(ctx, appt, StatusCompleted)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCompleted, map[string]any{})

	return updated, nil
}

// transition validates and applies a status change via compare-and-set.
// If the CAS loses a race (the stored status changed since the read), the
// appointment is re-read and the transition error for the committed status
// is reported, so a concurrent double-cancel sees "already cancelled"
// rather than a spurious not-found.
func (s *Service) transition(ctx context.Context, appt *Appointment, to AppointmentStatus) (*Appointment, error) {
	if err := ValidateTransition(appt.Status, to); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	current, readErr := s.repo.GetAppointmentByID(ctx, appt.ID)
	if readErr != nil {
		return nil, fmt.Errorf("reload appointment after status race: %w", readErr)
	}
	if verr := ValidateTransition(current.Status, to); verr != nil {
		return nil, verr
	}
	// Status moved to another state we could still transition from; retry
	// once against the fresh read.
	updated, err = s.repo.UpdateAppointmentStatus(ctx, current.ID, current.Status, to)
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return updated, nil
}

// GetAppointment retrieves an appointment hydrated with its doctor and
// patient.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListPatientAppointments returns a patient's booking history, most recent
// slot first.
func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	appts, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

// ListDoctorAppointments returns a doctor's schedule for one date.
func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]AppointmentDetail, error) {
	appts, err := s.repo.ListByDoctorAndDate(ctx, doctorID, normalizeDate(date))
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

// ListAppointmentsByDate returns every appointment on a date, for the
// administrative overview.
func (s *Service) ListAppointmentsByDate(ctx context.Context, date time.Time) ([]AppointmentDetail, error) {
	appts, err := s.repo.ListByDate(ctx, normalizeDate(date))
	if err != nil {
		return nil, fmt.Errorf("list appointments by date: %w", err)
	}
	return appts, nil
}

// ListAllAppointments returns every appointment, for the administrative
// overview without a date filter.
func (s *Service) ListAllAppointments(ctx context.Context) ([]AppointmentDetail, error) {
	appts, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("insert event log")
	}
}

// normalizeDate strips the time-of-day portion so appointment dates compare
// and store as plain calendar dates.
func normalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func today() time.Time {
	return normalizeDate(time.Now())
}
