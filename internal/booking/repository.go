package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken is returned both by the service's conflict check and by
	// repository implementations when an insert loses to the slot's unique
	// constraint.
	ErrSlotTaken = errors.New("appointment slot is already taken")
)

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindConflicting returns the non-cancelled appointment occupying
	// (doctorID, date, timeOfDay), or ErrAppointmentNotFound.
	FindConflicting(ctx context.Context, doctorID uuid.UUID, date time.Time, timeOfDay string) (*Appointment, error)

	// CreateAppointment persists a new appointment, assigning its id and
	// timestamps. Implementations must reject a second non-cancelled
	// appointment for the same slot with ErrSlotTaken.
	CreateAppointment(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time, timeOfDay, notes string) (*Appointment, error)

	// UpdateAppointmentStatus moves the appointment from status from to to.
	// The update is a compare-and-set: if the stored status no longer equals
	// from, ErrAppointmentNotFound is returned and the caller decides what
	// the stale read means.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Read surface
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error)
	ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]AppointmentDetail, error)
	ListByDate(ctx context.Context, date time.Time) ([]AppointmentDetail, error)
	ListAll(ctx context.Context) ([]AppointmentDetail, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
