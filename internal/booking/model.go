package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

type DoctorStatus string

const (
	DoctorActive   DoctorStatus = "ACTIVE"
	DoctorInactive DoctorStatus = "INACTIVE"
)

type Patient struct {
	ID        uuid.UUID
	FullName  string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID             uuid.UUID
	FullName       string
	Specialization string
	Status         DoctorStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Appointment is one scheduled visit. Date is a calendar date (midnight,
// no timezone semantics beyond the store's DATE column) and TimeOfDay is
// the "HH:MM" slot within that date.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	TimeOfDay string
	Status    AppointmentStatus
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotKey identifies the (doctor, date, time) slot of an appointment.
// It is used both as the lock key and in log fields.
func (a *Appointment) SlotKey() string {
	return SlotKey(a.DoctorID, a.Date, a.TimeOfDay)
}

func SlotKey(doctorID uuid.UUID, date time.Time, timeOfDay string) string {
	return fmt.Sprintf("%s:%s:%s", doctorID, date.Format("2006-01-02"), timeOfDay)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail is an appointment hydrated with its doctor and patient,
// used by the read endpoints.
type AppointmentDetail struct {
	Appointment
	Patient *Patient
	Doctor  *Doctor
}
