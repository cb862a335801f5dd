package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository is an in-memory Repository used by tests. It enforces the
// same slot uniqueness rule as the partial unique index in the SQL schema.
type MemRepository struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]Patient
	doctors      map[uuid.UUID]Doctor
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		patients:     make(map[uuid.UUID]Patient),
		doctors:      make(map[uuid.UUID]Doctor),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

// AddPatient registers a patient, assigning an id if absent.
func (r *MemRepository) AddPatient(p Patient) Patient {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.patients[p.ID] = p
	return p
}

// AddDoctor registers a doctor, assigning an id if absent.
func (r *MemRepository) AddDoctor(d Doctor) Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = DoctorActive
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	r.doctors[d.ID] = d
	return d
}

func (r *MemRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemRepository) FindConflicting(_ context.Context, doctorID uuid.UUID, date time.Time, timeOfDay string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a := r.findConflictLocked(doctorID, date, timeOfDay); a != nil {
		found := *a
		return &found, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemRepository) findConflictLocked(doctorID uuid.UUID, date time.Time, timeOfDay string) *Appointment {
	for _, a := range r.appointments {
		if a.DoctorID == doctorID &&
			a.Date.Equal(date) &&
			a.TimeOfDay == timeOfDay &&
			a.Status != StatusCancelled {
			found := a
			return &found
		}
	}
	return nil
}

func (r *MemRepository) CreateAppointment(_ context.Context, patientID, doctorID uuid.UUID, date time.Time, timeOfDay, notes string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findConflictLocked(doctorID, date, timeOfDay) != nil {
		return nil, ErrSlotTaken
	}

	now := time.Now()
	a := Appointment{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		TimeOfDay: timeOfDay,
		Status:    StatusPending,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.appointments[a.ID] = a
	return &a, nil
}

func (r *MemRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return r.detailLocked(a), nil
}

func (r *MemRepository) detailLocked(a Appointment) *AppointmentDetail {
	det := AppointmentDetail{Appointment: a}
	if p, ok := r.patients[a.PatientID]; ok {
		det.Patient = &p
	}
	if d, ok := r.doctors[a.DoctorID]; ok {
		det.Doctor = &d
	}
	return &det
}

func (r *MemRepository) ListByPatient(_ context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []AppointmentDetail
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			result = append(result, *r.detailLocked(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].TimeOfDay > result[j].TimeOfDay
	})
	return result, nil
}

func (r *MemRepository) ListByDoctorAndDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []AppointmentDetail
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date.Equal(date) {
			result = append(result, *r.detailLocked(a))
		}
	}
	sortByTime(result)
	return result, nil
}

func (r *MemRepository) ListByDate(_ context.Context, date time.Time) ([]AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []AppointmentDetail
	for _, a := range r.appointments {
		if a.Date.Equal(date) {
			result = append(result, *r.detailLocked(a))
		}
	}
	sortByTime(result)
	return result, nil
}

func (r *MemRepository) ListAll(_ context.Context) ([]AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []AppointmentDetail
	for _, a := range r.appointments {
		result = append(result, *r.detailLocked(a))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].TimeOfDay < result[j].TimeOfDay
	})
	return result, nil
}

func sortByTime(details []AppointmentDetail) {
	sort.Slice(details, func(i, j int) bool {
		return details[i].TimeOfDay < details[j].TimeOfDay
	})
}

func (r *MemRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}
