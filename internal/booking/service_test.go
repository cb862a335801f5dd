package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/doctor-booking/internal/lock"
)

func newTestService(t *testing.T) (*Service, *MemRepository) {
	t.Helper()
	repo := NewMemRepository()
	svc := NewService(repo, lock.NewLocalLocker(), zerolog.Nop())
	return svc, repo
}

func futureDate(days int) time.Time {
	return time.Now().AddDate(0, 0, days)
}

func TestBookAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("books a free slot as pending", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb", Specialization: "Cardiology"})

		appt, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(3), "10:00", "first visit")
		require.NoError(t, err)

		assert.Equal(t, StatusPending, appt.Status)
		assert.Equal(t, patient.ID, appt.PatientID)
		assert.Equal(t, doctor.ID, appt.DoctorID)
		assert.Equal(t, "10:00", appt.TimeOfDay)
		assert.Equal(t, "first visit", appt.Notes)
		assert.NotEqual(t, uuid.Nil, appt.ID)
	})

	t.Run("booking today succeeds", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})

		_, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, time.Now(), "10:00", "")
		require.NoError(t, err)
	})

	t.Run("unknown patient", func(t *testing.T) {
		svc, repo := newTestService(t)
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})

		_, err := svc.BookAppointment(ctx, uuid.New(), doctor.ID, futureDate(3), "10:00", "")
		assert.ErrorIs(t, err, ErrPatientNotFound)
	})

	t.Run("unknown doctor", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})

		_, err := svc.BookAppointment(ctx, patient.ID, uuid.New(), futureDate(3), "10:00", "")
		assert.ErrorIs(t, err, ErrDoctorNotFound)
	})

	t.Run("inactive doctor rejected even with free slot", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb", Status: DoctorInactive})

		_, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(3), "10:00", "")
		assert.ErrorIs(t, err, ErrDoctorInactive)
	})

	t.Run("past date rejected", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})

		_, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(-1), "10:00", "")
		assert.ErrorIs(t, err, ErrPastDate)
	})

	t.Run("occupied slot rejected regardless of requester", func(t *testing.T) {
		svc, repo := newTestService(t)
		p1 := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		p2 := repo.AddPatient(Patient{FullName: "Tom Hale"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})
		date := futureDate(3)

		_, err := svc.BookAppointment(ctx, p1.ID, doctor.ID, date, "10:00", "")
		require.NoError(t, err)

		_, err = svc.BookAppointment(ctx, p2.ID, doctor.ID, date, "10:00", "")
		assert.ErrorIs(t, err, ErrSlotTaken)

		// Same patient double-submitting hits the same rule
		_, err = svc.BookAppointment(ctx, p1.ID, doctor.ID, date, "10:00", "")
		assert.ErrorIs(t, err, ErrSlotTaken)
	})

	t.Run("completed appointment still occupies its slot", func(t *testing.T) {
		svc, repo := newTestService(t)
		p1 := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		p2 := repo.AddPatient(Patient{FullName: "Tom Hale"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})
		date := futureDate(3)

		appt, err := svc.BookAppointment(ctx, p1.ID, doctor.ID, date, "10:00", "")
		require.NoError(t, err)
		_, err = svc.CompleteAppointment(ctx, appt.ID)
		require.NoError(t, err)

		_, err = svc.BookAppointment(ctx, p2.ID, doctor.ID, date, "10:00", "")
		assert.ErrorIs(t, err, ErrSlotTaken)
	})

	t.Run("same doctor different time is free", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})
		date := futureDate(3)

		_, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, date, "10:00", "")
		require.NoError(t, err)

		_, err = svc.BookAppointment(ctx, patient.ID, doctor.ID, date, "10:30", "")
		assert.NoError(t, err)
	})

	t.Run("records a booked event", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})

		appt, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(3), "10:00", "")
		require.NoError(t, err)

		events := repo.Events()
		require.Len(t, events, 1)
		assert.Equal(t, EventAppointmentBooked, events[0].EventType)
		require.NotNil(t, events[0].AppointmentID)
		assert.Equal(t, appt.ID, *events[0].AppointmentID)
	})
}

func TestCancelAppointment(t *testing.T) {
	ctx := context.Background()

	book := func(t *testing.T, svc *Service, repo *MemRepository) (Patient, *Appointment) {
		t.Helper()
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})
		appt, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(3), "10:00", "")
		require.NoError(t, err)
		return patient, appt
	}

	t.Run("owner cancels a pending appointment", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient, appt := book(t, svc, repo)

		cancelled, err := svc.CancelAppointment(ctx, appt.ID, patient.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)

		stored, err := repo.GetAppointmentByID(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, stored.Status)
	})

	t.Run("second cancel is an invalid transition", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient, appt := book(t, svc, repo)

		_, err := svc.CancelAppointment(ctx, appt.ID, patient.ID)
		require.NoError(t, err)

		_, err = svc.CancelAppointment(ctx, appt.ID, patient.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.ErrorContains(t, err, "already cancelled")
	})

	t.Run("non-owner is forbidden and status is unchanged", func(t *testing.T) {
		svc, repo := newTestService(t)
		_, appt := book(t, svc, repo)
		other := repo.AddPatient(Patient{FullName: "Tom Hale"})

		_, err := svc.CancelAppointment(ctx, appt.ID, other.ID)
		assert.ErrorIs(t, err, ErrNotOwner)

		stored, err := repo.GetAppointmentByID(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
	})

	t.Run("completed appointment cannot be cancelled", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient, appt := book(t, svc, repo)

		_, err := svc.CompleteAppointment(ctx, appt.ID)
		require.NoError(t, err)

		_, err = svc.CancelAppointment(ctx, appt.ID, patient.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.ErrorContains(t, err, "completed")

		stored, err := repo.GetAppointmentByID(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, stored.Status)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		svc, repo := newTestService(t)
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})

		_, err := svc.CancelAppointment(ctx, uuid.New(), patient.ID)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
	})

	t.Run("cancelling frees the slot for rebooking", func(t *testing.T) {
		svc, repo := newTestService(t)
		p1 := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		p2 := repo.AddPatient(Patient{FullName: "Tom Hale"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})
		date := futureDate(3)

		appt, err := svc.BookAppointment(ctx, p1.ID, doctor.ID, date, "10:00", "")
		require.NoError(t, err)

		_, err = svc.BookAppointment(ctx, p2.ID, doctor.ID, date, "10:00", "")
		require.ErrorIs(t, err, ErrSlotTaken)

		_, err = svc.CancelAppointment(ctx, appt.ID, p1.ID)
		require.NoError(t, err)

		rebooked, err := svc.BookAppointment(ctx, p2.ID, doctor.ID, date, "10:00", "")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, rebooked.Status)
		assert.Equal(t, p2.ID, rebooked.PatientID)
	})
}

func TestCompleteAppointment(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
	doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})

	appt, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(3), "10:00", "")
	require.NoError(t, err)

	completed, err := svc.CompleteAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)

	_, err = svc.CompleteAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBookAppointmentConcurrentSameSlot(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})
	date := futureDate(3)

	const workers = 32

	patients := make([]Patient, workers)
	for i := range patients {
		patients[i] = repo.AddPatient(Patient{FullName: "Patient"})
	}

	var wg sync.WaitGroup
	results := make([]error, workers)
	appts := make([]*Appointment, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			appts[i], results[i] = svc.BookAppointment(ctx, patients[i].ID, doctor.ID, date, "10:00", "")
		}(i)
	}
	wg.Wait()

	var successes int
	var winner *Appointment
	for i, err := range results {
		if err == nil {
			successes++
			winner = appts[i]
		} else {
			assert.ErrorIs(t, err, ErrSlotTaken)
		}
	}
	require.Equal(t, 1, successes, "exactly one booking must win the slot")

	// After the winner cancels, the slot is bookable again.
	_, err := svc.CancelAppointment(ctx, winner.ID, winner.PatientID)
	require.NoError(t, err)

	p := repo.AddPatient(Patient{FullName: "Late Comer"})
	_, err = svc.BookAppointment(ctx, p.ID, doctor.ID, date, "10:00", "")
	require.NoError(t, err)
}

// rivalStatusRepo commits a competing status change right before the
// caller's compare-and-set goes through, simulating two mutations racing
// on the same appointment.
type rivalStatusRepo struct {
	*MemRepository
	rivalTo AppointmentStatus
	once    sync.Once
}

func (r *rivalStatusRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.once.Do(func() {
		_, _ = r.MemRepository.UpdateAppointmentStatus(ctx, id, from, r.rivalTo)
	})
	return r.MemRepository.UpdateAppointmentStatus(ctx, id, from, to)
}

// contendedLocker always reports the slot lock as held by someone else.
type contendedLocker struct{}

func (contendedLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return lock.ErrLockNotAcquired
}

func TestCancelAppointmentLosesStatusRace(t *testing.T) {
	ctx := context.Background()

	t.Run("rival cancel commits first", func(t *testing.T) {
		mem := NewMemRepository()
		repo := &rivalStatusRepo{MemRepository: mem, rivalTo: StatusCancelled}
		svc := NewService(repo, lock.NewLocalLocker(), zerolog.Nop())

		patient := mem.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := mem.AddDoctor(Doctor{FullName: "Dr. Webb"})
		appt, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(3), "10:00", "")
		require.NoError(t, err)

		// The loser of the compare-and-set must see the committed state's
		// transition error, not a spurious not-found.
		_, err = svc.CancelAppointment(ctx, appt.ID, patient.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NotErrorIs(t, err, ErrAppointmentNotFound)
		assert.ErrorContains(t, err, "already cancelled")

		stored, err := mem.GetAppointmentByID(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, stored.Status)
	})

	t.Run("rival complete commits first", func(t *testing.T) {
		mem := NewMemRepository()
		repo := &rivalStatusRepo{MemRepository: mem, rivalTo: StatusCompleted}
		svc := NewService(repo, lock.NewLocalLocker(), zerolog.Nop())

		patient := mem.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := mem.AddDoctor(Doctor{FullName: "Dr. Webb"})
		appt, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(3), "10:00", "")
		require.NoError(t, err)

		_, err = svc.CancelAppointment(ctx, appt.ID, patient.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.ErrorContains(t, err, "completed")
	})

	t.Run("rival confirm commits first and cancel retries through", func(t *testing.T) {
		mem := NewMemRepository()
		repo := &rivalStatusRepo{MemRepository: mem, rivalTo: StatusConfirmed}
		svc := NewService(repo, lock.NewLocalLocker(), zerolog.Nop())

		patient := mem.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := mem.AddDoctor(Doctor{FullName: "Dr. Webb"})
		appt, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(3), "10:00", "")
		require.NoError(t, err)

		// A confirmed appointment is still cancellable, so the loser's
		// retry against the fresh read succeeds.
		cancelled, err := svc.CancelAppointment(ctx, appt.ID, patient.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, cancelled.Status)
	})
}

func TestBookAppointmentLockContention(t *testing.T) {
	ctx := context.Background()

	t.Run("committed rival booking surfaces as slot taken", func(t *testing.T) {
		repo := NewMemRepository()
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		rival := repo.AddPatient(Patient{FullName: "Tom Hale"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})
		date := futureDate(3)

		// The rival's booking commits through a healthy locker first.
		seeded := NewService(repo, lock.NewLocalLocker(), zerolog.Nop())
		_, err := seeded.BookAppointment(ctx, rival.ID, doctor.ID, date, "10:00", "")
		require.NoError(t, err)

		svc := NewService(repo, contendedLocker{}, zerolog.Nop())
		_, err = svc.BookAppointment(ctx, patient.ID, doctor.ID, date, "10:00", "")
		assert.ErrorIs(t, err, ErrSlotTaken)
	})

	t.Run("in-flight rival booking surfaces as contended", func(t *testing.T) {
		repo := NewMemRepository()
		patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
		doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})

		svc := NewService(repo, contendedLocker{}, zerolog.Nop())
		_, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(3), "10:00", "")
		assert.ErrorIs(t, err, ErrSlotContended)
	})
}

func TestListPatientAppointmentsOrdering(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
	doctor := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})

	_, err := svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(1), "09:00", "")
	require.NoError(t, err)
	_, err = svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(2), "11:00", "")
	require.NoError(t, err)
	_, err = svc.BookAppointment(ctx, patient.ID, doctor.ID, futureDate(2), "08:00", "")
	require.NoError(t, err)

	details, err := svc.ListPatientAppointments(ctx, patient.ID)
	require.NoError(t, err)
	require.Len(t, details, 3)

	// Most recent slot first: date desc, then time desc within a date.
	assert.Equal(t, "11:00", details[0].TimeOfDay)
	assert.Equal(t, "08:00", details[1].TimeOfDay)
	assert.Equal(t, "09:00", details[2].TimeOfDay)

	hydrated := details[0]
	require.NotNil(t, hydrated.Patient)
	require.NotNil(t, hydrated.Doctor)
	assert.Equal(t, "Ada Boyle", hydrated.Patient.FullName)
	assert.Equal(t, "Dr. Webb", hydrated.Doctor.FullName)
}

func TestListDoctorAppointments(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	patient := repo.AddPatient(Patient{FullName: "Ada Boyle"})
	d1 := repo.AddDoctor(Doctor{FullName: "Dr. Webb"})
	d2 := repo.AddDoctor(Doctor{FullName: "Dr. Chen"})
	date := futureDate(3)

	_, err := svc.BookAppointment(ctx, patient.ID, d1.ID, date, "10:00", "")
	require.NoError(t, err)
	_, err = svc.BookAppointment(ctx, patient.ID, d2.ID, date, "10:00", "")
	require.NoError(t, err)
	_, err = svc.BookAppointment(ctx, patient.ID, d1.ID, futureDate(4), "10:00", "")
	require.NoError(t, err)

	details, err := svc.ListDoctorAppointments(ctx, d1.ID, date)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, d1.ID, details[0].DoctorID)

	all, err := svc.ListAppointmentsByDate(ctx, date)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
