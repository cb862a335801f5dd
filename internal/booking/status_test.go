package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	allowed := []struct{ from, to AppointmentStatus }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusPending, StatusCompleted},
		{StatusConfirmed, StatusCancelled},
		{StatusConfirmed, StatusCompleted},
	}
	for _, tc := range allowed {
		assert.NoError(t, ValidateTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to AppointmentStatus }{
		{StatusCancelled, StatusPending},
		{StatusCancelled, StatusConfirmed},
		{StatusCancelled, StatusCancelled},
		{StatusCancelled, StatusCompleted},
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusCancelled},
		{StatusCompleted, StatusCompleted},
		{StatusConfirmed, StatusPending},
		{StatusPending, StatusPending},
	}
	for _, tc := range denied {
		assert.ErrorIs(t, ValidateTransition(tc.from, tc.to), ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransitionReasons(t *testing.T) {
	err := ValidateTransition(StatusCancelled, StatusCancelled)
	assert.ErrorContains(t, err, "already cancelled")

	err = ValidateTransition(StatusCompleted, StatusCancelled)
	assert.ErrorContains(t, err, "cannot cancel a completed appointment")

	err = ValidateTransition(StatusCancelled, StatusCompleted)
	assert.ErrorContains(t, err, "already cancelled")
}
