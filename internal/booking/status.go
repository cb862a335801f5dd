package booking

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the full status state machine. Every mutating operation
// validates against this table, so an illegal transition is rejected in one
// place regardless of which call site requested it.
//
// CONFIRMED is a legal state that no current operation sets; it is kept as a
// valid target so an administrative confirm can be added without touching
// the table's consumers.
var transitions = map[AppointmentStatus]map[AppointmentStatus]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
		StatusCompleted: true,
	},
	StatusConfirmed: {
		StatusCancelled: true,
		StatusCompleted: true,
	},
	StatusCancelled: {},
	StatusCompleted: {},
}

// ValidateTransition reports whether status from may move to to. The error
// wraps ErrInvalidTransition with a reason specific to the rejected state.
func ValidateTransition(from, to AppointmentStatus) error {
	if transitions[from][to] {
		return nil
	}
	switch {
	case from == to:
		return fmt.Errorf("%w: appointment is already %s", ErrInvalidTransition, stateWord(from))
	case from == StatusCompleted:
		return fmt.Errorf("%w: cannot %s a completed appointment", ErrInvalidTransition, actionWord(to))
	case from == StatusCancelled:
		return fmt.Errorf("%w: appointment is already cancelled", ErrInvalidTransition)
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
}

func stateWord(s AppointmentStatus) string {
	switch s {
	case StatusCancelled:
		return "cancelled"
	case StatusCompleted:
		return "completed"
	case StatusConfirmed:
		return "confirmed"
	default:
		return "pending"
	}
}

func actionWord(to AppointmentStatus) string {
	switch to {
	case StatusCancelled:
		return "cancel"
	case StatusCompleted:
		return "complete"
	case StatusConfirmed:
		return "confirm"
	default:
		return "update"
	}
}
