package entity

import (
	"errors"
	"time"
)

// State is the lifecycle position derived from the event flags.
type State string

const (
	StateScheduled State = "scheduled"
	StateActive    State = "active"
	StateEnded     State = "ended"
)

var ErrIllegalTransition = errors.New("illegal event transition")

// Event is the attendance-relevant part of an event row. Flags change only
// through the lifecycle methods below.
type Event struct {
	ID              int64     `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	StartsAt        time.Time `db:"starts_at" json:"startsAt"`
	EndsAt          time.Time `db:"ends_at" json:"endsAt"`
	IsActive        bool      `db:"is_active" json:"isActive"`
	ManuallyStarted bool      `db:"manually_started" json:"manuallyStarted"`
	ManuallyEnded   bool      `db:"manually_ended" json:"manuallyEnded"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

func (e *Event) State() State {
	switch {
	case e.ManuallyEnded:
		return StateEnded
	case e.IsActive:
		return StateActive
	default:
		return StateScheduled
	}
}

// AcceptsScans reports whether attendance scans may mutate the ledger.
func (e *Event) AcceptsScans() bool {
	return e.IsActive && !e.ManuallyEnded
}

// ForceStart moves a scheduled event to active. It returns false when the
// event is already active.
func (e *Event) ForceStart() (bool, error) {
	switch e.State() {
	case StateActive:
		return false, nil
	case StateEnded:
		return false, ErrIllegalTransition
	}
	e.IsActive = true
	e.ManuallyStarted = true
	return true, nil
}

// ForceEnd moves the event to ended from any other state. It returns false
// when the event was already ended.
func (e *Event) ForceEnd() bool {
	if e.State() == StateEnded {
		return false
	}
	e.IsActive = false
	e.ManuallyEnded = true
	return true
}

// WindowClosed reports whether the scheduler should end e at now: it is
// active, its window has passed and no operator took manual control.
func (e *Event) WindowClosed(now time.Time) bool {
	return e.State() == StateActive && !e.ManuallyStarted && !now.Before(e.EndsAt)
}

// Restart reopens a manually ended event.
func (e *Event) Restart() error {
	if e.State() != StateEnded {
		return ErrIllegalTransition
	}
	e.ManuallyEnded = false
	e.ManuallyStarted = true
	e.IsActive = true
	return nil
}
