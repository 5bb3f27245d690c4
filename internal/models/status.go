package models

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusPendingEdit     Status = "pending_edit"
	StatusCancelledByUser Status = "cancelled_by_user"
	StatusReplaced        Status = "replaced"

	// StatusActive belongs to the user approval flow (Users worksheet); it is
	// never a booking status.
	StatusActive Status = "active"
)

var ErrIllegalTransition = errors.New("illegal status transition")

// bookingTransitions is the closed transition table for bookings. pending_edit
// appears only as a source: shadow rows are born in that state by the edit
// workflow, never transitioned into.
var bookingTransitions = map[Status][]Status{
	StatusPending:     {StatusApproved, StatusRejected, StatusCancelledByUser},
	StatusApproved:    {StatusCancelledByUser, StatusReplaced},
	StatusPendingEdit: {StatusApproved, StatusRejected},
}

var userTransitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusRejected},
}

// CanTransitionTo reports whether a booking may move from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EnsureTransition validates a booking transition, returning a typed error
// instead of silently allowing it.
func EnsureTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// EnsureUserTransition validates a Users-table transition.
func EnsureUserTransition(from, to Status) error {
	for _, allowed := range userTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: user %s -> %s", ErrIllegalTransition, from, to)
}

// CountsForOverlap reports whether a booking in this status holds its slot.
// Shadow pending_edit rows do not: the original keeps the slot until approval.
func (s Status) CountsForOverlap() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal reports whether no further booking transition is legal.
func (s Status) Terminal() bool {
	return len(bookingTransitions[s]) == 0
}
