package service

import (
	"errors"
	"fmt"

	"commonroom/internal/store"
)

// Sentinel errors for the booking and user workflows. Callers classify with
// errors.Is; the HTTP layer maps each family to a status code.
var (
	ErrInvalidRange = errors.New("start time must be before end time")
	ErrPastDate     = errors.New("date is in the past")
	ErrDateTooFar   = errors.New("date is too far ahead")

	ErrSlotConflict = errors.New("time slot conflicts with an active booking")
	// ErrConflictAfterWrite marks conflicts detected by the verification read
	// after our row was already appended; the row has been moved to rejected.
	ErrConflictAfterWrite = fmt.Errorf("%w (detected after write)", ErrSlotConflict)

	ErrNotFound     = errors.New("booking not found")
	ErrUserNotFound = errors.New("user not found")
	ErrNotOwner     = errors.New("booking belongs to another requester")
	ErrNotLinked    = errors.New("edit request has no linked booking")
	ErrPhoneExists  = errors.New("phone is already registered")
	ErrInvalidUser  = errors.New("phone and full name are required")

	// ErrPersistence covers store failures where the final state of a write is
	// unknown. The caller should retry or escalate, not assume the slot is free.
	ErrPersistence = errors.New("store operation failed")
)

func errorsIsNotFound(err error) bool {
	return errors.Is(err, store.ErrRowNotFound)
}
