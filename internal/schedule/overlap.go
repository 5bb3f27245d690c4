// Package schedule holds the pure slot arithmetic for the common room.
package schedule

import (
	"time"

	"commonroom/internal/models"
)

// Slot is a candidate time range on a single calendar date.
type Slot struct {
	Date  time.Time
	Start models.ClockTime
	End   models.ClockTime
}

// Overlaps reports whether the candidate slot conflicts with any booking in
// the snapshot that still holds its slot (pending or approved). Intervals are
// half-open: a booking ending 18:00 does not conflict with one starting 18:00.
// ignoreID excludes one booking, for re-checks of a just-written row and for
// edits that relinquish the original's slot.
func Overlaps(candidate Slot, ignoreID string, snapshot []models.Booking) bool {
	for i := range snapshot {
		b := &snapshot[i]
		if ignoreID != "" && b.ID == ignoreID {
			continue
		}
		if !b.Status.CountsForOverlap() || !b.SameDate(candidate.Date) {
			continue
		}
		if candidate.Start < b.End && b.Start < candidate.End {
			return true
		}
	}
	return false
}

// ForDate filters a snapshot down to one date, keeping row order.
func ForDate(date time.Time, snapshot []models.Booking) []models.Booking {
	var out []models.Booking
	for _, b := range snapshot {
		if b.SameDate(date) {
			out = append(out, b)
		}
	}
	return out
}
