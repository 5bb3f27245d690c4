// Package repository caches bookings snapshots so read-heavy paths (schedule
// views, pre-checks) do not hit the spreadsheet on every call. The cache is
// advisory only: reconciliation reads always bypass it, and every write path
// invalidates it.
package repository

import (
	"context"

	"commonroom/internal/models"
)

// SnapshotCache stores one bookings snapshot with a TTL.
type SnapshotCache interface {
	// Get returns the cached snapshot; ok is false on miss or expiry.
	Get(ctx context.Context) (snapshot []models.Booking, ok bool, err error)
	Set(ctx context.Context, snapshot []models.Booking) error
	Invalidate(ctx context.Context) error
}
