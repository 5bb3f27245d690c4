package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"commonroom/internal/config"
	"commonroom/internal/events"
	"commonroom/internal/models"
	"commonroom/internal/repository"
	"commonroom/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func newTestService(lag time.Duration) (*BookingService, *store.Memory, *repository.MemorySnapshotCache) {
	st := store.NewMemory(lag)
	cache := repository.NewMemorySnapshotCache(time.Minute)
	cfg := config.BookingConfig{ConfirmAttempts: 3, MaxAdvanceDays: 90}
	svc := NewBookingService(st, cache, events.NewEventBus(), cfg, testLogger())
	svc.reconcileDelay = 0
	return svc, st, cache
}

func clock(t *testing.T, s string) models.ClockTime {
	t.Helper()
	c, err := models.ParseClock(s)
	require.NoError(t, err)
	return c
}

func futureDate() time.Time {
	return time.Now().AddDate(0, 0, 7)
}

func createReq(t *testing.T, phone, start, end string, privileged bool) CreateRequest {
	t.Helper()
	return CreateRequest{
		RequesterPhone: phone,
		DisplayName:    "Dana Levi",
		Apartment:      "13",
		Date:           futureDate(),
		Start:          clock(t, start),
		End:            clock(t, end),
		Privileged:     privileged,
	}
}

func mustCreate(t *testing.T, svc *BookingService, phone, start, end string, privileged bool) *models.Booking {
	t.Helper()
	b, err := svc.CreateBooking(context.Background(), createReq(t, phone, start, end, privileged))
	require.NoError(t, err)
	return b
}

func TestCreateBooking(t *testing.T) {
	svc, _, _ := newTestService(0)

	b := mustCreate(t, svc, "0501234567", "18:00", "20:00", false)
	assert.Len(t, b.ID, 8)
	assert.Equal(t, models.StatusPending, b.Status)

	day, err := svc.ListForDate(context.Background(), futureDate())
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, b.ID, day[0].ID)
}

func TestCreateBookingPrivilegedAutoApproved(t *testing.T) {
	svc, _, _ := newTestService(0)

	b, err := svc.CreateBooking(context.Background(), CreateRequest{
		RequesterPhone: "committee",
		DisplayName:    "Maintenance",
		Apartment:      models.ApartmentMaintenance,
		Date:           futureDate(),
		Start:          clock(t, "08:00"),
		End:            clock(t, "12:00"),
		Privileged:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, b.Status)
}

func TestCreateBookingValidation(t *testing.T) {
	svc, _, _ := newTestService(0)
	ctx := context.Background()

	tests := []struct {
		name string
		date time.Time
		s, e string
		want error
	}{
		{"start equals end", futureDate(), "18:00", "18:00", ErrInvalidRange},
		{"start after end", futureDate(), "20:00", "18:00", ErrInvalidRange},
		{"past date", time.Now().AddDate(0, 0, -1), "18:00", "20:00", ErrPastDate},
		{"beyond horizon", time.Now().AddDate(0, 0, 120), "18:00", "20:00", ErrDateTooFar},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBooking(ctx, CreateRequest{
				RequesterPhone: "0501234567",
				DisplayName:    "Dana Levi",
				Apartment:      "13",
				Date:           tt.date,
				Start:          clock(t, tt.s),
				End:            clock(t, tt.e),
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateBookingPrecheckConflict(t *testing.T) {
	svc, _, _ := newTestService(0)

	mustCreate(t, svc, "0501111111", "18:00", "20:00", false)

	_, err := svc.CreateBooking(context.Background(), createReq(t, "0502222222", "19:00", "21:00", false))
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.NotErrorIs(t, err, ErrConflictAfterWrite, "pre-check conflicts happen before any write")
}

func TestCreateBookingBoundaryTouchAccepted(t *testing.T) {
	svc, _, _ := newTestService(0)

	mustCreate(t, svc, "0501111111", "18:00", "20:00", false)
	b := mustCreate(t, svc, "0502222222", "20:00", "22:00", false)
	assert.Equal(t, models.StatusPending, b.Status)
}

// A stale cache can let a conflicting request through the pre-check; the
// verification read must catch it and move the new row to rejected.
func TestCreateBookingStaleCacheRollsBack(t *testing.T) {
	svc, _, cache := newTestService(0)
	ctx := context.Background()

	established := mustCreate(t, svc, "0501111111", "18:00", "20:00", true)
	require.NoError(t, cache.Set(ctx, nil)) // cache goes stale-empty

	b, err := svc.CreateBooking(ctx, createReq(t, "0502222222", "19:00", "21:00", false))
	assert.ErrorIs(t, err, ErrConflictAfterWrite)
	require.NotNil(t, b)
	assert.Equal(t, models.StatusRejected, b.Status)

	// The established booking is untouched and the loser is settled in store.
	snapshot, err := svc.Snapshot(ctx, true)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, models.StatusApproved, findByID(snapshot, established.ID).Status)
	assert.Equal(t, models.StatusRejected, findByID(snapshot, b.ID).Status)
}

// Two near-simultaneous requests for overlapping slots both pass the
// pre-check because neither append has propagated yet. Reconciliation must
// settle on exactly one winner.
func TestCreateBookingRace(t *testing.T) {
	svc, _, _ := newTestService(100 * time.Millisecond)
	svc.reconcileDelay = 250 * time.Millisecond
	ctx := context.Background()

	type result struct {
		booking *models.Booking
		err     error
	}
	results := make([]result, 2)

	var wg sync.WaitGroup
	for i, r := range []CreateRequest{
		createReq(t, "0501111111", "18:00", "20:00", false),
		createReq(t, "0502222222", "19:00", "21:00", false),
	} {
		wg.Add(1)
		go func(i int, r CreateRequest) {
			defer wg.Done()
			b, err := svc.CreateBooking(ctx, r)
			results[i] = result{b, err}
		}(i, r)
	}
	wg.Wait()

	var winners, losers int
	for _, r := range results {
		switch {
		case r.err == nil:
			winners++
			assert.Equal(t, models.StatusPending, r.booking.Status)
		default:
			losers++
			assert.ErrorIs(t, r.err, ErrConflictAfterWrite)
			require.NotNil(t, r.booking)
			assert.Equal(t, models.StatusRejected, r.booking.Status)
		}
	}
	assert.Equal(t, 1, winners, "exactly one request wins the slot")
	assert.Equal(t, 1, losers)

	// Wait out the compensating write's propagation, then check the store
	// holds exactly one slot-holding row.
	time.Sleep(150 * time.Millisecond)
	snapshot, err := svc.Snapshot(ctx, true)
	require.NoError(t, err)
	holders := 0
	for _, b := range snapshot {
		if b.Status.CountsForOverlap() {
			holders++
		}
	}
	assert.Equal(t, 1, holders)
}

func TestCreateBookingNotVisibleAfterAppend(t *testing.T) {
	svc, _, _ := newTestService(time.Second)
	svc.reconcileDelay = 5 * time.Millisecond

	_, err := svc.CreateBooking(context.Background(), createReq(t, "0501234567", "18:00", "20:00", false))
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestCancelBooking(t *testing.T) {
	svc, _, _ := newTestService(0)
	ctx := context.Background()

	b := mustCreate(t, svc, "050-123-4567", "18:00", "20:00", false)

	// Same phone, different formatting.
	require.NoError(t, svc.CancelBooking(ctx, b.ID, "0501234567", false))

	cur, err := svc.getBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelledByUser, cur.Status)

	// The freed slot is bookable again.
	_, err = svc.CreateBooking(ctx, createReq(t, "0509999999", "18:00", "20:00", false))
	assert.NoError(t, err)
}

func TestCancelBookingNotOwner(t *testing.T) {
	svc, _, _ := newTestService(0)

	b := mustCreate(t, svc, "0501234567", "18:00", "20:00", false)
	err := svc.CancelBooking(context.Background(), b.ID, "0507777777", false)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestCancelBookingPrivilegedBypassesOwnership(t *testing.T) {
	svc, _, _ := newTestService(0)

	b := mustCreate(t, svc, "0501234567", "18:00", "20:00", false)
	assert.NoError(t, svc.CancelBooking(context.Background(), b.ID, "committee", true))
}

func TestCancelBookingTerminalStatus(t *testing.T) {
	svc, _, _ := newTestService(0)
	ctx := context.Background()

	b := mustCreate(t, svc, "0501234567", "18:00", "20:00", false)
	require.NoError(t, svc.RejectBooking(ctx, b.ID, "committee"))

	err := svc.CancelBooking(ctx, b.ID, "0501234567", false)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestCancelBookingNotFound(t *testing.T) {
	svc, _, _ := newTestService(0)
	err := svc.CancelBooking(context.Background(), "nope", "0501234567", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

// The status write propagates slowly; the read-back loop must keep polling
// until the cancelled status is actually visible.
func TestCancelBookingWaitsForReadBack(t *testing.T) {
	svc, _, _ := newTestService(120 * time.Millisecond)
	svc.reconcileDelay = 250 * time.Millisecond
	svc.cfg.ConfirmAttempts = 5
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, createReq(t, "0501234567", "18:00", "20:00", false))
	require.NoError(t, err)

	svc.reconcileDelay = 60 * time.Millisecond
	require.NoError(t, svc.CancelBooking(ctx, b.ID, "0501234567", false))
}

func TestCancelBookingUnconfirmed(t *testing.T) {
	svc, st, _ := newTestService(time.Hour)
	svc.cfg.ConfirmAttempts = 2
	svc.reconcileDelay = time.Millisecond
	ctx := context.Background()

	// Pin the clock so the booking row is visible but the status update's
	// propagation window never elapses.
	now := time.Now()
	st.Clock = func() time.Time { return now }
	b := models.Booking{
		ID: "stuck123", RequesterPhone: "0501234567", DisplayName: "Dana Levi",
		Date: futureDate(), Start: clock(t, "18:00"), End: clock(t, "20:00"),
		Status: models.StatusApproved, Apartment: "13",
	}
	require.NoError(t, st.Append(ctx, TableBookings, b.Row()))
	now = now.Add(2 * time.Hour)

	err := svc.CancelBooking(ctx, b.ID, "0501234567", false)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestReviewApproveAndReject(t *testing.T) {
	svc, _, _ := newTestService(0)
	ctx := context.Background()

	a := mustCreate(t, svc, "0501111111", "10:00", "12:00", false)
	b := mustCreate(t, svc, "0502222222", "14:00", "16:00", false)

	require.NoError(t, svc.ApproveBooking(ctx, a.ID, "committee"))
	cur, err := svc.getBooking(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, cur.Status)

	// Retried approval is a no-op.
	assert.NoError(t, svc.ApproveBooking(ctx, a.ID, "committee"))

	require.NoError(t, svc.RejectBooking(ctx, b.ID, "committee"))
	cur, err = svc.getBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, cur.Status)

	// rejected is terminal.
	assert.ErrorIs(t, svc.ApproveBooking(ctx, b.ID, "committee"), models.ErrIllegalTransition)
}

func TestEditBookingDirect(t *testing.T) {
	svc, _, _ := newTestService(0)
	ctx := context.Background()

	b := mustCreate(t, svc, "0501234567", "18:00", "20:00", true)
	newDate := futureDate().AddDate(0, 0, 1)

	require.NoError(t, svc.EditBookingDirect(ctx, b.ID, newDate, clock(t, "19:00"), clock(t, "21:00")))

	cur, err := svc.getBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, cur.SameDate(newDate))
	assert.Equal(t, clock(t, "19:00"), cur.Start)
	assert.Equal(t, clock(t, "21:00"), cur.End)
	assert.Equal(t, models.StatusApproved, cur.Status, "direct edits keep the status")
}

func TestEditBookingDirectConflict(t *testing.T) {
	svc, _, _ := newTestService(0)
	ctx := context.Background()

	mustCreate(t, svc, "0501111111", "10:00", "12:00", true)
	b := mustCreate(t, svc, "0502222222", "14:00", "16:00", true)

	err := svc.EditBookingDirect(ctx, b.ID, futureDate(), clock(t, "11:00"), clock(t, "13:00"))
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestEditBookingDirectOwnSlotAllowed(t *testing.T) {
	svc, _, _ := newTestService(0)

	b := mustCreate(t, svc, "0501234567", "18:00", "20:00", true)
	// Shrinking inside the booking's own range conflicts with nobody.
	err := svc.EditBookingDirect(context.Background(), b.ID, futureDate(), clock(t, "18:30"), clock(t, "19:30"))
	assert.NoError(t, err)
}

func TestEditBookingDirectTerminalStatus(t *testing.T) {
	svc, _, _ := newTestService(0)
	ctx := context.Background()

	b := mustCreate(t, svc, "0501234567", "18:00", "20:00", false)
	require.NoError(t, svc.RejectBooking(ctx, b.ID, "committee"))

	err := svc.EditBookingDirect(ctx, b.ID, futureDate(), clock(t, "10:00"), clock(t, "11:00"))
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestListForPhone(t *testing.T) {
	svc, _, _ := newTestService(0)
	ctx := context.Background()

	later := mustCreate(t, svc, "050-123-4567", "18:00", "20:00", false)
	earlier := mustCreate(t, svc, "0501234567", "08:00", "10:00", false)
	mustCreate(t, svc, "0509999999", "12:00", "14:00", false)

	mine, err := svc.ListForPhone(ctx, "0501234567")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, earlier.ID, mine[0].ID, "sorted by start time")
	assert.Equal(t, later.ID, mine[1].ID)
}
