// Package service coordinates booking operations against the row store.
//
// The store offers no transactions and no compare-and-swap, and writes become
// visible to readers only after a propagation delay. Creation therefore runs
// an optimistic protocol: pre-check against a snapshot, append the row, wait
// out the propagation window, re-read fresh and re-check. If a concurrent
// writer took the same slot, our own row is moved to rejected as the
// compensating action. Two conflicting rows may coexist during the window;
// reconciliation resolves them before either is treated as confirmed.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"commonroom/internal/config"
	"commonroom/internal/events"
	"commonroom/internal/metrics"
	"commonroom/internal/models"
	"commonroom/internal/repository"
	"commonroom/internal/schedule"
	"commonroom/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Worksheet tab names in the spreadsheet.
const (
	TableBookings = "Bookings"
	TableUsers    = "Users"
)

type BookingService struct {
	store  store.Store
	cache  repository.SnapshotCache
	bus    *events.EventBus
	cfg    config.BookingConfig
	logger *zerolog.Logger

	reconcileDelay time.Duration
	now            func() time.Time
	newID          func() string
}

func NewBookingService(st store.Store, cache repository.SnapshotCache, bus *events.EventBus, cfg config.BookingConfig, logger *zerolog.Logger) *BookingService {
	return &BookingService{
		store:          st,
		cache:          cache,
		bus:            bus,
		cfg:            cfg,
		logger:         logger,
		reconcileDelay: cfg.ReconcileDelay(),
		now:            time.Now,
		newID: func() string {
			return uuid.NewString()[:8]
		},
	}
}

// CreateRequest carries one booking request. Privileged callers (committee
// keys) get their bookings auto-approved, which is how maintenance blocks for
// apartment "0" enter the schedule.
type CreateRequest struct {
	RequesterPhone string
	DisplayName    string
	Apartment      string
	Date           time.Time
	Start          models.ClockTime
	End            models.ClockTime
	Privileged     bool
}

// CreateBooking runs the full optimistic protocol and returns the booking in
// its settled status. A nil error means the row holds its slot (pending or
// approved); ErrConflictAfterWrite means the row was written but lost the
// race and is now rejected.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if err := s.validateSlot(req.Date, req.Start, req.End); err != nil {
		metrics.IncBookingOp("create", "invalid")
		return nil, err
	}

	slot := schedule.Slot{Date: req.Date, Start: req.Start, End: req.End}
	snapshot, err := s.Snapshot(ctx, false)
	if err != nil {
		metrics.IncBookingOp("create", "error")
		return nil, err
	}
	if schedule.Overlaps(slot, "", snapshot) {
		metrics.IncConflict("precheck")
		metrics.IncBookingOp("create", "conflict")
		return nil, fmt.Errorf("%w: %s %s-%s", ErrSlotConflict,
			req.Date.Format(models.DateFmt), req.Start, req.End)
	}

	b := models.Booking{
		ID:             s.newID(),
		RequesterPhone: req.RequesterPhone,
		DisplayName:    req.DisplayName,
		Date:           req.Date,
		Start:          req.Start,
		End:            req.End,
		Status:         models.StatusPending,
		Apartment:      req.Apartment,
	}
	if req.Privileged {
		b.Status = models.StatusApproved
	}

	if err := s.store.Append(ctx, TableBookings, b.Row()); err != nil {
		metrics.IncBookingOp("create", "error")
		return nil, fmt.Errorf("%w: append booking: %v", ErrPersistence, err)
	}

	if err := s.reconcile(ctx, &b, b.ID); err != nil {
		metrics.IncBookingOp("create", reconcileOutcome(err))
		return &b, err
	}

	s.invalidate(ctx)
	metrics.IncBookingOp("create", "ok")
	s.publishBooking(events.EventBookingRequested, &b, "", req.RequesterPhone)
	s.logger.Info().
		Str("booking_id", b.ID).
		Str("date", b.Date.Format(models.DateFmt)).
		Stringer("start", b.Start).
		Stringer("end", b.End).
		Str("status", string(b.Status)).
		Msg("booking created")
	return &b, nil
}

// CancelBooking moves the requester's future booking to cancelled_by_user.
// The freed slot is only reported available once a read-back confirms the
// status write has propagated; until then the call fails with ErrPersistence
// and may be retried.
func (s *BookingService) CancelBooking(ctx context.Context, id, actorPhone string, privileged bool) error {
	b, err := s.getBooking(ctx, id)
	if err != nil {
		metrics.IncBookingOp("cancel", "not_found")
		return err
	}
	if !privileged && models.NormalizePhone(b.RequesterPhone) != models.NormalizePhone(actorPhone) {
		metrics.IncBookingOp("cancel", "forbidden")
		return fmt.Errorf("%w: %s", ErrNotOwner, id)
	}
	if b.Date.Format(models.DateFmt) < s.today() {
		metrics.IncBookingOp("cancel", "invalid")
		return fmt.Errorf("%w: booking %s already took place", ErrPastDate, id)
	}
	if err := models.EnsureTransition(b.Status, models.StatusCancelledByUser); err != nil {
		metrics.IncBookingOp("cancel", "invalid")
		return err
	}

	if err := s.setStatus(ctx, id, models.StatusCancelledByUser); err != nil {
		metrics.IncBookingOp("cancel", "error")
		return err
	}

	confirmed := false
	for attempt := 0; attempt < s.confirmAttempts(); attempt++ {
		if err := s.wait(ctx, s.reconcileDelay); err != nil {
			return err
		}
		cur, err := s.getBooking(ctx, id)
		if err == nil && cur.Status == models.StatusCancelledByUser {
			confirmed = true
			break
		}
	}
	s.invalidate(ctx)

	if !confirmed {
		metrics.IncBookingOp("cancel", "unconfirmed")
		return fmt.Errorf("%w: cancellation of %s not visible yet, retry", ErrPersistence, id)
	}

	metrics.IncBookingOp("cancel", "ok")
	from := b.Status
	b.Status = models.StatusCancelledByUser
	s.publishBooking(events.EventBookingCancelled, b, from, actorPhone)
	s.logger.Info().Str("booking_id", id).Msg("booking cancelled")
	return nil
}

// ApproveBooking settles a pending booking during committee review.
func (s *BookingService) ApproveBooking(ctx context.Context, id, actor string) error {
	return s.review(ctx, id, models.StatusApproved, events.EventBookingApproved, actor)
}

// RejectBooking declines a pending booking during committee review.
func (s *BookingService) RejectBooking(ctx context.Context, id, actor string) error {
	return s.review(ctx, id, models.StatusRejected, events.EventBookingRejected, actor)
}

func (s *BookingService) review(ctx context.Context, id string, to models.Status, eventType, actor string) error {
	op := "approve"
	if to == models.StatusRejected {
		op = "reject"
	}

	b, err := s.getBooking(ctx, id)
	if err != nil {
		metrics.IncBookingOp(op, "not_found")
		return err
	}
	if b.Status == to {
		// A committee member retried; nothing to do.
		return nil
	}
	if err := models.EnsureTransition(b.Status, to); err != nil {
		metrics.IncBookingOp(op, "invalid")
		return err
	}
	if err := s.setStatus(ctx, id, to); err != nil {
		metrics.IncBookingOp(op, "error")
		return err
	}

	s.invalidate(ctx)
	metrics.IncBookingOp(op, "ok")
	from := b.Status
	b.Status = to
	s.publishBooking(eventType, b, from, actor)
	s.logger.Info().Str("booking_id", id).Str("status", string(to)).Str("actor", actor).Msg("booking reviewed")
	return nil
}

// EditBookingDirect rewrites the slot of a live booking in place. This is the
// committee's shortcut; requester-initiated edits go through the two-phase
// shadow workflow instead.
func (s *BookingService) EditBookingDirect(ctx context.Context, id string, date time.Time, start, end models.ClockTime) error {
	if err := s.validateSlot(date, start, end); err != nil {
		metrics.IncBookingOp("edit_direct", "invalid")
		return err
	}

	snapshot, err := s.Snapshot(ctx, true)
	if err != nil {
		metrics.IncBookingOp("edit_direct", "error")
		return err
	}
	b := findByID(snapshot, id)
	if b == nil {
		metrics.IncBookingOp("edit_direct", "not_found")
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !b.Status.CountsForOverlap() {
		metrics.IncBookingOp("edit_direct", "invalid")
		return fmt.Errorf("%w: cannot edit a %s booking", models.ErrIllegalTransition, b.Status)
	}
	if schedule.Overlaps(schedule.Slot{Date: date, Start: start, End: end}, id, snapshot) {
		metrics.IncConflict("precheck")
		metrics.IncBookingOp("edit_direct", "conflict")
		return fmt.Errorf("%w: %s %s-%s", ErrSlotConflict, date.Format(models.DateFmt), start, end)
	}

	idx, err := s.store.FindRowByID(ctx, TableBookings, id)
	if err != nil {
		metrics.IncBookingOp("edit_direct", "error")
		return s.storeErr("find booking row", err)
	}
	cells := map[int]string{
		models.BookingColDate:  date.Format(models.DateFmt),
		models.BookingColStart: start.String(),
		models.BookingColEnd:   end.String(),
	}
	for _, col := range []int{models.BookingColDate, models.BookingColStart, models.BookingColEnd} {
		if err := s.store.UpdateCell(ctx, TableBookings, idx, col, cells[col]); err != nil {
			metrics.IncBookingOp("edit_direct", "error")
			return fmt.Errorf("%w: update booking cell: %v", ErrPersistence, err)
		}
	}

	s.invalidate(ctx)
	metrics.IncBookingOp("edit_direct", "ok")
	edited := *b
	edited.Date, edited.Start, edited.End = date, start, end
	s.publishBooking(events.EventBookingEdited, &edited, b.Status, "committee")
	return nil
}

// ListForDate returns the date's bookings in row order.
func (s *BookingService) ListForDate(ctx context.Context, date time.Time) ([]models.Booking, error) {
	snapshot, err := s.Snapshot(ctx, false)
	if err != nil {
		return nil, err
	}
	return schedule.ForDate(date, snapshot), nil
}

// ListForPhone returns the requester's bookings sorted by date and start time.
func (s *BookingService) ListForPhone(ctx context.Context, phone string) ([]models.Booking, error) {
	snapshot, err := s.Snapshot(ctx, false)
	if err != nil {
		return nil, err
	}
	norm := models.NormalizePhone(phone)
	var out []models.Booking
	for _, b := range snapshot {
		if models.NormalizePhone(b.RequesterPhone) == norm {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Start < out[j].Start
	})
	return out, nil
}

// Snapshot returns the decoded bookings table. fresh forces a store read;
// otherwise the advisory cache may serve it. Malformed rows are logged and
// skipped rather than failing the whole read.
func (s *BookingService) Snapshot(ctx context.Context, fresh bool) ([]models.Booking, error) {
	if !fresh && s.cache != nil {
		if snapshot, ok, err := s.cache.Get(ctx); err == nil && ok {
			return snapshot, nil
		}
	}

	rows, err := s.store.ReadAll(ctx, TableBookings)
	if err != nil {
		return nil, fmt.Errorf("%w: read bookings: %v", ErrPersistence, err)
	}
	snapshot := make([]models.Booking, 0, len(rows))
	for _, row := range rows {
		b, err := models.BookingFromRow(row)
		if err != nil {
			s.logger.Warn().Err(err).Msg("skipping malformed booking row")
			continue
		}
		snapshot = append(snapshot, b)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, snapshot)
	}
	return snapshot, nil
}

// reconcile is the verification half of the optimistic protocol. The booking
// was already appended; after the propagation window it must be visible in a
// fresh snapshot and must still be the only holder of its slot. ignoreID
// excludes the row whose slot this one inherits (itself on create, the
// original on edit requests).
func (s *BookingService) reconcile(ctx context.Context, b *models.Booking, ignoreID string) error {
	if err := s.wait(ctx, s.reconcileDelay); err != nil {
		return err
	}

	snapshot, err := s.Snapshot(ctx, true)
	if err != nil {
		return err
	}

	// Append order is the tie-break: a row self-rejects only when a
	// conflicting slot-holder precedes it in the table, so two racing writers
	// settle on exactly one winner.
	visible, lost := false, false
	for i := range snapshot {
		row := &snapshot[i]
		if row.ID == b.ID {
			visible = true
			break
		}
		if row.ID == ignoreID || !row.Status.CountsForOverlap() || !row.SameDate(b.Date) {
			continue
		}
		if b.Start < row.End && row.Start < b.End {
			lost = true
		}
	}
	if !visible {
		return fmt.Errorf("%w: booking %s not visible after append", ErrPersistence, b.ID)
	}
	if !lost {
		return nil
	}

	metrics.IncConflict("reconcile")
	if err := s.setStatus(ctx, b.ID, models.StatusRejected); err != nil {
		// The losing row keeps holding the slot until someone rejects it; the
		// conflict error below makes sure the caller never treats it as booked.
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("compensating rejection failed")
	} else {
		b.Status = models.StatusRejected
	}
	s.invalidate(ctx)
	return fmt.Errorf("%w: booking %s lost the slot", ErrConflictAfterWrite, b.ID)
}

func (s *BookingService) validateSlot(date time.Time, start, end models.ClockTime) error {
	if start >= end {
		return fmt.Errorf("%w: %s-%s", ErrInvalidRange, start, end)
	}
	day := date.Format(models.DateFmt)
	if day < s.today() {
		return fmt.Errorf("%w: %s", ErrPastDate, day)
	}
	if s.cfg.MaxAdvanceDays > 0 {
		horizon := s.now().AddDate(0, 0, s.cfg.MaxAdvanceDays).Format(models.DateFmt)
		if day > horizon {
			return fmt.Errorf("%w: %s is beyond %s", ErrDateTooFar, day, horizon)
		}
	}
	return nil
}

// getBooking reads the current state of one booking from a fresh snapshot.
func (s *BookingService) getBooking(ctx context.Context, id string) (*models.Booking, error) {
	snapshot, err := s.Snapshot(ctx, true)
	if err != nil {
		return nil, err
	}
	if b := findByID(snapshot, id); b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *BookingService) setStatus(ctx context.Context, id string, status models.Status) error {
	idx, err := s.store.FindRowByID(ctx, TableBookings, id)
	if err != nil {
		return s.storeErr("find booking row", err)
	}
	if err := s.store.UpdateCell(ctx, TableBookings, idx, models.BookingColStatus, string(status)); err != nil {
		return fmt.Errorf("%w: update booking status: %v", ErrPersistence, err)
	}
	return nil
}

func (s *BookingService) storeErr(op string, err error) error {
	if errorsIsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

func (s *BookingService) invalidate(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx)
	}
}

func (s *BookingService) publishBooking(eventType string, b *models.Booking, from models.Status, actor string) {
	_ = s.bus.PublishJSON(eventType, events.BookingEventPayload{
		BookingID:   b.ID,
		DisplayName: b.DisplayName,
		Apartment:   b.Apartment,
		Date:        b.Date.Format(models.DateFmt),
		Start:       b.Start.String(),
		End:         b.End.String(),
		FromStatus:  string(from),
		Status:      string(b.Status),
		LinkedID:    b.LinkedID,
		Actor:       actor,
	})
}

func (s *BookingService) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (s *BookingService) today() string {
	return s.now().Format(models.DateFmt)
}

func (s *BookingService) confirmAttempts() int {
	if s.cfg.ConfirmAttempts <= 0 {
		return 1
	}
	return s.cfg.ConfirmAttempts
}

func reconcileOutcome(err error) string {
	if errors.Is(err, ErrSlotConflict) {
		return "conflict"
	}
	return "error"
}

func findByID(snapshot []models.Booking, id string) *models.Booking {
	for i := range snapshot {
		if snapshot[i].ID == id {
			b := snapshot[i]
			return &b
		}
	}
	return nil
}
