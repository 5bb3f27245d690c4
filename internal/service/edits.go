package service

import (
	"context"
	"fmt"

	"commonroom/internal/events"
	"commonroom/internal/metrics"
	"commonroom/internal/models"
	"commonroom/internal/schedule"
)

// EditRequest asks to move an already-approved booking to a new slot. The
// original keeps holding its slot until the committee decides; the request
// itself lives as a shadow pending_edit row linked back to the original.
type EditRequest struct {
	OriginalID string
	ActorPhone string
	Privileged bool
	NewSlot    schedule.Slot
}

// RequestEdit appends the shadow row for a proposed new slot. The new slot is
// checked against everything except the original booking, whose slot the edit
// would inherit. The shadow goes through the same append-verify-compensate
// protocol as a create.
func (s *BookingService) RequestEdit(ctx context.Context, req EditRequest) (*models.Booking, error) {
	if err := s.validateSlot(req.NewSlot.Date, req.NewSlot.Start, req.NewSlot.End); err != nil {
		metrics.IncBookingOp("request_edit", "invalid")
		return nil, err
	}

	snapshot, err := s.Snapshot(ctx, true)
	if err != nil {
		metrics.IncBookingOp("request_edit", "error")
		return nil, err
	}
	orig := findByID(snapshot, req.OriginalID)
	if orig == nil {
		metrics.IncBookingOp("request_edit", "not_found")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.OriginalID)
	}
	if !req.Privileged && models.NormalizePhone(orig.RequesterPhone) != models.NormalizePhone(req.ActorPhone) {
		metrics.IncBookingOp("request_edit", "forbidden")
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, req.OriginalID)
	}
	if orig.Status != models.StatusApproved {
		metrics.IncBookingOp("request_edit", "invalid")
		return nil, fmt.Errorf("%w: edit request targets a %s booking", models.ErrIllegalTransition, orig.Status)
	}
	if schedule.Overlaps(req.NewSlot, orig.ID, snapshot) {
		metrics.IncConflict("precheck")
		metrics.IncBookingOp("request_edit", "conflict")
		return nil, fmt.Errorf("%w: %s %s-%s", ErrSlotConflict,
			req.NewSlot.Date.Format(models.DateFmt), req.NewSlot.Start, req.NewSlot.End)
	}

	shadow := models.Booking{
		ID:             s.newID(),
		RequesterPhone: orig.RequesterPhone,
		DisplayName:    orig.DisplayName,
		Date:           req.NewSlot.Date,
		Start:          req.NewSlot.Start,
		End:            req.NewSlot.End,
		Status:         models.StatusPendingEdit,
		Apartment:      orig.Apartment,
		LinkedID:       orig.ID,
	}
	if err := s.store.Append(ctx, TableBookings, shadow.Row()); err != nil {
		metrics.IncBookingOp("request_edit", "error")
		return nil, fmt.Errorf("%w: append edit request: %v", ErrPersistence, err)
	}

	// The shadow itself does not hold a slot yet, so the verification only
	// needs to exclude the original it would replace.
	if err := s.reconcile(ctx, &shadow, orig.ID); err != nil {
		metrics.IncBookingOp("request_edit", reconcileOutcome(err))
		return &shadow, err
	}

	s.invalidate(ctx)
	metrics.IncBookingOp("request_edit", "ok")
	s.publishBooking(events.EventEditRequested, &shadow, orig.Status, req.ActorPhone)
	s.logger.Info().
		Str("booking_id", shadow.ID).
		Str("linked_id", orig.ID).
		Msg("edit request created")
	return &shadow, nil
}

// ApproveEdit applies the two-write approval: shadow to approved, original to
// replaced. There is no transaction, so the method is idempotent and
// completes whichever half a previous partially-failed call left undone. The
// shadow is promoted first so a crash between the writes never frees the slot
// without an approved row holding it.
func (s *BookingService) ApproveEdit(ctx context.Context, shadowID, actor string) error {
	snapshot, err := s.Snapshot(ctx, true)
	if err != nil {
		metrics.IncBookingOp("approve_edit", "error")
		return err
	}
	shadow := findByID(snapshot, shadowID)
	if shadow == nil {
		metrics.IncBookingOp("approve_edit", "not_found")
		return fmt.Errorf("%w: %s", ErrNotFound, shadowID)
	}
	if shadow.LinkedID == "" {
		metrics.IncBookingOp("approve_edit", "invalid")
		return fmt.Errorf("%w: %s", ErrNotLinked, shadowID)
	}
	orig := findByID(snapshot, shadow.LinkedID)
	if orig == nil {
		metrics.IncBookingOp("approve_edit", "not_found")
		return fmt.Errorf("%w: original %s", ErrNotFound, shadow.LinkedID)
	}

	promoteShadow := shadow.Status != models.StatusApproved
	retireOriginal := orig.Status != models.StatusReplaced
	if !promoteShadow && !retireOriginal {
		return nil
	}

	// Validate both halves before touching either row.
	if promoteShadow {
		if err := models.EnsureTransition(shadow.Status, models.StatusApproved); err != nil {
			metrics.IncBookingOp("approve_edit", "invalid")
			return err
		}
	}
	if retireOriginal {
		if err := models.EnsureTransition(orig.Status, models.StatusReplaced); err != nil {
			metrics.IncBookingOp("approve_edit", "invalid")
			return err
		}
	}

	if promoteShadow {
		if err := s.setStatus(ctx, shadow.ID, models.StatusApproved); err != nil {
			metrics.IncBookingOp("approve_edit", "error")
			return err
		}
	}
	if retireOriginal {
		if err := s.setStatus(ctx, orig.ID, models.StatusReplaced); err != nil {
			metrics.IncBookingOp("approve_edit", "error")
			return fmt.Errorf("original not retired, retry approval: %w", err)
		}
	}

	s.invalidate(ctx)
	metrics.IncBookingOp("approve_edit", "ok")
	shadow.Status = models.StatusApproved
	s.publishBooking(events.EventEditApproved, shadow, models.StatusPendingEdit, actor)
	s.logger.Info().
		Str("booking_id", shadow.ID).
		Str("linked_id", orig.ID).
		Str("actor", actor).
		Msg("edit request approved")
	return nil
}

// RejectEdit declines the shadow row; the original booking is untouched and
// keeps its slot.
func (s *BookingService) RejectEdit(ctx context.Context, shadowID, actor string) error {
	shadow, err := s.getBooking(ctx, shadowID)
	if err != nil {
		metrics.IncBookingOp("reject_edit", "not_found")
		return err
	}
	if shadow.Status == models.StatusRejected {
		return nil
	}
	if err := models.EnsureTransition(shadow.Status, models.StatusRejected); err != nil {
		metrics.IncBookingOp("reject_edit", "invalid")
		return err
	}
	if err := s.setStatus(ctx, shadowID, models.StatusRejected); err != nil {
		metrics.IncBookingOp("reject_edit", "error")
		return err
	}

	s.invalidate(ctx)
	metrics.IncBookingOp("reject_edit", "ok")
	from := shadow.Status
	shadow.Status = models.StatusRejected
	s.publishBooking(events.EventEditRejected, shadow, from, actor)
	return nil
}
