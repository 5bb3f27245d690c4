package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"commonroom/internal/events"
)

// FormatEvent turns a bus event into the message the committee chat receives.
// Unknown or undecodable events return "" and are skipped by the forwarder.
func FormatEvent(event *events.Event) string {
	switch event.Type {
	case events.EventUserRegistered, events.EventUserApproved:
		var p events.UserEventPayload
		if json.Unmarshal(event.Payload, &p) != nil {
			return ""
		}
		if event.Type == events.EventUserRegistered {
			return fmt.Sprintf("New registration: %s (apartment %s), awaiting approval", p.FullName, p.Apartment)
		}
		return fmt.Sprintf("Registration approved: %s (apartment %s)", p.FullName, p.Apartment)
	}

	var p events.BookingEventPayload
	if json.Unmarshal(event.Payload, &p) != nil {
		return ""
	}
	slot := fmt.Sprintf("%s %s-%s", p.Date, p.Start, p.End)

	switch event.Type {
	case events.EventBookingRequested:
		if p.Status == "approved" {
			return fmt.Sprintf("Block added: apartment %s, %s", p.Apartment, slot)
		}
		return fmt.Sprintf("New booking request %s: %s (apartment %s), %s", p.BookingID, p.DisplayName, p.Apartment, slot)
	case events.EventBookingApproved:
		return fmt.Sprintf("Booking %s approved: %s", p.BookingID, slot)
	case events.EventBookingRejected:
		return fmt.Sprintf("Booking %s rejected: %s", p.BookingID, slot)
	case events.EventBookingCancelled:
		return fmt.Sprintf("Booking %s cancelled by apartment %s: %s", p.BookingID, p.Apartment, slot)
	case events.EventBookingEdited:
		return fmt.Sprintf("Booking %s moved to %s", p.BookingID, slot)
	case events.EventEditRequested:
		return fmt.Sprintf("Edit request %s for booking %s: new slot %s", p.BookingID, p.LinkedID, slot)
	case events.EventEditApproved:
		return fmt.Sprintf("Edit approved: booking %s replaced by %s, %s", p.LinkedID, p.BookingID, slot)
	case events.EventEditRejected:
		return fmt.Sprintf("Edit request %s rejected, original booking stands", p.BookingID)
	}
	return ""
}

// Forward subscribes the notifier to every event that should reach the chat.
func Forward(bus *events.EventBus, n Notifier) {
	bus.SubscribeAll([]string{
		events.EventBookingRequested,
		events.EventBookingApproved,
		events.EventBookingRejected,
		events.EventBookingCancelled,
		events.EventBookingEdited,
		events.EventEditRequested,
		events.EventEditApproved,
		events.EventEditRejected,
		events.EventUserRegistered,
		events.EventUserApproved,
	}, func(event *events.Event) error {
		if msg := FormatEvent(event); msg != "" {
			n.Notify(context.Background(), msg)
		}
		return nil
	})
}
