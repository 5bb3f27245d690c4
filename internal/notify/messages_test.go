package notify

import (
	"context"
	"sync"
	"testing"

	"commonroom/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func TestFormatEvent(t *testing.T) {
	bus := events.NewEventBus()
	rec := &recordingNotifier{}
	Forward(bus, rec)

	require.NoError(t, bus.PublishJSON(events.EventBookingRequested, events.BookingEventPayload{
		BookingID: "abc12345", DisplayName: "Dana Levi", Apartment: "13",
		Date: "2026-09-10", Start: "18:00", End: "20:00", Status: "pending",
	}))
	require.NoError(t, bus.PublishJSON(events.EventEditApproved, events.BookingEventPayload{
		BookingID: "new55555", LinkedID: "abc12345",
		Date: "2026-09-11", Start: "14:00", End: "16:00", Status: "approved",
	}))
	require.NoError(t, bus.PublishJSON(events.EventUserRegistered, events.UserEventPayload{
		Phone: "0501234567", FullName: "Dana Levi", Apartment: "13", Status: "pending",
	}))

	require.Len(t, rec.messages, 3)
	assert.Contains(t, rec.messages[0], "New booking request abc12345")
	assert.Contains(t, rec.messages[0], "2026-09-10 18:00-20:00")
	assert.Contains(t, rec.messages[1], "replaced by new55555")
	assert.Contains(t, rec.messages[2], "apartment 13")
}

func TestFormatEventMaintenanceBlock(t *testing.T) {
	msg := FormatEvent(&events.Event{
		Type:    events.EventBookingRequested,
		Payload: []byte(`{"booking_id":"m1","apartment":"0","date":"2026-09-10","start":"08:00","end":"12:00","status":"approved"}`),
	})
	assert.Contains(t, msg, "Block added")
}

func TestFormatEventUnknownType(t *testing.T) {
	msg := FormatEvent(&events.Event{Type: "something_else", Payload: []byte(`{}`)})
	assert.Empty(t, msg)
}
