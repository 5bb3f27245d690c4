package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingRequested = "booking_requested"
	EventBookingApproved  = "booking_approved"
	EventBookingRejected  = "booking_rejected"
	EventBookingCancelled = "booking_cancelled"
	EventBookingEdited    = "booking_edited"
	EventEditRequested    = "edit_requested"
	EventEditApproved     = "edit_approved"
	EventEditRejected     = "edit_rejected"
	EventUserRegistered   = "user_registered"
	EventUserApproved     = "user_approved"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID   string `json:"booking_id"`
	DisplayName string `json:"display_name"`
	Apartment   string `json:"apartment"`
	Date        string `json:"date"`
	Start       string `json:"start"`
	End         string `json:"end"`
	FromStatus  string `json:"from_status,omitempty"`
	Status      string `json:"status"`
	LinkedID    string `json:"linked_id,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

// UserEventPayload accompanies registration and approval events.
type UserEventPayload struct {
	Phone     string `json:"phone"`
	FullName  string `json:"full_name"`
	Apartment string `json:"apartment"`
	Status    string `json:"status"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every listed event type.
func (b *EventBus) SubscribeAll(eventTypes []string, handler EventHandler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
