// Package audit keeps a local append-only journal of booking lifecycle
// events. The spreadsheet only holds current state; the journal answers "who
// moved this booking and when" after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"commonroom/internal/events"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS booking_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	booking_id  TEXT NOT NULL,
	event       TEXT NOT NULL,
	from_status TEXT,
	to_status   TEXT,
	actor       TEXT,
	payload     TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_booking_events_booking_id ON booking_events(booking_id);
`

// Entry is one journal line.
type Entry struct {
	ID         int64     `json:"id"`
	BookingID  string    `json:"booking_id"`
	Event      string    `json:"event"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Journal struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func Open(path string, logger *zerolog.Logger) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &Journal{db: db, logger: logger}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Attach subscribes the journal to every booking lifecycle event on the bus.
func (j *Journal) Attach(bus *events.EventBus) {
	bus.SubscribeAll([]string{
		events.EventBookingRequested,
		events.EventBookingApproved,
		events.EventBookingRejected,
		events.EventBookingCancelled,
		events.EventBookingEdited,
		events.EventEditRequested,
		events.EventEditApproved,
		events.EventEditRejected,
	}, j.handle)
}

func (j *Journal) handle(event *events.Event) error {
	var p events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		j.logger.Error().Err(err).Str("event", event.Type).Msg("audit: undecodable payload")
		return err
	}

	if err := j.Record(context.Background(), event.Type, event.CreatedAt, p); err != nil {
		// Auditing is best effort; the booking operation already happened.
		j.logger.Error().Err(err).Str("event", event.Type).Msg("audit: insert failed")
		return err
	}
	return nil
}

// Record inserts one journal line.
func (j *Journal) Record(ctx context.Context, eventType string, at time.Time, p events.BookingEventPayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO booking_events (booking_id, event, from_status, to_status, actor, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.BookingID, eventType, p.FromStatus, p.Status, p.Actor, string(raw), at.UTC())
	return err
}

// History returns the journal lines for one booking, oldest first.
func (j *Journal) History(ctx context.Context, bookingID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, booking_id, event, from_status, to_status, actor, created_at
		FROM booking_events WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Event, &e.FromStatus, &e.ToStatus, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
