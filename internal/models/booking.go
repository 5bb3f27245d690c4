package models

import (
	"fmt"
	"time"
)

const (
	DateFmt = "2006-01-02"
	TimeFmt = "15:04"
)

// ApartmentMaintenance marks committee-created blocks that do not belong to a unit.
const ApartmentMaintenance = "0"

type Booking struct {
	ID             string    `json:"id"`
	RequesterPhone string    `json:"requester_phone"`
	DisplayName    string    `json:"display_name"`
	Date           time.Time `json:"date"`
	Start          ClockTime `json:"start"`
	End            ClockTime `json:"end"`
	Status         Status    `json:"status"`
	Apartment      string    `json:"apartment"`
	LinkedID       string    `json:"linked_id,omitempty"`
}

// Booking worksheet columns, 1-based as consumed by UpdateCell.
const (
	BookingColID = iota + 1
	BookingColPhone
	BookingColName
	BookingColDate
	BookingColStart
	BookingColEnd
	BookingColStatus
	BookingColApartment
	BookingColLinkedID
)

// Row encodes the booking in the positional worksheet layout.
func (b *Booking) Row() []string {
	return []string{
		b.ID,
		b.RequesterPhone,
		b.DisplayName,
		b.Date.Format(DateFmt),
		b.Start.String(),
		b.End.String(),
		string(b.Status),
		b.Apartment,
		b.LinkedID,
	}
}

// BookingFromRow decodes a worksheet row. Rows shorter than the linked-id
// column are accepted; the sheet drops trailing empty cells.
func BookingFromRow(row []string) (Booking, error) {
	if len(row) < BookingColApartment {
		return Booking{}, fmt.Errorf("booking row has %d cells, want at least %d", len(row), BookingColApartment)
	}

	date, err := time.ParseInLocation(DateFmt, row[BookingColDate-1], time.Local)
	if err != nil {
		return Booking{}, fmt.Errorf("parse booking date: %w", err)
	}
	start, err := ParseClock(row[BookingColStart-1])
	if err != nil {
		return Booking{}, fmt.Errorf("parse booking start: %w", err)
	}
	end, err := ParseClock(row[BookingColEnd-1])
	if err != nil {
		return Booking{}, fmt.Errorf("parse booking end: %w", err)
	}

	b := Booking{
		ID:             row[BookingColID-1],
		RequesterPhone: row[BookingColPhone-1],
		DisplayName:    row[BookingColName-1],
		Date:           date,
		Start:          start,
		End:            end,
		Status:         Status(row[BookingColStatus-1]),
		Apartment:      row[BookingColApartment-1],
	}
	if len(row) >= BookingColLinkedID {
		b.LinkedID = row[BookingColLinkedID-1]
	}
	return b, nil
}

// SameDate reports whether the booking is on the given calendar date.
func (b *Booking) SameDate(date time.Time) bool {
	return b.Date.Format(DateFmt) == date.Format(DateFmt)
}
