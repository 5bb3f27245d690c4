// Package store abstracts the row-oriented table backing the reservation
// system. The production implementation is a Google Sheets spreadsheet; it
// offers no transactions and writes become visible to readers only after a
// propagation delay, which is why the services layer re-verifies after writing.
package store

import (
	"context"
	"errors"
)

// Row is one positional record. Column meaning is defined by the models codecs.
type Row []string

var (
	ErrRowNotFound = errors.New("row not found")
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the full contract the services consume. ReadAll returns data rows
// only (no header). Row indexes are opaque handles produced by FindRowByID;
// callers must never compute them. Columns are 1-based.
type Store interface {
	ReadAll(ctx context.Context, table string) ([]Row, error)
	Append(ctx context.Context, table string, row Row) error
	UpdateCell(ctx context.Context, table string, rowIndex, column int, value string) error
	FindRowByID(ctx context.Context, table, id string) (int, error)
	DeleteRow(ctx context.Context, table string, rowIndex int) error
}
