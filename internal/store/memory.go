package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and the dev backend. A non-zero
// lag delays the visibility of appends and cell updates to readers, emulating
// the spreadsheet's propagation delay: mutations land immediately in the
// authoritative state but ReadAll and FindRowByID serve the older view until
// the lag elapses.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]*memRow
	lag    time.Duration

	// Clock is overridable in tests.
	Clock func() time.Time
}

type memRow struct {
	cells     Row
	visibleAt time.Time
	pending   map[int]pendingCell
}

type pendingCell struct {
	old       string
	visibleAt time.Time
}

func NewMemory(lag time.Duration) *Memory {
	return &Memory{
		tables: make(map[string][]*memRow),
		lag:    lag,
		Clock:  time.Now,
	}
}

func (m *Memory) ReadAll(ctx context.Context, table string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Clock()
	var out []Row
	for _, r := range m.tables[table] {
		if row, ok := r.view(now); ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *Memory) Append(ctx context.Context, table string, row Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tables[table] = append(m.tables[table], &memRow{
		cells:     append(Row(nil), row...),
		visibleAt: m.Clock().Add(m.lag),
	})
	return nil
}

func (m *Memory) UpdateCell(ctx context.Context, table string, rowIndex, column int, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.row(table, rowIndex)
	if err != nil {
		return err
	}
	if column < 1 || column > len(r.cells) {
		return fmt.Errorf("column %d out of range for table %s", column, table)
	}

	if m.lag > 0 {
		if r.pending == nil {
			r.pending = make(map[int]pendingCell)
		}
		// Keep the oldest visible value if the cell is rewritten twice within
		// one lag window.
		if _, exists := r.pending[column]; !exists {
			r.pending[column] = pendingCell{old: r.cells[column-1], visibleAt: m.Clock().Add(m.lag)}
		}
	}
	r.cells[column-1] = value
	return nil
}

func (m *Memory) FindRowByID(ctx context.Context, table, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Clock()
	for i, r := range m.tables[table] {
		if _, ok := r.view(now); !ok {
			continue
		}
		if len(r.cells) > 0 && r.cells[0] == id {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: table %s id %s", ErrRowNotFound, table, id)
}

func (m *Memory) DeleteRow(ctx context.Context, table string, rowIndex int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.tables[table]
	if rowIndex < 1 || rowIndex > len(rows) {
		return fmt.Errorf("%w: table %s row %d", ErrRowNotFound, table, rowIndex)
	}
	m.tables[table] = append(rows[:rowIndex-1], rows[rowIndex:]...)
	return nil
}

func (m *Memory) row(table string, rowIndex int) (*memRow, error) {
	rows := m.tables[table]
	if rowIndex < 1 || rowIndex > len(rows) {
		return nil, fmt.Errorf("%w: table %s row %d", ErrRowNotFound, table, rowIndex)
	}
	return rows[rowIndex-1], nil
}

// view returns the reader-visible copy of the row, or false while the append
// itself has not propagated yet.
func (r *memRow) view(now time.Time) (Row, bool) {
	if now.Before(r.visibleAt) {
		return nil, false
	}
	row := append(Row(nil), r.cells...)
	for col, p := range r.pending {
		if now.Before(p.visibleAt) {
			row[col-1] = p.old
		} else {
			delete(r.pending, col)
		}
	}
	return row, true
}
