// Package google implements the row store against a Google Sheets
// spreadsheet. Each logical table is a worksheet tab with a header row; data
// rows start at sheet row 2. Row indexes handed out by FindRowByID are sheet
// row numbers, so they can be passed straight back to UpdateCell/DeleteRow.
package google

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"commonroom/internal/config"
	"commonroom/internal/store"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const dataStartRow = 2

// lastColumn bounds every range we touch; no table is wider than the
// bookings layout.
const lastColumn = "I"

type SheetsStore struct {
	service       *sheets.Service
	spreadsheetID string
	limiter       *rate.Limiter

	cacheMu  sync.RWMutex
	rowCache map[string]map[string]int // table -> id -> sheet row
}

func NewSheetsStore(ctx context.Context, cfg config.GoogleConfig) (*SheetsStore, error) {
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}

	return &SheetsStore{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		limiter:       rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 5),
		rowCache:      make(map[string]map[string]int),
	}, nil
}

// TestConnection проверяет подключение к таблице
func (s *SheetsStore) TestConnection(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, "Bookings!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func (s *SheetsStore) ReadAll(ctx context.Context, table string) ([]store.Row, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	readRange := fmt.Sprintf("%s!A%d:%s", table, dataStartRow, lastColumn)
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", store.ErrUnavailable, table, err)
	}

	rows := make([]store.Row, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make(store.Row, len(raw))
		for i, cell := range raw {
			row[i] = fmt.Sprint(cell)
		}
		// Cleared rows come back as empty slices; skip them.
		if len(row) == 0 || row[0] == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *SheetsStore) Append(ctx context.Context, table string, row store.Row) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	values := make([]interface{}, len(row))
	for i, cell := range row {
		values[i] = cell
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, table+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{values},
	}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%w: append to %s: %v", store.ErrUnavailable, table, err)
	}

	// The new row's index is unknown until the append propagates; drop the
	// cache so the next lookup rescans.
	s.clearTableCache(table)
	return nil
}

func (s *SheetsStore) UpdateCell(ctx context.Context, table string, rowIndex, column int, value string) error {
	if rowIndex < dataStartRow {
		return fmt.Errorf("row index %d is inside the header", rowIndex)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	cell := fmt.Sprintf("%s!%s%d", table, columnLetter(column), rowIndex)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, cell, &sheets.ValueRange{
		Values: [][]interface{}{{value}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: update %s: %v", store.ErrUnavailable, cell, err)
	}
	return nil
}

// FindRowByID locates the sheet row whose first column equals id, with a
// per-table cache to spare the ID-column scans.
func (s *SheetsStore) FindRowByID(ctx context.Context, table, id string) (int, error) {
	if id == "" {
		return 0, fmt.Errorf("id is required")
	}

	if row, ok := s.cachedRow(table, id); ok {
		return row, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, table+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("%w: scan %s ids: %v", store.ErrUnavailable, table, err)
	}

	for i, raw := range resp.Values {
		if i+1 < dataStartRow || len(raw) == 0 {
			continue
		}
		if fmt.Sprint(raw[0]) == id {
			// Values are zero-based; sheet rows are 1-based.
			rowIdx := i + 1
			s.setCachedRow(table, id, rowIdx)
			return rowIdx, nil
		}
	}

	return 0, fmt.Errorf("%w: table %s id %s", store.ErrRowNotFound, table, id)
}

// DeleteRow clears the row's cells. The sheet keeps the (now empty) physical
// row; ReadAll filters such rows out.
func (s *SheetsStore) DeleteRow(ctx context.Context, table string, rowIndex int) error {
	if rowIndex < dataStartRow {
		return fmt.Errorf("row index %d is inside the header", rowIndex)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", table, rowIndex, lastColumn, rowIndex)
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, rangeData, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%w: clear %s: %v", store.ErrUnavailable, rangeData, err)
	}
	s.clearTableCache(table)
	return nil
}

// WarmUpCache populates the row index cache by reading the ID column once.
func (s *SheetsStore) WarmUpCache(ctx context.Context, table string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, table+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	fresh := make(map[string]int)
	for i, raw := range resp.Values {
		if i+1 < dataStartRow || len(raw) == 0 {
			continue
		}
		if id := fmt.Sprint(raw[0]); id != "" {
			fresh[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache[table] = fresh
	s.cacheMu.Unlock()
	return nil
}

// StartCacheRefresh re-warms row caches periodically until ctx is done.
func (s *SheetsStore) StartCacheRefresh(ctx context.Context, tables []string, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, table := range tables {
					refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
					_ = s.WarmUpCache(refreshCtx, table)
					cancel()
				}
			}
		}
	}()
}

func (s *SheetsStore) cachedRow(table, id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[table][id]
	return row, ok
}

func (s *SheetsStore) setCachedRow(table, id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.rowCache[table] == nil {
		s.rowCache[table] = make(map[string]int)
	}
	s.rowCache[table][id] = row
}

func (s *SheetsStore) clearTableCache(table string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, table)
}

func columnLetter(column int) string {
	// Tables here never exceed 26 columns.
	return string(rune('A' + column - 1))
}
