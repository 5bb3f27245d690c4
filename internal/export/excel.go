// Package export renders occupancy reports the committee can hand out as
// spreadsheet files.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"commonroom/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Occupancy"

var header = []string{"Date", "Start", "End", "Apartment", "Name", "Status", "Booking ID"}

// Occupancy writes the slot-holding bookings for [from, to] into an xlsx file
// under dir and returns the file path.
func Occupancy(snapshot []models.Booking, from, to time.Time, dir string) (string, error) {
	if to.Before(from) {
		return "", fmt.Errorf("invalid range: %s is before %s",
			to.Format(models.DateFmt), from.Format(models.DateFmt))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	rows := filter(snapshot, from, to)
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].Start < rows[j].Start
	})

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for col, title := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return "", err
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(header), 1)
		_ = f.SetCellStyle(sheetName, "A1", last, style)
	}

	for i, b := range rows {
		values := []interface{}{
			b.Date.Format(models.DateFmt),
			b.Start.String(),
			b.End.String(),
			b.Apartment,
			b.DisplayName,
			string(b.Status),
			b.ID,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return "", err
			}
		}
	}
	_ = f.SetColWidth(sheetName, "A", "G", 16)

	path := filepath.Join(dir, fmt.Sprintf("occupancy_%s_%s.xlsx",
		from.Format(models.DateFmt), to.Format(models.DateFmt)))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save export: %w", err)
	}
	return path, nil
}

func filter(snapshot []models.Booking, from, to time.Time) []models.Booking {
	lo, hi := from.Format(models.DateFmt), to.Format(models.DateFmt)
	var out []models.Booking
	for _, b := range snapshot {
		if !b.Status.CountsForOverlap() {
			continue
		}
		day := b.Date.Format(models.DateFmt)
		if day >= lo && day <= hi {
			out = append(out, b)
		}
	}
	return out
}
