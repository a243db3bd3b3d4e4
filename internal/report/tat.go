// Package report renders the turnaround-time register.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"efileflow/internal/domain"
)

const sheetName = "TAT Register"

// Row is one file in the register with its elapsed turnaround time.
type Row struct {
	domain.TATEntry
	// ElapsedDays counts whole days since the TAT clock started; -1 while
	// the clock has not started.
	ElapsedDays int `json:"elapsed_days"`
}

// Build computes elapsed days for each entry as of now.
func Build(entries []domain.TATEntry, now time.Time) []Row {
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		r := Row{TATEntry: e, ElapsedDays: -1}
		if e.TATStarted && e.TATStartedAt != nil {
			if started, err := time.Parse(time.RFC3339, *e.TATStartedAt); err == nil {
				r.ElapsedDays = int(now.Sub(started).Hours() / 24)
			}
		}
		rows = append(rows, r)
	}
	return rows
}

var columns = []string{"File Number", "Subject", "Creator", "With", "State", "TAT Started At", "Last External Mark", "Elapsed Days"}

// WriteExcel writes rows as an xlsx workbook to w.
func WriteExcel(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return err
	}
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return err
		}
	}

	for i, r := range rows {
		values := []any{
			r.FileNumber,
			r.Subject,
			r.CreatorID,
			r.CurrentAssignedTo,
			string(r.CurrentState),
			deref(r.TATStartedAt),
			deref(r.LastExternalMarkAt),
			"",
		}
		if r.ElapsedDays >= 0 {
			values[7] = r.ElapsedDays
		}
		start, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheetName, start, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(sheetName, "A", "B", 24); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
