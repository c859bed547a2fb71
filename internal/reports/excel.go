// Package reports exports the schedule to Excel workbooks.
package reports

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/mrted88/gas-engineer-crm/internal/models"
)

// EventLister supplies the events of a date range, recurrences expanded.
type EventLister interface {
	List(ctx context.Context, start, end string) ([]models.Event, error)
}

// Service builds schedule reports.
type Service struct {
	events EventLister
}

// NewService creates a report service over the given lister.
func NewService(events EventLister) *Service {
	return &Service{events: events}
}

var reportColumns = []string{
	"Date", "Time", "Duration (min)", "Title", "Customer", "Status", "Notes",
}

// Export writes an xlsx workbook for the date range to w, one sheet per
// status, rows ordered by (date, time).
func (s *Service) Export(ctx context.Context, start, end string, w io.Writer) error {
	list, err := s.events.List(ctx, start, end)
	if err != nil {
		return err
	}

	byStatus := make(map[models.Status][]models.Event)
	for _, ev := range list {
		byStatus[ev.Status] = append(byStatus[ev.Status], ev)
	}

	xw := newSheetWriter()
	defer xw.Close()

	// Stable sheet order regardless of map iteration.
	order := []models.Status{
		models.StatusScheduled, models.StatusRescheduled,
		models.StatusCompleted, models.StatusCancelled,
	}
	wrote := false
	for _, status := range order {
		rows, ok := byStatus[status]
		if !ok {
			continue
		}
		if err := xw.AddSheet(string(status)); err != nil {
			return err
		}
		if err := xw.WriteHeader(reportColumns); err != nil {
			return err
		}
		for _, ev := range rows {
			row := []interface{}{
				ev.Date, ev.StartTime, ev.Duration, ev.Title,
				ev.CustomerName, string(ev.Status), ev.Notes,
			}
			if err := xw.WriteRow(row); err != nil {
				return err
			}
		}
		wrote = true
	}
	if !wrote {
		if err := xw.AddSheet("empty"); err != nil {
			return err
		}
		if err := xw.WriteHeader(reportColumns); err != nil {
			return err
		}
	}

	return xw.Save(w)
}

// sheetWriter wraps excelize with a cursor per sheet.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

// AddSheet adds a new sheet with the given name.
func (w *sheetWriter) AddSheet(name string) error {
	// Truncate sheet name to 31 chars (Excel limit)
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		// Rename default sheet
		w.file.SetSheetName("Sheet1", name)
	} else {
		if _, err := w.file.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes bold column headers to the current sheet.
func (w *sheetWriter) WriteHeader(columns []string) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, col); err != nil {
			return err
		}
	}

	style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}

	w.currentRow++
	return nil
}

// WriteRow writes a data row to the current sheet.
func (w *sheetWriter) WriteRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, val); err != nil {
			return err
		}
	}

	w.currentRow++
	return nil
}

// Save writes the workbook to wr.
func (w *sheetWriter) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

// Close releases resources.
func (w *sheetWriter) Close() error {
	return w.file.Close()
}
