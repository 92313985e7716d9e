// Package store owns the single backing workbook file. Every repository
// operation is one full load/mutate/flush round trip over one sheet,
// serialized by a read-write mutex so at most one writer touches the file at
// a time.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"rollcall/internal/schema"
)

// DefaultFile is the workbook created when no path is configured.
const DefaultFile = "college_data.xlsx"

// bootstrapAdmin is seeded exactly once, when the workbook is first created.
var bootstrapAdmin = []string{"admin", "admin123", "Administrator", schema.RoleAdmin, ""}

// Workbook is the storage gateway over a single .xlsx file holding the Users
// and Attendance sheets.
type Workbook struct {
	mu   sync.RWMutex
	path string
}

// Open ensures the workbook exists and is initialized, then returns the
// gateway. Creating a fresh file writes both sheets, their header rows, and
// the bootstrap admin account. Opening an existing file backfills any missing
// header cells (additive only; data rows are never rewritten here). Safe to
// call on every process start.
func Open(path string) (*Workbook, error) {
	if path == "" {
		path = DefaultFile
	}
	w := &Workbook{path: path}
	if err := w.ensureInitialized(); err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the backing file path.
func (w *Workbook) Path() string { return w.path }

func (w *Workbook) ensureInitialized() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := os.Stat(w.path); errors.Is(err, os.ErrNotExist) {
		return w.create()
	} else if err != nil {
		return fmt.Errorf("stat workbook: %w", err)
	}
	return w.backfill()
}

func (w *Workbook) create() error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", schema.UsersTable); err != nil {
		return fmt.Errorf("init users sheet: %w", err)
	}
	if _, err := f.NewSheet(schema.AttendanceTable); err != nil {
		return fmt.Errorf("init attendance sheet: %w", err)
	}
	if err := f.SetSheetRow(schema.UsersTable, "A1", &schema.UserColumns); err != nil {
		return err
	}
	if err := f.SetSheetRow(schema.UsersTable, "A2", &bootstrapAdmin); err != nil {
		return err
	}
	if err := f.SetSheetRow(schema.AttendanceTable, "A1", &schema.AttendanceColumns); err != nil {
		return err
	}

	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("create workbook: %w", err)
	}
	return nil
}

// backfill ensures both sheets and all header cells exist in an older file.
// Only header cells are written; rows persisted before a column was added
// keep their blank cells and read back as defaults.
func (w *Workbook) backfill() error {
	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	changed := false
	for _, t := range []struct {
		name    string
		columns []string
	}{
		{schema.UsersTable, schema.UserColumns},
		{schema.AttendanceTable, schema.AttendanceColumns},
	} {
		idx, err := f.GetSheetIndex(t.name)
		if err != nil {
			return err
		}
		if idx == -1 {
			if _, err := f.NewSheet(t.name); err != nil {
				return err
			}
			changed = true
		}
		for i, col := range t.columns {
			cell, err := excelize.CoordinatesToCellName(i+1, 1)
			if err != nil {
				return err
			}
			v, err := f.GetCellValue(t.name, cell)
			if err != nil {
				return err
			}
			if v == "" {
				if err := f.SetCellValue(t.name, cell, col); err != nil {
					return err
				}
				changed = true
			}
		}
	}
	if !changed {
		return nil
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// View loads one sheet and hands its data rows (header excluded) to fn for
// reading. The rows slice may be ragged; use Cell for bounds-safe access.
func (w *Workbook) View(table string, fn func(rows [][]string) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := dataRows(f, table)
	if err != nil {
		return err
	}
	loads.WithLabelValues(table).Inc()
	return fn(rows)
}

// Update loads one sheet, hands its data rows to fn, and flushes the whole
// sheet back when fn reports a mutation. fn returns the replacement rows; a
// false mutated flag leaves the file untouched.
func (w *Workbook) Update(table string, fn func(rows [][]string) (out [][]string, mutated bool, err error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := excelize.OpenFile(w.path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := dataRows(f, table)
	if err != nil {
		return err
	}
	loads.WithLabelValues(table).Inc()

	out, mutated, err := fn(rows)
	if err != nil {
		return err
	}
	if !mutated {
		return nil
	}

	start := time.Now()
	if err := rewriteSheet(f, table, out, len(rows)); err != nil {
		return err
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("flush workbook: %w", err)
	}
	flushes.WithLabelValues(table).Inc()
	flushSeconds.Observe(time.Since(start).Seconds())
	return nil
}

func dataRows(f *excelize.File, table string) ([][]string, error) {
	rows, err := f.GetRows(table)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

// rewriteSheet overwrites data rows starting at row 2 and removes any
// leftover rows from the previous contents, highest index first so earlier
// positions stay valid while removing. Rows are padded to the table width so
// a short row cannot leave a stale trailing cell from the row it replaces.
func rewriteSheet(f *excelize.File, table string, rows [][]string, prevCount int) error {
	width := len(schema.AttendanceColumns)
	if table == schema.UsersTable {
		width = len(schema.UserColumns)
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := rows[i]
		for len(row) < width {
			row = append(row, "")
		}
		if err := f.SetSheetRow(table, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", table, i, err)
		}
	}
	for r := prevCount + 1; r > len(rows)+1; r-- {
		if err := f.RemoveRow(table, r); err != nil {
			return fmt.Errorf("compact %s: %w", table, err)
		}
	}
	return nil
}

// Cell returns row[i], or "" when the row is too short. GetRows drops
// trailing empty cells, so positional reads must go through here.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
