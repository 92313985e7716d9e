// Package attendance provides CRUD, scoped overwrite, and per-student history
// queries over the Attendance sheet.
package attendance

import (
	"sort"
	"strings"

	"rollcall/internal/schema"
	"rollcall/internal/store"
)

// Record is one status mark for one student, one date, one subject. StudentID
// references a Users row but is not enforced; orphaned records are kept and
// rendered with an "N/A" name by the report layer.
type Record struct {
	StudentID string `json:"student_id"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	Subject   string `json:"subject"`
}

// Repository persists attendance marks in the Attendance sheet.
type Repository struct {
	wb *store.Workbook
}

// NewRepository creates a repo over the workbook gateway.
func NewRepository(wb *store.Workbook) *Repository {
	return &Repository{wb: wb}
}

func fromRow(row []string) Record {
	subject := store.Cell(row, 3)
	if subject == "" {
		subject = schema.DefaultSubject
	}
	return Record{
		StudentID: store.Cell(row, 0),
		Date:      store.Cell(row, 1),
		Status:    store.Cell(row, 2),
		Subject:   subject,
	}
}

func toRow(rec Record) []string {
	return []string{rec.StudentID, rec.Date, rec.Status, rec.Subject}
}

// rowSubject reads a row's subject cell with the blank-cell default applied,
// so rows written before the Subject column existed compare as "General".
func rowSubject(row []string) string {
	if s := store.Cell(row, 3); s != "" {
		return s
	}
	return schema.DefaultSubject
}

// All returns every record in table order. Rows with a blank student-id cell
// are skipped; blank subjects default to General.
func (r *Repository) All() ([]Record, error) {
	var out []Record
	err := r.wb.View(schema.AttendanceTable, func(rows [][]string) error {
		for _, row := range rows {
			if store.Cell(row, 0) == "" {
				continue
			}
			out = append(out, fromRow(row))
		}
		return nil
	})
	return out, err
}

// ForStudent returns the student's records sorted by date descending. The
// sort is a plain string comparison, valid because dates are ISO formatted.
func (r *Repository) ForStudent(id string) ([]Record, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range all {
		if strings.EqualFold(rec.StudentID, id) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

// StatusFor returns the status of the first record matching the exact
// (student, date, subject) triple. No record reads as Absent, so a caller
// cannot distinguish "never marked" from "marked absent".
func (r *Repository) StatusFor(studentID, date, subject string) (string, error) {
	all, err := r.All()
	if err != nil {
		return "", err
	}
	for _, rec := range all {
		if rec.StudentID == studentID && rec.Date == date && rec.Subject == subject {
			return rec.Status, nil
		}
	}
	return schema.StatusAbsent, nil
}

// HasBeenMarked reports whether any record exists for the (date, subject)
// pair. The presentation layer uses it to confirm overwrites before
// resubmitting.
func (r *Repository) HasBeenMarked(date, subject string) (bool, error) {
	all, err := r.All()
	if err != nil {
		return false, err
	}
	for _, rec := range all {
		if rec.Date == date && rec.Subject == subject {
			return true, nil
		}
	}
	return false, nil
}

// Mark replaces every record for the (date, subject) pair with the incoming
// list in a single flush: existing rows for the pair are dropped, surviving
// rows compact upward, and the new records append at the end. Resubmitting a
// pair therefore overwrites rather than duplicates.
func (r *Repository) Mark(records []Record, date, subject string) error {
	return r.wb.Update(schema.AttendanceTable, func(rows [][]string) ([][]string, bool, error) {
		kept := rows[:0]
		for _, row := range rows {
			if store.Cell(row, 1) == date && rowSubject(row) == subject {
				continue
			}
			kept = append(kept, row)
		}
		for _, rec := range records {
			kept = append(kept, toRow(rec))
		}
		return kept, true, nil
	})
}

// UpdateSingle overwrites only the status cell of the record matching the
// exact triple. A missing record is a silent no-op.
func (r *Repository) UpdateSingle(studentID, date, subject, newStatus string) error {
	return r.wb.Update(schema.AttendanceTable, func(rows [][]string) ([][]string, bool, error) {
		for i, row := range rows {
			if store.Cell(row, 0) == studentID && store.Cell(row, 1) == date && rowSubject(row) == subject {
				row = append([]string(nil), row...)
				for len(row) < 3 {
					row = append(row, "")
				}
				row[2] = newStatus
				rows[i] = row
				return rows, true, nil
			}
		}
		return rows, false, nil
	})
}
