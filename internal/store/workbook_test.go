package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"rollcall/internal/schema"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "college_data.xlsx")
}

func TestOpenCreatesWorkbookWithBootstrapAdmin(t *testing.T) {
	path := tempPath(t)
	wb, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("workbook not created: %v", err)
	}

	var rows [][]string
	if err := wb.View(schema.UsersTable, func(r [][]string) error {
		rows = r
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("want 1 seeded row, got %d", len(rows))
	}
	if got := Cell(rows[0], 0); got != "admin" {
		t.Errorf("seeded id = %q, want admin", got)
	}
	if got := Cell(rows[0], 3); got != schema.RoleAdmin {
		t.Errorf("seeded role = %q, want %q", got, schema.RoleAdmin)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := tempPath(t)
	if _, err := Open(path); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	wb, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	var count int
	if err := wb.View(schema.UsersTable, func(rows [][]string) error {
		count = len(rows)
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
	if count != 1 {
		t.Errorf("admin row duplicated: %d rows", count)
	}
}

func TestOpenBackfillsMissingHeaders(t *testing.T) {
	// Simulate an older store: Users sheet without the Subject header and no
	// Attendance sheet at all.
	path := tempPath(t)
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", schema.UsersTable); err != nil {
		t.Fatal(err)
	}
	old := []string{"ID", "Password", "Name", "Role"}
	if err := f.SetSheetRow(schema.UsersTable, "A1", &old); err != nil {
		t.Fatal(err)
	}
	legacy := []string{"STU001", "pw", "Asha", "Student"}
	if err := f.SetSheetRow(schema.UsersTable, "A2", &legacy); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	wb, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	check, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer check.Close()
	if v, _ := check.GetCellValue(schema.UsersTable, "E1"); v != "Subject" {
		t.Errorf("Users Subject header = %q, want Subject", v)
	}
	if idx, _ := check.GetSheetIndex(schema.AttendanceTable); idx == -1 {
		t.Error("Attendance sheet not backfilled")
	}
	if v, _ := check.GetCellValue(schema.AttendanceTable, "D1"); v != "Subject" {
		t.Errorf("Attendance Subject header = %q, want Subject", v)
	}

	// Existing data rows are untouched; the blank cell reads back as blank.
	if err := wb.View(schema.UsersTable, func(rows [][]string) error {
		if len(rows) != 1 || Cell(rows[0], 4) != "" {
			t.Errorf("legacy row rewritten: %v", rows)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateFlushesOnlyWhenMutated(t *testing.T) {
	wb, err := Open(tempPath(t))
	if err != nil {
		t.Fatal(err)
	}

	err = wb.Update(schema.AttendanceTable, func(rows [][]string) ([][]string, bool, error) {
		return append(rows, []string{"STU001", "2024-01-01", "Present", "Math"}), true, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A read-only pass through Update must not disturb the sheet.
	if err := wb.Update(schema.AttendanceTable, func(rows [][]string) ([][]string, bool, error) {
		return nil, false, nil
	}); err != nil {
		t.Fatalf("no-op Update: %v", err)
	}

	if err := wb.View(schema.AttendanceTable, func(rows [][]string) error {
		if len(rows) != 1 {
			t.Fatalf("want 1 row, got %d", len(rows))
		}
		if Cell(rows[0], 0) != "STU001" || Cell(rows[0], 2) != "Present" {
			t.Errorf("row = %v", rows[0])
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateShrinkingCompacts(t *testing.T) {
	wb, err := Open(tempPath(t))
	if err != nil {
		t.Fatal(err)
	}
	seed := [][]string{
		{"STU001", "2024-01-01", "Present", "Math"},
		{"STU002", "2024-01-01", "Absent", "Math"},
		{"STU003", "2024-01-01", "Present", "Math"},
	}
	if err := wb.Update(schema.AttendanceTable, func(rows [][]string) ([][]string, bool, error) {
		return seed, true, nil
	}); err != nil {
		t.Fatal(err)
	}

	// Drop the middle row; the survivors must stay contiguous with no blank
	// row left behind.
	if err := wb.Update(schema.AttendanceTable, func(rows [][]string) ([][]string, bool, error) {
		return append(rows[:1], rows[2:]...), true, nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := wb.View(schema.AttendanceTable, func(rows [][]string) error {
		if len(rows) != 2 {
			t.Fatalf("want 2 rows, got %d: %v", len(rows), rows)
		}
		if Cell(rows[0], 0) != "STU001" || Cell(rows[1], 0) != "STU003" {
			t.Errorf("rows = %v", rows)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestCellBoundsSafe(t *testing.T) {
	row := []string{"a", "b"}
	if Cell(row, 1) != "b" {
		t.Error("in-range read failed")
	}
	if Cell(row, 4) != "" {
		t.Error("out-of-range read should be empty")
	}
	if Cell(nil, 0) != "" {
		t.Error("nil row read should be empty")
	}
}
