package report

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/schema"
	"rollcall/internal/users"
)

type fakeUsers struct {
	students []users.User
}

func (f *fakeUsers) ByRole(role string) ([]users.User, error) {
	if role == schema.RoleStudent {
		return f.students, nil
	}
	return nil, nil
}

func (f *fakeUsers) ByID(id string) (*users.User, error) {
	for _, u := range f.students {
		if u.ID == id {
			out := u
			return &out, nil
		}
	}
	return nil, nil
}

type fakeRecords struct {
	recs []attendance.Record
}

func (f *fakeRecords) All() ([]attendance.Record, error) { return f.recs, nil }

func (f *fakeRecords) ForStudent(id string) ([]attendance.Record, error) {
	var out []attendance.Record
	for _, r := range f.recs {
		if r.StudentID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestAggregator(students []users.User, recs []attendance.Record) *Aggregator {
	return NewAggregator(&fakeUsers{students: students}, &fakeRecords{recs: recs})
}

func mustRange(t *testing.T, start, end string) (time.Time, time.Time) {
	t.Helper()
	s, e, err := ParseRange(start, end)
	if err != nil {
		t.Fatalf("ParseRange(%s, %s): %v", start, end, err)
	}
	return s, e
}

func TestPercentage(t *testing.T) {
	cases := []struct {
		present, absent int
		want            float64
	}{
		{0, 0, 100.0},
		{3, 1, 75.0},
		{0, 4, 0.0},
		{5, 0, 100.0},
		{1, 2, 100.0 / 3.0},
	}
	for _, tc := range cases {
		if got := Percentage(tc.present, tc.absent); got != tc.want {
			t.Errorf("Percentage(%d, %d) = %v, want %v", tc.present, tc.absent, got, tc.want)
		}
	}
}

func TestCountsFiltersRangeAndSubject(t *testing.T) {
	a := newTestAggregator(
		[]users.User{{ID: "STU001", Name: "Ann", Role: schema.RoleStudent}},
		[]attendance.Record{
			{StudentID: "STU001", Date: "2024-01-01", Status: schema.StatusPresent, Subject: "Math"},
			{StudentID: "STU001", Date: "2024-01-02", Status: schema.StatusAbsent, Subject: "Math"},
			{StudentID: "STU001", Date: "2024-02-01", Status: schema.StatusPresent, Subject: "Math"}, // out of range
			{StudentID: "STU001", Date: "2024-01-03", Status: schema.StatusPresent, Subject: "Physics"},
			{StudentID: "STU001", Date: "not-a-date", Status: schema.StatusPresent, Subject: "Math"},
			{StudentID: "STU999", Date: "2024-01-01", Status: schema.StatusPresent, Subject: "Math"}, // unknown id
		},
	)
	start, end := mustRange(t, "2024-01-01", "2024-01-31")

	counts, err := a.Counts(start, end, "Math")
	if err != nil {
		t.Fatal(err)
	}
	if got := counts["STU001"]; got != (Counts{Present: 1, Absent: 1}) {
		t.Errorf("Math counts = %+v", got)
	}
	if _, ok := counts["STU999"]; ok {
		t.Error("unknown student id leaked into counts")
	}

	counts, err = a.Counts(start, end, schema.AllSubjects)
	if err != nil {
		t.Fatal(err)
	}
	if got := counts["STU001"]; got != (Counts{Present: 2, Absent: 1}) {
		t.Errorf("All Subjects counts = %+v", got)
	}
}

func TestCountsSeedsEveryStudent(t *testing.T) {
	a := newTestAggregator(
		[]users.User{
			{ID: "STU001", Name: "Ann", Role: schema.RoleStudent},
			{ID: "STU002", Name: "Ben", Role: schema.RoleStudent},
		},
		nil,
	)
	start, end := mustRange(t, "2024-01-01", "2024-01-31")
	counts, err := a.Counts(start, end, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("want 2 seeded students, got %d", len(counts))
	}
	if counts["STU002"].Total() != 0 {
		t.Errorf("recordless student total = %d", counts["STU002"].Total())
	}
}

func TestCountsRejectsBadRange(t *testing.T) {
	a := newTestAggregator(nil, nil)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	if _, err := a.Counts(time.Time{}, day, ""); !errors.Is(err, ErrBadRange) {
		t.Errorf("zero start: %v", err)
	}
	if _, err := a.Counts(day, day.AddDate(0, 0, -1), ""); !errors.Is(err, ErrBadRange) {
		t.Errorf("start after end: %v", err)
	}
}

func TestParseRange(t *testing.T) {
	if _, _, err := ParseRange("2024-01-01", "2024-01-31"); err != nil {
		t.Errorf("valid range: %v", err)
	}
	if _, _, err := ParseRange("01/01/2024", "2024-01-31"); !errors.Is(err, ErrBadRange) {
		t.Errorf("bad start: %v", err)
	}
	if _, _, err := ParseRange("2024-01-01", "yesterday"); !errors.Is(err, ErrBadRange) {
		t.Errorf("bad end: %v", err)
	}
	if _, _, err := ParseRange("2024-02-01", "2024-01-01"); !errors.Is(err, ErrBadRange) {
		t.Errorf("inverted range: %v", err)
	}
}

func TestParseThreshold(t *testing.T) {
	if got, err := ParseThreshold("62.5"); err != nil || got != 62.5 {
		t.Errorf("ParseThreshold(62.5) = %v, %v", got, err)
	}
	if _, err := ParseThreshold("most"); !errors.Is(err, ErrBadThreshold) {
		t.Errorf("non-numeric threshold: %v", err)
	}
}

func TestAtRisk(t *testing.T) {
	counts := map[string]Counts{
		"STU001": {Present: 1, Absent: 3}, // 25%
		"STU002": {Present: 9, Absent: 1}, // 90%
		"STU003": {},                      // no records: excluded despite 100% reading
		"STU004": {Present: 0, Absent: 2}, // 0%
	}
	got := AtRisk(counts, 75.0)
	want := []string{"STU001", "STU004"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AtRisk = %v, want %v", got, want)
	}
}

func TestAggregateRosterOrder(t *testing.T) {
	a := newTestAggregator(
		[]users.User{
			{ID: "STU001", Name: "Ann", Role: schema.RoleStudent},
			{ID: "STU002", Name: "Ben", Role: schema.RoleStudent},
		},
		[]attendance.Record{
			{StudentID: "STU002", Date: "2024-01-01", Status: schema.StatusAbsent, Subject: "Math"},
			{StudentID: "STU001", Date: "2024-01-01", Status: schema.StatusPresent, Subject: "Math"},
		},
	)
	start, end := mustRange(t, "2024-01-01", "2024-01-31")
	rows, err := a.Aggregate(start, end, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].StudentID != "STU001" || rows[1].StudentID != "STU002" {
		t.Fatalf("roster order broken: %+v", rows)
	}
	if rows[0].Percentage != 100.0 || rows[1].Percentage != 0.0 {
		t.Errorf("percentages = %v, %v", rows[0].Percentage, rows[1].Percentage)
	}
	if rows[0].Name != "Ann" {
		t.Errorf("name = %q", rows[0].Name)
	}
}

func TestAtRiskRowsExcludesRecordless(t *testing.T) {
	a := newTestAggregator(
		[]users.User{
			{ID: "STU001", Name: "Ann", Role: schema.RoleStudent},
			{ID: "STU002", Name: "Ben", Role: schema.RoleStudent},
		},
		[]attendance.Record{
			{StudentID: "STU001", Date: "2024-01-01", Status: schema.StatusAbsent, Subject: "Math"},
		},
	)
	start, end := mustRange(t, "2024-01-01", "2024-01-31")
	rows, err := a.AtRiskRows(start, end, "", 75.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].StudentID != "STU001" {
		t.Fatalf("at-risk rows = %+v", rows)
	}
}

func TestStudentSummary(t *testing.T) {
	a := newTestAggregator(nil, []attendance.Record{
		// ForStudent order: first appearance decides subject order.
		{StudentID: "STU001", Date: "2024-01-03", Status: schema.StatusAbsent, Subject: "Physics"},
		{StudentID: "STU001", Date: "2024-01-02", Status: schema.StatusPresent, Subject: "Math"},
		{StudentID: "STU001", Date: "2024-01-01", Status: schema.StatusPresent, Subject: "Math"},
	})
	sum, err := a.StudentSummary("STU001")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 3 || sum.Present != 2 || sum.Absent != 1 {
		t.Fatalf("totals = %+v", sum)
	}
	if len(sum.Subjects) != 2 || sum.Subjects[0].Subject != "Physics" || sum.Subjects[1].Subject != "Math" {
		t.Fatalf("subject order = %+v", sum.Subjects)
	}
	// Overall 66.7% and Physics 0% both push the flag.
	if !sum.AtRisk {
		t.Error("summary not flagged at risk")
	}
}

func TestStudentSummaryEmpty(t *testing.T) {
	a := newTestAggregator(nil, nil)
	sum, err := a.StudentSummary("STU001")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 0 || sum.Percentage != 100.0 || sum.AtRisk {
		t.Errorf("empty summary = %+v", sum)
	}
}

func TestTodayOverview(t *testing.T) {
	a := newTestAggregator(nil, []attendance.Record{
		{StudentID: "STU001", Date: "2024-01-15", Status: schema.StatusPresent, Subject: "Math"},
		{StudentID: "STU002", Date: "2024-01-15", Status: schema.StatusAbsent, Subject: "Math"},
		{StudentID: "STU003", Date: "2024-01-15", Status: schema.StatusPresent, Subject: "Physics"},
		{StudentID: "STU001", Date: "2024-01-14", Status: schema.StatusAbsent, Subject: "Math"},
	})
	a.now = func() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) }

	ov, err := a.TodayOverview("Math")
	if err != nil {
		t.Fatal(err)
	}
	if ov.Date != "2024-01-15" || ov.Present != 1 || ov.Absent != 1 || ov.Total != 2 {
		t.Errorf("overview = %+v", ov)
	}
	if ov.Percentage != 50.0 {
		t.Errorf("percentage = %v", ov.Percentage)
	}

	ov, _ = a.TodayOverview(schema.AllSubjects)
	if ov.Total != 3 || ov.Present != 2 {
		t.Errorf("all-subjects overview = %+v", ov)
	}
}

func TestRawRowsJoinsNamesAndKeepsOrphans(t *testing.T) {
	a := newTestAggregator(
		[]users.User{{ID: "STU001", Name: "Ann", Role: schema.RoleStudent}},
		[]attendance.Record{
			{StudentID: "STU001", Date: "2024-01-01", Status: schema.StatusPresent, Subject: "Math"},
			{StudentID: "STU042", Date: "2024-01-01", Status: schema.StatusAbsent, Subject: "Math"},
		},
	)
	rows, err := a.RawRows()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 rows, got %d", len(rows))
	}
	if rows[0].Name != "Ann" {
		t.Errorf("joined name = %q", rows[0].Name)
	}
	if rows[1].Name != "N/A" {
		t.Errorf("orphan name = %q, want N/A", rows[1].Name)
	}
}
