// Package report computes derived attendance statistics: date-range and
// subject filtered counts, percentages, at-risk lists, and per-student
// summaries, plus the delimited-text export of any result table.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/schema"
	"rollcall/internal/users"
)

// Validation errors. Both are raised before any store access and carry a
// message fit for direct display.
var (
	ErrBadRange     = errors.New("invalid date range")
	ErrBadThreshold = errors.New("threshold must be a number (e.g., 75)")
)

// lowAttendanceThreshold drives the warning flag on a student's own summary.
const lowAttendanceThreshold = 75.0

// orphanName labels attendance rows whose student id no longer resolves.
const orphanName = "N/A"

// UserSource is the slice of the user repository the aggregator reads.
type UserSource interface {
	ByRole(role string) ([]users.User, error)
	ByID(id string) (*users.User, error)
}

// RecordSource is the slice of the attendance repository the aggregator reads.
type RecordSource interface {
	All() ([]attendance.Record, error)
	ForStudent(id string) ([]attendance.Record, error)
}

// Counts is a present/absent pair for one student.
type Counts struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
}

// Total returns the number of counted lectures.
func (c Counts) Total() int { return c.Present + c.Absent }

// Row is one line of an aggregate or at-risk report.
type Row struct {
	StudentID  string  `json:"student_id"`
	Name       string  `json:"name"`
	Total      int     `json:"total"`
	Present    int     `json:"present"`
	Absent     int     `json:"absent"`
	Percentage float64 `json:"percentage"`
}

// Aggregator computes statistics over the two repositories.
type Aggregator struct {
	users   UserSource
	records RecordSource
	now     func() time.Time
}

// NewAggregator creates an aggregator over the given sources.
func NewAggregator(u UserSource, r RecordSource) *Aggregator {
	return &Aggregator{users: u, records: r, now: time.Now}
}

// ParseRange parses two ISO dates and validates their order.
func ParseRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(schema.DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start date must be YYYY-MM-DD", ErrBadRange)
	}
	e, err := time.Parse(schema.DateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end date must be YYYY-MM-DD", ErrBadRange)
	}
	if s.After(e) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start date cannot be after end date", ErrBadRange)
	}
	return s, e, nil
}

// ParseThreshold parses the at-risk threshold from its user-supplied string
// form, as a distinct validation error from a bad date range.
func ParseThreshold(s string) (float64, error) {
	t, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: got %q", ErrBadThreshold, s)
	}
	return t, nil
}

// Percentage applies the zero-denominator policy: a student with no counted
// records reads as 100%, so "no data" looks like perfect attendance and
// at-risk filtering must exclude zero totals separately.
func Percentage(present, absent int) float64 {
	total := present + absent
	if total == 0 {
		return 100.0
	}
	return float64(present) / float64(total) * 100.0
}

// Counts returns a present/absent pair per known student for records whose
// subject passes the filter and whose date parses and falls inside
// [start, end] inclusive. Every student starts at zero; records with
// unparsable dates or unknown student ids are skipped silently.
func (a *Aggregator) Counts(start, end time.Time, subjectFilter string) (map[string]Counts, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: dates cannot be empty", ErrBadRange)
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: start date cannot be after end date", ErrBadRange)
	}

	students, err := a.users.ByRole(schema.RoleStudent)
	if err != nil {
		return nil, err
	}
	records, err := a.records.All()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]Counts, len(students))
	for _, s := range students {
		counts[s.ID] = Counts{}
	}
	for _, rec := range records {
		if !schema.MatchesFilter(rec.Subject, subjectFilter) {
			continue
		}
		d, err := time.Parse(schema.DateLayout, rec.Date)
		if err != nil || d.Before(start) || d.After(end) {
			continue
		}
		c, ok := counts[rec.StudentID]
		if !ok {
			continue
		}
		if rec.Status == schema.StatusPresent {
			c.Present++
		} else {
			c.Absent++
		}
		counts[rec.StudentID] = c
	}
	return counts, nil
}

// AtRisk returns the ids whose percentage falls below threshold, excluding
// students with no records at all, sorted for stable output.
func AtRisk(counts map[string]Counts, threshold float64) []string {
	var out []string
	for id, c := range counts {
		if c.Total() > 0 && Percentage(c.Present, c.Absent) < threshold {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Aggregate builds the full report, one row per student in roster order.
func (a *Aggregator) Aggregate(start, end time.Time, subjectFilter string) ([]Row, error) {
	counts, err := a.Counts(start, end, subjectFilter)
	if err != nil {
		return nil, err
	}
	students, err := a.users.ByRole(schema.RoleStudent)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(students))
	for _, s := range students {
		c := counts[s.ID]
		rows = append(rows, Row{
			StudentID:  s.ID,
			Name:       s.Name,
			Total:      c.Total(),
			Present:    c.Present,
			Absent:     c.Absent,
			Percentage: Percentage(c.Present, c.Absent),
		})
	}
	return rows, nil
}

// AtRiskRows builds the report of students below threshold, in roster order.
func (a *Aggregator) AtRiskRows(start, end time.Time, subjectFilter string, threshold float64) ([]Row, error) {
	rows, err := a.Aggregate(start, end, subjectFilter)
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, r := range rows {
		if r.Total > 0 && r.Percentage < threshold {
			out = append(out, r)
		}
	}
	return out, nil
}

// SubjectLine is one subject's totals inside a student summary.
type SubjectLine struct {
	Subject    string  `json:"subject"`
	Total      int     `json:"total"`
	Present    int     `json:"present"`
	Absent     int     `json:"absent"`
	Percentage float64 `json:"percentage"`
}

// StudentSummary is one student's overall and per-subject standing. AtRisk is
// set when any line, or the overall figure, falls below 75% with at least one
// record.
type StudentSummary struct {
	Total      int           `json:"total"`
	Present    int           `json:"present"`
	Absent     int           `json:"absent"`
	Percentage float64       `json:"percentage"`
	AtRisk     bool          `json:"at_risk"`
	Subjects   []SubjectLine `json:"subjects"`
}

// StudentSummary aggregates one student's full history. Subjects appear in
// order of first appearance in the (date-descending) record list.
func (a *Aggregator) StudentSummary(id string) (*StudentSummary, error) {
	records, err := a.records.ForStudent(id)
	if err != nil {
		return nil, err
	}

	sum := &StudentSummary{}
	perSubject := make(map[string]*Counts)
	var order []string
	for _, rec := range records {
		c, ok := perSubject[rec.Subject]
		if !ok {
			c = &Counts{}
			perSubject[rec.Subject] = c
			order = append(order, rec.Subject)
		}
		if rec.Status == schema.StatusPresent {
			sum.Present++
			c.Present++
		} else {
			sum.Absent++
			c.Absent++
		}
	}
	sum.Total = sum.Present + sum.Absent
	sum.Percentage = Percentage(sum.Present, sum.Absent)
	if sum.Total > 0 && sum.Percentage < lowAttendanceThreshold {
		sum.AtRisk = true
	}
	for _, subject := range order {
		c := perSubject[subject]
		line := SubjectLine{
			Subject:    subject,
			Total:      c.Total(),
			Present:    c.Present,
			Absent:     c.Absent,
			Percentage: Percentage(c.Present, c.Absent),
		}
		if line.Total > 0 && line.Percentage < lowAttendanceThreshold {
			sum.AtRisk = true
		}
		sum.Subjects = append(sum.Subjects, line)
	}
	return sum, nil
}

// Overview is the dashboard snapshot of a single day.
type Overview struct {
	Date       string  `json:"date"`
	Present    int     `json:"present"`
	Absent     int     `json:"absent"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// TodayOverview totals today's records, optionally restricted to a subject.
func (a *Aggregator) TodayOverview(subjectFilter string) (Overview, error) {
	records, err := a.records.All()
	if err != nil {
		return Overview{}, err
	}
	today := a.now().Format(schema.DateLayout)
	ov := Overview{Date: today}
	for _, rec := range records {
		if rec.Date != today || !schema.MatchesFilter(rec.Subject, subjectFilter) {
			continue
		}
		if rec.Status == schema.StatusPresent {
			ov.Present++
		} else {
			ov.Absent++
		}
	}
	ov.Total = ov.Present + ov.Absent
	ov.Percentage = Percentage(ov.Present, ov.Absent)
	return ov, nil
}

// RawRow is one attendance record joined with the student's current name.
type RawRow struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Date      string `json:"date"`
	Subject   string `json:"subject"`
	Status    string `json:"status"`
}

// RawRows returns every record with names resolved. Records whose student was
// removed stay in the table and render as "N/A".
func (a *Aggregator) RawRows() ([]RawRow, error) {
	records, err := a.records.All()
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	rows := make([]RawRow, 0, len(records))
	for _, rec := range records {
		name, ok := names[rec.StudentID]
		if !ok {
			name = orphanName
			if u, err := a.users.ByID(rec.StudentID); err != nil {
				return nil, err
			} else if u != nil {
				name = u.Name
			}
			names[rec.StudentID] = name
		}
		rows = append(rows, RawRow{
			StudentID: rec.StudentID,
			Name:      name,
			Date:      rec.Date,
			Subject:   rec.Subject,
			Status:    rec.Status,
		})
	}
	return rows, nil
}
