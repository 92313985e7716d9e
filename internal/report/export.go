package report

import (
	"fmt"
	"strings"
	"time"

	"rollcall/internal/schema"
)

// Column headers of the exportable tables.
var (
	ReportColumns  = []string{"Student ID", "Name", "Total Lectures", "Total Present", "Total Absent", "Attendance %"}
	RawColumns     = []string{"Student ID", "Name", "Date", "Subject", "Status"}
	SummaryColumns = []string{"Subject", "Total Lectures", "Present", "Absent", "Percentage"}
)

// Filename names an export file <ReportName>_<ISO-today>.csv.
func Filename(reportName string, day time.Time) string {
	return fmt.Sprintf("%s_%s.csv", reportName, day.Format(schema.DateLayout))
}

// ToDelimitedText serializes a result table: one header line, one line per
// row, every field comma-separated and double-quote-wrapped, floats at two
// decimals. Field content is controlled, so embedded quotes and commas are
// not escaped.
func ToDelimitedText(headers []string, rows [][]any) string {
	var b strings.Builder
	b.WriteString(strings.Join(headers, ","))
	b.WriteByte('\n')
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			if f, ok := v.(float64); ok {
				fmt.Fprintf(&b, "%.2f", f)
			} else {
				fmt.Fprint(&b, v)
			}
			b.WriteByte('"')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RowCells converts report rows to exportable cells.
func RowCells(rows []Row) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{r.StudentID, r.Name, r.Total, r.Present, r.Absent, r.Percentage})
	}
	return out
}

// RawCells converts raw joined rows to exportable cells.
func RawCells(rows []RawRow) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{r.StudentID, r.Name, r.Date, r.Subject, r.Status})
	}
	return out
}

// SummaryCells converts a student's subject lines to exportable cells.
func SummaryCells(lines []SubjectLine) [][]any {
	out := make([][]any, 0, len(lines))
	for _, l := range lines {
		out = append(out, []any{l.Subject, l.Total, l.Present, l.Absent, l.Percentage})
	}
	return out
}
