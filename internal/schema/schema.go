// Package schema defines the fixed table layouts and closed value sets of the
// record store: sheet names, column orders, roles, statuses, and subjects.
package schema

import "strings"

// Sheet names inside the backing workbook.
const (
	UsersTable      = "Users"
	AttendanceTable = "Attendance"
)

// Column orders. Row 0 of each sheet holds exactly these headers.
var (
	UserColumns       = []string{"ID", "Password", "Name", "Role", "Subject"}
	AttendanceColumns = []string{"StudentID", "Date", "Status", "Subject"}
)

// User roles.
const (
	RoleAdmin   = "Admin"
	RoleStaff   = "Staff"
	RoleStudent = "Student"
)

// Attendance statuses. A missing record reads as Absent.
const (
	StatusPresent = "Present"
	StatusAbsent  = "Absent"
)

// Subjects is the closed subject set. DefaultSubject is substituted when an
// attendance row has a blank subject cell (rows written before the Subject
// column existed).
var Subjects = []string{"General", "Math", "Physics", "Chemistry", "History", "English", "Biology"}

const DefaultSubject = "General"

// AllSubjects is the report filter value matching every subject.
const AllSubjects = "All Subjects"

// DateLayout is the ISO date format used for every Date cell. Lexicographic
// order of these strings equals calendar order, which the history sort and
// range filters rely on.
const DateLayout = "2006-01-02"

// IDPrefix returns the id prefix for a role. Each role owns a distinct
// prefix; the seeded "admin" account is the only id outside this scheme.
func IDPrefix(role string) string {
	switch {
	case strings.EqualFold(role, RoleStudent):
		return "STU"
	case strings.EqualFold(role, RoleStaff):
		return "STAFF"
	default:
		return "ADM"
	}
}

// ValidRole reports whether role names one of the three roles, ignoring case.
func ValidRole(role string) bool {
	return strings.EqualFold(role, RoleAdmin) || strings.EqualFold(role, RoleStaff) || strings.EqualFold(role, RoleStudent)
}

// ValidStatus reports whether status is Present or Absent, exactly.
func ValidStatus(status string) bool {
	return status == StatusPresent || status == StatusAbsent
}

// ValidSubject reports whether subject belongs to the closed set.
func ValidSubject(subject string) bool {
	for _, s := range Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

// MatchesFilter reports whether subject passes a report subject filter. An
// empty filter or AllSubjects matches everything.
func MatchesFilter(subject, filter string) bool {
	return filter == "" || filter == AllSubjects || subject == filter
}
