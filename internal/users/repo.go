// Package users provides CRUD and lookup over the Users sheet.
package users

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"rollcall/internal/schema"
	"rollcall/internal/store"
)

// User is one account row. Passwords are stored and compared as plaintext;
// lookups that do not authenticate leave Password empty.
type User struct {
	ID       string `json:"id"`
	Password string `json:"-"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Subject  string `json:"subject,omitempty"`
}

// ErrInvalidUser rejects an Add call with a blank name, password, or an
// unknown role before the store is touched.
var ErrInvalidUser = errors.New("name, password and a valid role are required")

// Repository persists user accounts in the Users sheet.
type Repository struct {
	wb *store.Workbook
}

// NewRepository creates a repo over the workbook gateway.
func NewRepository(wb *store.Workbook) *Repository {
	return &Repository{wb: wb}
}

func fromRow(row []string) User {
	return User{
		ID:       store.Cell(row, 0),
		Password: store.Cell(row, 1),
		Name:     store.Cell(row, 2),
		Role:     store.Cell(row, 3),
		Subject:  store.Cell(row, 4),
	}
}

// Authenticate scans for the first row whose name and password both match the
// given credentials after trimming. Returns nil when no row matches.
func (r *Repository) Authenticate(name, password string) (*User, error) {
	var found *User
	err := r.wb.View(schema.UsersTable, func(rows [][]string) error {
		for _, row := range rows {
			if strings.TrimSpace(store.Cell(row, 2)) == strings.TrimSpace(name) &&
				strings.TrimSpace(store.Cell(row, 1)) == strings.TrimSpace(password) {
				u := fromRow(row)
				found = &u
				return nil
			}
		}
		return nil
	})
	return found, err
}

// ByRole returns all users with the given role, case-insensitively, in table
// order. Passwords are not included.
func (r *Repository) ByRole(role string) ([]User, error) {
	var out []User
	err := r.wb.View(schema.UsersTable, func(rows [][]string) error {
		for _, row := range rows {
			if strings.EqualFold(store.Cell(row, 3), role) {
				u := fromRow(row)
				u.Password = ""
				out = append(out, u)
			}
		}
		return nil
	})
	return out, err
}

// ByID returns the first user whose id matches case-insensitively, without
// the password, or nil when absent.
func (r *Repository) ByID(id string) (*User, error) {
	var found *User
	err := r.wb.View(schema.UsersTable, func(rows [][]string) error {
		for _, row := range rows {
			if strings.EqualFold(store.Cell(row, 0), id) {
				u := fromRow(row)
				u.Password = ""
				found = &u
				return nil
			}
		}
		return nil
	})
	return found, err
}

// Add appends a new account and returns its generated id: the role's prefix
// followed by a zero-padded sequence one past the highest numeric suffix
// currently held by that role. The subject is stored as given; it is not
// checked against the subject set.
func (r *Repository) Add(name, password, role, subject string) (string, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(password) == "" || !schema.ValidRole(role) {
		return "", ErrInvalidUser
	}

	var newID string
	err := r.wb.Update(schema.UsersTable, func(rows [][]string) ([][]string, bool, error) {
		max := 0
		for _, row := range rows {
			if !strings.EqualFold(store.Cell(row, 3), role) {
				continue
			}
			if n, ok := numericSuffix(store.Cell(row, 0)); ok && n > max {
				max = n
			}
		}
		newID = fmt.Sprintf("%s%03d", schema.IDPrefix(role), max+1)
		rows = append(rows, []string{newID, password, name, role, subject})
		return rows, true, nil
	})
	if err != nil {
		return "", err
	}
	return newID, nil
}

// Remove deletes the row whose id matches case-insensitively and closes the
// gap so the remaining rows stay contiguous. Unknown ids are a silent no-op.
// Attendance rows referencing the id are left in place.
func (r *Repository) Remove(id string) error {
	return r.wb.Update(schema.UsersTable, func(rows [][]string) ([][]string, bool, error) {
		for i, row := range rows {
			if strings.EqualFold(store.Cell(row, 0), id) {
				return append(rows[:i], rows[i+1:]...), true, nil
			}
		}
		return rows, false, nil
	})
}

// UpdatePassword overwrites the password cell of the matching row in place.
// Unknown ids are a silent no-op.
func (r *Repository) UpdatePassword(id, newPassword string) error {
	return r.wb.Update(schema.UsersTable, func(rows [][]string) ([][]string, bool, error) {
		for i, row := range rows {
			if strings.EqualFold(store.Cell(row, 0), id) {
				rows[i] = setCell(row, 1, newPassword)
				return rows, true, nil
			}
		}
		return rows, false, nil
	})
}

// numericSuffix extracts the digits of an id ("STU007" -> 7). Ids without
// digits, like the seeded admin, are skipped.
func numericSuffix(id string) (int, bool) {
	var b strings.Builder
	for _, c := range id {
		if unicode.IsDigit(c) {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// setCell writes row[i], growing the row when it was loaded short of i.
func setCell(row []string, i int, v string) []string {
	for len(row) <= i {
		row = append(row, "")
	}
	row[i] = v
	return row
}
