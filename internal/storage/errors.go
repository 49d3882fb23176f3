package storage

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidIdentifier is returned for table or column names that are not plain SQL identifiers
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrTableNotFound is returned when an operation targets a table that does not exist
	ErrTableNotFound = errors.New("table not found")
	// ErrColumnNotFound is returned when an operation names a column the table does not have
	ErrColumnNotFound = errors.New("column not found")
	// ErrColumnExists is returned by AddColumn when the column is already present
	ErrColumnExists = errors.New("column already exists")
	// ErrLastColumn is returned by RemoveColumn when the column is the only one left
	ErrLastColumn = errors.New("cannot remove the last column of a table")
	// ErrEmptyCondition is returned by UpdateEntry when no WHERE condition is given
	ErrEmptyCondition = errors.New("update requires at least one condition")
	// ErrEmptyAssignment is returned by UpdateEntry when nothing is to be set
	ErrEmptyAssignment = errors.New("update requires at least one assignment")
	// ErrInvalidColumnType is returned for column type declarations that are not a plain type name
	ErrInvalidColumnType = errors.New("invalid column type")
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
	typePattern       = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]{0,31}(\(\s*[0-9]+\s*(,\s*[0-9]+\s*)?\))?$`)
)

// validateIdentifier accepts plain identifiers only. Names reserved by SQLite
// are rejected as well.
func validateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	if strings.HasPrefix(strings.ToLower(name), "sqlite_") {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidIdentifier, name)
	}
	return nil
}

func validateColumnType(decl string) error {
	if !typePattern.MatchString(strings.TrimSpace(decl)) {
		return fmt.Errorf("%w: %q", ErrInvalidColumnType, decl)
	}
	return nil
}

// quoteIdent quotes a validated identifier for use in SQL text
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
