package repository

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// Sentinel errors shared by all repositories. The API layer maps these to
// HTTP status codes; services wrap them with context.
var (
	// ErrNotFound is returned when no row matches the query.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when an insert or update loses against a
	// uniqueness constraint. The store is the final arbiter for identity
	// uniqueness; callers must treat this as "already exists", not as
	// invalid input.
	ErrConflict = errors.New("conflicting record already exists")

	// ErrFingerprintMismatch is returned when a finalize call carries a
	// different fingerprint than the one already recorded for the serial.
	ErrFingerprintMismatch = errors.New("fingerprint does not match recorded value")
)

// isUniqueViolation reports whether err is a SQLite uniqueness constraint
// failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}
