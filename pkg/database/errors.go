package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL SQLSTATE codes the service reacts to
const (
	CodeUniqueViolation   = "23505"
	CodeDuplicateDatabase = "42P04"
	CodeDuplicateTable    = "42P07"
	CodeUnknownDatabase   = "3D000"
)

// IsUniqueViolation reports whether err was caused by a unique constraint
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || HasCode(err, CodeUniqueViolation) {
		return true
	}
	// sqlite drivers without error translation
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// HasCode reports whether err carries the given PostgreSQL SQLSTATE code
func HasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// IsNotFound reports whether err is gorm's record-not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
