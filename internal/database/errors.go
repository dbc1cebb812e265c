package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// WriteViolation classifies a constraint failure raised while writing
// generated statements into a destination database. Every kind here is
// one the write path can actually produce: foreign-key violations when
// the destination holds conflicting rows, unique violations when it is
// not empty, and not-null violations when its schema drifted from the
// source's.
type WriteViolation int

const (
	ViolationNone WriteViolation = iota
	ViolationForeignKey
	ViolationUnique
	ViolationNotNull
)

func (v WriteViolation) String() string {
	switch v {
	case ViolationForeignKey:
		return "foreign key"
	case ViolationUnique:
		return "unique"
	case ViolationNotNull:
		return "not null"
	default:
		return "none"
	}
}

// PostgreSQL integrity-violation codes (class 23).
var pgViolationCodes = map[string]WriteViolation{
	"23503": ViolationForeignKey,
	"23505": ViolationUnique,
	"23502": ViolationNotNull,
}

// SQLite reports constraint failures only through its message text.
var sqliteViolationMessages = map[string]WriteViolation{
	"FOREIGN KEY constraint failed": ViolationForeignKey,
	"UNIQUE constraint failed":      ViolationUnique,
	"NOT NULL constraint failed":    ViolationNotNull,
}

// ClassifyWriteError maps a destination write error onto a violation
// kind, plus the violated constraint's name when the driver reports
// one. Errors that are no constraint violation yield ViolationNone.
func ClassifyWriteError(err error) (WriteViolation, string) {
	if err == nil {
		return ViolationNone, ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if violation, ok := pgViolationCodes[pgErr.Code]; ok {
			return violation, pgErr.ConstraintName
		}
		return ViolationNone, ""
	}

	message := err.Error()
	for fragment, violation := range sqliteViolationMessages {
		if strings.Contains(message, fragment) {
			return violation, ""
		}
	}
	return ViolationNone, ""
}
