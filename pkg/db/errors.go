package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports a unique constraint failure, optionally a specific
// constraint. Postgres errors are matched by SQLSTATE; sqlite (tests) by text.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "duplicate key value") {
		return false
	}
	return constraint == "" || strings.Contains(msg, constraint)
}
