package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrAccountNotFound is returned by mutations that target a missing account.
	ErrAccountNotFound = errors.New("account_not_found")
	// ErrDuplicateTransition is returned when a plan transition was already applied.
	ErrDuplicateTransition = errors.New("duplicate_transition")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
