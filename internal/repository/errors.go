package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("repository: not found")

// notFound maps pgx's no-rows error to the package sentinel so callers
// never import pgx for error checks.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
