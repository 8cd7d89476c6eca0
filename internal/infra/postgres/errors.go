package postgres

import (
	"errors"

	"github.com/jackc/pgconn"
)

// uniqueViolation is the postgres SQLSTATE for unique constraint hits.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
