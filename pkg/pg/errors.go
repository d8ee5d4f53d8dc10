package pg

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrInvalidConfig         = errors.New("invalid postgres connection config")
	ErrConnectionFailed      = errors.New("failed to open postgres connection")
	ErrHealthcheckFailed     = errors.New("postgres healthcheck failed")
	ErrMigrationFailed       = errors.New("failed to apply migrations")
	ErrMigrationsDirNotFound = errors.New("migrations directory not found")
	ErrMigrationsPathEmpty   = errors.New("migrations path not provided")
)

// IsNotFound reports whether err is pgx's no-rows result.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, pgx.ErrNoRows)
}

// IsDuplicateKey reports whether err is a unique constraint violation
// (SQLSTATE 23505). The Postgres storage maps it to ErrDuplicateJobID.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
