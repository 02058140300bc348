package database

import (
	"errors"

	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the repositories translate
const (
	codeUniqueViolation  = "23505"
	codeNotNullViolation = "23502"
	codeCheckViolation   = "23514"
	codeInvalidTextRepr  = "22P02"
)

// MapPostgresError translates driver errors into model sentinels. Anything
// it does not recognise is returned unchanged.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return models.ErrConflict
	case codeNotNullViolation, codeCheckViolation, codeInvalidTextRepr:
		return models.ErrBadRequest
	}
	return err
}
