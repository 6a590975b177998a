package database

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	// ErrNotFound indicates no row matched
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates a unique constraint rejected the write
	ErrConflict = errors.New("record already exists")
)

const uniqueViolation = "23505"

// mapError translates driver errors into package errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// uuidArray converts ids into a Postgres array parameter
func uuidArray(ids []uuid.UUID) interface{} {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return pq.Array(strs)
}

// stringArray converts typed string values into a Postgres array parameter
func stringArray[T ~string](values []T) interface{} {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = string(v)
	}
	return pq.Array(strs)
}
