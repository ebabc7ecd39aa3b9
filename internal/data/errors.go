package data

import (
	"errors"
	"fmt"
	"strings"

	"mediasync/internal/biz"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// Postgres SQLSTATE codes raised under lock contention
var contentionCodes = map[string]bool{
	"55P03": true, // lock_not_available
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

// isContention reports a storage error caused by another writer holding a lock.
func isContention(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return contentionCodes[pe.Code]
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// translateError tags contention errors with biz.ErrStorageBusy so they get retried.
func translateError(err error) error {
	if err == nil || errors.Is(err, biz.ErrStorageBusy) {
		return err
	}
	if isContention(err) {
		return fmt.Errorf("%w: %w", biz.ErrStorageBusy, err)
	}
	return err
}
