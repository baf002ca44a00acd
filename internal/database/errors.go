package database

import (
	"context"
	"errors"

	"tourbook/internal/domain"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// classify maps driver errors to the domain taxonomy. Domain errors pass through.
func classify(op string, err error) error {
	if err == nil || isDomain(err) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.PersistenceError{Op: op, Transient: true, Err: err}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
			return domain.ConflictError{Resource: op, Msg: "database is busy", Err: err}
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return domain.ConflictError{Resource: op, Msg: "duplicate write", Err: err}
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return domain.ConflictError{Resource: op, Msg: "serialization failure", Err: err}
		case "23505":
			return domain.ConflictError{Resource: op, Msg: "duplicate write", Err: err}
		}
	}

	return domain.PersistenceError{Op: op, Err: err}
}

func isDomain(err error) bool {
	return domain.IsNotFound(err) ||
		domain.IsValidation(err) ||
		domain.IsCapacityExceeded(err) ||
		domain.IsNothingToSettle(err) ||
		domain.IsConflict(err) ||
		domain.IsPersistence(err)
}
