package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Error categories surfaced to callers. Every error returned by the ledger
// services wraps exactly one of these, so callers branch with errors.Is and
// show the wrapped message as the human-readable reason.
var (
	// ErrInsufficientStock means demand could not be covered by available stock.
	// For Reserve it is non-fatal: the order enters FAILED and may be retried.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition means a state-machine guard was violated.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConstraintViolation means a mutation would break a stock invariant
	// or a referential rule. The enclosing transaction is always rolled back.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrNotFound means a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput means the request itself is malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict means the transaction lost a deadlock or serialization
	// race against a concurrent writer. Nothing was applied and the same
	// call may be retried.
	ErrConflict = errors.New("concurrent update conflict")
)

// PostgreSQL SQLSTATE codes mapped to ErrConstraintViolation.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// SQLSTATE codes for transactions aborted by a concurrent writer.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsConflict reports whether err is ErrConflict or carries a PostgreSQL
// deadlock or serialization failure from any depth of wrapping.
func IsConflict(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// notFoundOr converts pgx.ErrNoRows into ErrNotFound with the given subject,
// and wraps every other error with the failing action.
func notFoundOr(err error, subject, action string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, subject)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// classifyPgError maps integrity violations raised by the database to
// ErrConstraintViolation and aborted transactions to ErrConflict. Other
// errors are wrapped with the action unchanged.
func classifyPgError(err error, action string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation, pgUniqueViolation, pgCheckViolation:
			return fmt.Errorf("%w: %s: %s", ErrConstraintViolation, action, pgErr.Message)
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s: %s", ErrConflict, action, pgErr.Message)
		}
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}
