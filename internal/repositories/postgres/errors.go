package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeTooManyConnections   = "53300"
	codeAdminShutdown        = "57P01"
)

// Error implements repositories.RepositoryError for Postgres backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a constraint or guard conflict.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

func notFoundError(op string, err error) *Error {
	return &Error{op: op, err: err, notFound: true}
}

func conflictError(op string, err error) *Error {
	return &Error{op: op, err: err, conflict: true}
}

// wrapError annotates driver errors with repository semantics. Context errors pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr
	}

	e := &Error{op: op, err: err}
	if errors.Is(err, pgx.ErrNoRows) {
		e.notFound = true
		return e
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeForeignKeyViolation, codeCheckViolation:
			e.conflict = true
		case codeSerializationFailure, codeDeadlockDetected, codeTooManyConnections, codeAdminShutdown:
			e.unavailable = true
		}
		return e
	}

	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		e.unavailable = true
	}
	return e
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
