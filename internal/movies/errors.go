package movies

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input. Detected before any mutation.
	ErrValidation = errors.New("movies: invalid input")
	// ErrNotFound marks a referenced movie or review that does not exist.
	ErrNotFound = errors.New("movies: not found")
	// ErrStorage marks an unreachable store, a failed query or an expired store deadline.
	ErrStorage = errors.New("movies: storage failure")

	errMissingDatabase = errors.New("database handle is required")
)

const (
	reasonMissingDatabase = "missing_database"
	reasonTimeout         = "timeout"
	reasonQueryFailed     = "query_failed"
	reasonNotFound        = "not_found"
)

// ServiceError carries an error kind, a stable code of the form
// <operation>.<reason> and the underlying cause.
type ServiceError struct {
	kind error
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Is matches the kind sentinel so callers can use errors.Is(err, ErrNotFound).
func (e *ServiceError) Is(target error) bool {
	return target == e.kind
}

func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns one of ErrValidation, ErrNotFound or ErrStorage.
func (e *ServiceError) Kind() error {
	return e.kind
}

func newServiceError(kind error, operation, reason string, cause error) error {
	return &ServiceError{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func validationError(operation, reason string, cause error) error {
	return newServiceError(ErrValidation, operation, reason, cause)
}

func notFoundError(operation string, cause error) error {
	return newServiceError(ErrNotFound, operation, reasonNotFound, cause)
}

// storageError keeps deadline expiry distinguishable from other store failures.
func storageError(operation, reason string, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = reasonTimeout
	}
	return newServiceError(ErrStorage, operation, reason, cause)
}

// ConsistencyWarning reports that a review write committed but the parent
// movie's average rating could not be refreshed. The movie has been queued
// for reconciliation.
type ConsistencyWarning struct {
	MovieID  int64
	Attempts int
	err      error
}

func (w *ConsistencyWarning) Error() string {
	return fmt.Sprintf("movies: average rating for movie %d is stale after %d attempts: %v", w.MovieID, w.Attempts, w.err)
}

func (w *ConsistencyWarning) Unwrap() error {
	return w.err
}
