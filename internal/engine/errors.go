package engine

import (
	"errors"
	"fmt"

	"ringi/internal/db"
	"ringi/internal/engine/auth"
	"ringi/internal/repo"
)

// ErrNotFound matches every NotFoundError via errors.Is.
var ErrNotFound = repo.ErrNotFound

type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string { return e.Entity + " not found" }

func (e *NotFoundError) Unwrap() error { return repo.ErrNotFound }

// ConflictError reports a stale version. The caller should refetch and retry.
type ConflictError struct {
	Entity string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s was updated by another request; fetch the latest state and retry", e.Entity)
}

// BadRequestError wraps input validation and illegal transitions.
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string { return e.Err.Error() }

func (e *BadRequestError) Unwrap() error { return e.Err }

// InternalError keeps the cause for logs and hides it from Error.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string { return "internal error" }

func (e *InternalError) Unwrap() error { return e.Err }

// Cause renders the wrapped failure for logging.
func (e *InternalError) Cause() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

// UnavailableError reports a store timeout. The request may be retried.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "storage temporarily unavailable; retry later"
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Retryable() bool { return true }

func badRequest(err error) error {
	return &BadRequestError{Err: err}
}

func classified(err error) bool {
	var (
		nf *NotFoundError
		ce *ConflictError
		br *BadRequestError
		ie *InternalError
		ue *UnavailableError
		fe auth.ForbiddenError
	)
	return errors.As(err, &nf) || errors.As(err, &ce) || errors.As(err, &br) ||
		errors.As(err, &ie) || errors.As(err, &ue) || errors.As(err, &fe)
}

// storeErr maps a storage failure onto the engine taxonomy. Already
// classified errors pass through unchanged.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case classified(err):
		return err
	case db.IsTimeout(err):
		return &UnavailableError{Err: fmt.Errorf("%s: %w", op, err)}
	default:
		return &InternalError{Op: op, Err: err}
	}
}

// lookupErr maps a repository read, turning repo.ErrNotFound into a
// NotFoundError for entity.
func lookupErr(entity string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &NotFoundError{Entity: entity}
	}
	if errors.Is(err, repo.ErrTenantRequired) {
		return badRequest(err)
	}
	return storeErr("load "+entity, err)
}

// updateErr turns a version-checked update outcome into an error.
func updateErr(entity string, res repo.UpdateResult, err error) error {
	if err != nil {
		return storeErr("update "+entity, err)
	}
	switch res {
	case repo.Updated:
		return nil
	case repo.Conflict:
		return &ConflictError{Entity: entity}
	default:
		return &NotFoundError{Entity: entity}
	}
}

// resultLabel names the outcome of an operation for metrics.
func resultLabel(err error) string {
	var (
		nf *NotFoundError
		ce *ConflictError
		br *BadRequestError
		ue *UnavailableError
		fe auth.ForbiddenError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &ce):
		return "conflict"
	case errors.As(err, &fe):
		return "forbidden"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &br):
		return "bad_request"
	case errors.As(err, &ue):
		return "unavailable"
	default:
		return "internal"
	}
}
