package models

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStorage          = errors.New("storage failure")
)

// ErrorKind is the caller-visible classification of a rejected operation.
type ErrorKind string

const (
	KindForbidden        ErrorKind = "forbidden"
	KindInvalidOperation ErrorKind = "invalid_operation"
	KindNotFound         ErrorKind = "not_found"
	KindInvalidInput     ErrorKind = "invalid_input"
	KindStorage          ErrorKind = "storage_failure"
)

// KindOf classifies err. Errors wrapping ErrStorage, and any unclassified
// error, are reported as storage failures.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidOperation):
		return KindInvalidOperation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindStorage
	}
}
