package source

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by data sources.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorKind classifies data-source failures.
type ErrorKind string

const (
	// KindNetwork is a transient transport or server failure. Retryable.
	KindNetwork ErrorKind = "network"

	// KindAuth means the caller is unauthenticated or the token was
	// rejected. Never retried; requires re-authentication.
	KindAuth ErrorKind = "auth"

	// KindValidation is caller-supplied bad input. Never retried.
	KindValidation ErrorKind = "validation"

	// KindConflict means the remote rejected a mutation due to stale
	// state. Triggers rollback plus refresh, not retry.
	KindConflict ErrorKind = "conflict"
)

// SourceError carries the classification alongside the transport detail.
type SourceError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s error (status %d): %s: %v",
			e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("source %s error (status %d): %s",
		e.Kind, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewError builds a SourceError of the given kind.
func NewError(kind ErrorKind, status int, msg string, err error) *SourceError {
	return &SourceError{Kind: kind, StatusCode: status, Message: msg, Err: err}
}

// KindOf extracts the error kind, or "" for unclassified errors.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsRetryable reports whether an error kind should be retried.
func IsRetryable(kind ErrorKind) bool {
	switch kind {
	case KindNetwork:
		// Transient transport/server failures should be retried
		return true
	case KindAuth:
		// Auth failures need a new token, retrying wastes requests
		return false
	case KindValidation:
		// Bad input stays bad
		return false
	case KindConflict:
		// Conflicts are resolved by rollback + refresh, not retry
		return false
	default:
		return false
	}
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusTooManyRequests || status >= 500:
		return KindNetwork
	default:
		return KindValidation
	}
}
