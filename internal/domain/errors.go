package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure. Retry policy is a pure function
// over the kind, so errors are routed as data rather than control flow.
type ErrorKind string

const (
	// RemoteUnavailable covers network failures, timeouts and expired
	// credentials. Credential refresh is an external concern.
	RemoteUnavailable ErrorKind = "remote_unavailable"
	// RemoteRateLimited is explicit or inferred throttling by the remote.
	RemoteRateLimited ErrorKind = "remote_rate_limited"
	// RemotePayloadError is malformed or incomplete content from the remote.
	RemotePayloadError ErrorKind = "remote_payload_error"
	// StorageWriteError means the object store rejected or failed a write.
	StorageWriteError ErrorKind = "storage_write_error"
	// TransientStoreError means the index store is momentarily unavailable.
	TransientStoreError ErrorKind = "transient_store_error"
	// ConstraintViolation signals a broken uniqueness or integrity
	// invariant in the index. It is never retried and always surfaced.
	ConstraintViolation ErrorKind = "constraint_violation"
)

// Retryable reports whether failures of this kind are worth retrying
// with backoff.
func (k ErrorKind) Retryable() bool {
	switch k {
	case RemoteUnavailable, RemoteRateLimited, TransientStoreError:
		return true
	default:
		return false
	}
}

// Error is a pipeline failure tagged with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from err, defaulting to RemoteUnavailable for
// untagged errors so that unknown failures stay retryable rather than
// being dropped on the first attempt.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return RemoteUnavailable
}
