// Package xerrors classifies errors that reach the transport.
package xerrors

import (
	"context"
	"errors"
	iofs "io/fs"
	"net/http"
)

// Kind classifies blobfront errors. The zero value is KindInternal.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindMissingArgs
	KindInvalidArgs
	KindInvalidRequestState
	KindNotFound
	KindGone
	KindDeleted
	KindRangeNotSatisfiable
	KindRequestTooLarge
	KindServiceUnavailable
	KindRequestResponseQueuingFailure
)

// Error wraps an underlying error with additional metadata.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Kind.String()
	if e.Op != "" {
		base = e.Op + ": " + base
	}
	if e.Path != "" {
		base += " " + e.Path
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad request"
	case KindMissingArgs:
		return "missing args"
	case KindInvalidArgs:
		return "invalid args"
	case KindInvalidRequestState:
		return "invalid request state"
	case KindNotFound:
		return "not found"
	case KindGone:
		return "gone"
	case KindDeleted:
		return "deleted"
	case KindRangeNotSatisfiable:
		return "range not satisfiable"
	case KindRequestTooLarge:
		return "request too large"
	case KindServiceUnavailable:
		return "service unavailable"
	case KindRequestResponseQueuingFailure:
		return "response queuing failure"
	default:
		return "internal server error"
	}
}

// HTTPStatus returns the status code a transport reports for kind.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest, KindMissingArgs, KindInvalidArgs, KindInvalidRequestState:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindGone, KindDeleted:
		return http.StatusGone
	case KindRangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case KindRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindServiceUnavailable, KindRequestResponseQueuingFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Wrap annotates err with the given metadata. If err is nil, Wrap returns nil.
func Wrap(kind Kind, op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// E creates a new error with the provided metadata (no underlying error).
func E(kind Kind, op, path string) error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// KindOf extracts the Kind from err, walking wrapped errors as needed.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, iofs.ErrInvalid):
		return KindInvalidArgs
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindServiceUnavailable
	default:
		return KindInternal
	}
}
