package router

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorCode classifies router failures.
type ErrorCode int

const (
	StoreUnavailable ErrorCode = iota + 1
	InvalidBlobID
	InvalidPutArgument
	BlobTooLarge
	BadInputChannel
	InsufficientCapacity
	BlobDoesNotExist
	BlobExpired
	BlobDeleted
	RangeNotSatisfiable
	OperationTimedOut
	RouterClosed
	UnexpectedInternalError
)

var codeNames = map[ErrorCode]string{
	StoreUnavailable:        "StoreUnavailable",
	InvalidBlobID:           "InvalidBlobID",
	InvalidPutArgument:      "InvalidPutArgument",
	BlobTooLarge:            "BlobTooLarge",
	BadInputChannel:         "BadInputChannel",
	InsufficientCapacity:    "InsufficientCapacity",
	BlobDoesNotExist:        "BlobDoesNotExist",
	BlobExpired:             "BlobExpired",
	BlobDeleted:             "BlobDeleted",
	RangeNotSatisfiable:     "RangeNotSatisfiable",
	OperationTimedOut:       "OperationTimedOut",
	RouterClosed:            "RouterClosed",
	UnexpectedInternalError: "UnexpectedInternalError",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "ErrorCode(" + strconv.Itoa(int(c)) + ")"
}

// Codes lists every known error code.
func Codes() []ErrorCode {
	out := make([]ErrorCode, 0, len(codeNames))
	for c := StoreUnavailable; c <= UnexpectedInternalError; c++ {
		out = append(out, c)
	}
	return out
}

// Error is a router failure carrying a code and a human readable message.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around cause.
func Wrap(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Code, true
	}
	return 0, false
}
