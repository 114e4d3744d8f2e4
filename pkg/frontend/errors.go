package frontend

import (
	"errors"
	"fmt"

	"github.com/jacktea/blobfront/pkg/router"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

// ErrNullResult reports a completion that carried neither a result nor an
// error.
var ErrNullResult = errors.New("unexpected null result")

var errNilArgument = errors.New("request and response channel are required")

// routerErrorKinds has one entry per router.ErrorCode.
var routerErrorKinds = map[router.ErrorCode]xerrors.Kind{
	router.StoreUnavailable:        xerrors.KindServiceUnavailable,
	router.InvalidBlobID:           xerrors.KindNotFound,
	router.InvalidPutArgument:      xerrors.KindInvalidArgs,
	router.BlobTooLarge:            xerrors.KindRequestTooLarge,
	router.BadInputChannel:         xerrors.KindBadRequest,
	router.InsufficientCapacity:    xerrors.KindServiceUnavailable,
	router.BlobDoesNotExist:        xerrors.KindNotFound,
	router.BlobExpired:             xerrors.KindGone,
	router.BlobDeleted:             xerrors.KindDeleted,
	router.RangeNotSatisfiable:     xerrors.KindRangeNotSatisfiable,
	router.OperationTimedOut:       xerrors.KindServiceUnavailable,
	router.RouterClosed:            xerrors.KindServiceUnavailable,
	router.UnexpectedInternalError: xerrors.KindInternal,
}

// KindForCode returns the transport kind for a router code. ok is false for
// codes without a mapping, which are reported as internal errors.
func KindForCode(code router.ErrorCode) (kind xerrors.Kind, ok bool) {
	kind, ok = routerErrorKinds[code]
	if !ok {
		return xerrors.KindInternal, false
	}
	return kind, true
}

// TranslateError converts a router error into a transport error whose
// message contains the router's. Other errors are returned unchanged.
func TranslateError(op string, err error) error {
	code, ok := router.CodeOf(err)
	if !ok {
		return err
	}
	kind, _ := KindForCode(code)
	return xerrors.Wrap(kind, op, "", err)
}

func nullResult(op string) error {
	return xerrors.Wrap(xerrors.KindInternal, op, "", ErrNullResult)
}

// protect runs fn and reports a panic as an internal error.
func protect(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Wrap(xerrors.KindInternal, op, "", fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}
