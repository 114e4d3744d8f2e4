package xerrors

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"net/http"
	"os"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	wrapped := Wrap(KindDeleted, "op", "", errors.New("boom"))

	testcases := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "nil", err: nil, kind: KindInternal},
		{name: "wrapped error", err: wrapped, kind: KindDeleted},
		{name: "double wrapped", err: fmt.Errorf("outer: %w", wrapped), kind: KindDeleted},
		{name: "iofs not exist", err: iofs.ErrNotExist, kind: KindNotFound},
		{name: "os not exist", err: os.ErrNotExist, kind: KindNotFound},
		{name: "iofs invalid", err: iofs.ErrInvalid, kind: KindInvalidArgs},
		{name: "deadline", err: context.DeadlineExceeded, kind: KindServiceUnavailable},
		{name: "unknown error defaults internal", err: errors.New("other"), kind: KindInternal},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.kind {
				t.Fatalf("KindOf() = %v, want %v", got, tc.kind)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	testcases := map[Kind]int{
		KindBadRequest:                    http.StatusBadRequest,
		KindMissingArgs:                   http.StatusBadRequest,
		KindInvalidArgs:                   http.StatusBadRequest,
		KindInvalidRequestState:           http.StatusBadRequest,
		KindNotFound:                      http.StatusNotFound,
		KindGone:                          http.StatusGone,
		KindDeleted:                       http.StatusGone,
		KindRangeNotSatisfiable:           http.StatusRequestedRangeNotSatisfiable,
		KindRequestTooLarge:               http.StatusRequestEntityTooLarge,
		KindServiceUnavailable:            http.StatusServiceUnavailable,
		KindRequestResponseQueuingFailure: http.StatusServiceUnavailable,
		KindInternal:                      http.StatusInternalServerError,
	}
	for kind, want := range testcases {
		if got := HTTPStatus(kind); got != want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestErrorMessageKeepsCause(t *testing.T) {
	err := Wrap(KindNotFound, "GetBlob", "abc", errors.New("blob abc does not exist"))
	if !strings.Contains(err.Error(), "blob abc does not exist") {
		t.Fatalf("message lost cause: %q", err.Error())
	}
	if !strings.HasPrefix(err.Error(), "GetBlob: not found abc") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if Wrap(KindNotFound, "op", "", nil) != nil {
		t.Fatalf("Wrap(nil) must stay nil")
	}
}
