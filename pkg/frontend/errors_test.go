package frontend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacktea/blobfront/pkg/router"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

func TestEveryRouterCodeHasAKind(t *testing.T) {
	require.Len(t, routerErrorKinds, len(router.Codes()))
	for _, code := range router.Codes() {
		_, ok := KindForCode(code)
		assert.True(t, ok, code.String())
	}
	kind, ok := KindForCode(router.ErrorCode(99))
	assert.False(t, ok)
	assert.Equal(t, xerrors.KindInternal, kind)
}

func TestTranslateError(t *testing.T) {
	testcases := []struct {
		code router.ErrorCode
		kind xerrors.Kind
	}{
		{router.UnexpectedInternalError, xerrors.KindInternal},
		{router.BlobDoesNotExist, xerrors.KindNotFound},
		{router.InvalidBlobID, xerrors.KindNotFound},
		{router.BlobExpired, xerrors.KindGone},
		{router.BlobDeleted, xerrors.KindDeleted},
		{router.BlobTooLarge, xerrors.KindRequestTooLarge},
		{router.BadInputChannel, xerrors.KindBadRequest},
		{router.RouterClosed, xerrors.KindServiceUnavailable},
		{router.ErrorCode(99), xerrors.KindInternal},
	}
	for _, tc := range testcases {
		t.Run(tc.code.String(), func(t *testing.T) {
			cause := router.Errorf(tc.code, "original message")
			err := TranslateError("HandleGet", cause)
			assert.Equal(t, tc.kind, xerrors.KindOf(err))
			assert.Contains(t, err.Error(), "original message")
			assert.ErrorIs(t, err, cause)
		})
	}

	plain := errors.New("not from the router")
	assert.Same(t, plain, TranslateError("HandleGet", plain))
	assert.NoError(t, TranslateError("HandleGet", nil))
}

func TestProtectRecoversPanics(t *testing.T) {
	err := protect("op", func() error { panic("kaboom") })
	assert.Equal(t, xerrors.KindInternal, xerrors.KindOf(err))
	assert.Contains(t, err.Error(), "kaboom")

	want := errors.New("plain")
	assert.Same(t, want, protect("op", func() error { return want }))
}
