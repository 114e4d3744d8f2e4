package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacktea/blobfront/pkg/router"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

func TestParseRangeSpec(t *testing.T) {
	testcases := []struct {
		header string
		size   int64
		want   router.ByteRange
	}{
		{header: "bytes=0-0", size: 10, want: router.ByteRange{Start: 0, End: 0}},
		{header: "bytes=2-5", size: 10, want: router.ByteRange{Start: 2, End: 5}},
		{header: "bytes=4-", size: 10, want: router.ByteRange{Start: 4, End: 9}},
		{header: "bytes=4-100", size: 10, want: router.ByteRange{Start: 4, End: 9}},
		{header: "bytes=-3", size: 10, want: router.ByteRange{Start: 7, End: 9}},
		{header: "bytes=-30", size: 10, want: router.ByteRange{Start: 0, End: 9}},
		{header: "bytes= 1 - 2", size: 10, want: router.ByteRange{Start: 1, End: 2}},
	}
	for _, tc := range testcases {
		t.Run(tc.header, func(t *testing.T) {
			spec, err := parseRangeSpec(tc.header)
			require.NoError(t, err)
			got, err := spec.resolve(tc.size)
			require.NoError(t, err)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestParseRangeSpecRejects(t *testing.T) {
	for _, header := range []string{"", "items=1-2", "bytes=", "bytes=1-2,4-5", "bytes=-0", "bytes=a-2", "bytes=-1-2", "bytes=5-2", "bytes=1-b"} {
		_, err := parseRangeSpec(header)
		assert.Equal(t, xerrors.KindRangeNotSatisfiable, xerrors.KindOf(err), header)
	}
}

func TestResolveRejects(t *testing.T) {
	spec, err := parseRangeSpec("bytes=10-12")
	require.NoError(t, err)
	_, err = spec.resolve(10)
	assert.Equal(t, xerrors.KindRangeNotSatisfiable, xerrors.KindOf(err))

	spec, err = parseRangeSpec("bytes=0-")
	require.NoError(t, err)
	_, err = spec.resolve(0)
	assert.Equal(t, xerrors.KindRangeNotSatisfiable, xerrors.KindOf(err))
}

func TestContentRange(t *testing.T) {
	assert.Equal(t, "bytes 2-5/10", contentRange(&router.ByteRange{Start: 2, End: 5}, 10))
}
