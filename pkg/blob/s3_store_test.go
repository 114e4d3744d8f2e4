package blob

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeS3Store(t *testing.T) *S3Store {
	t.Helper()
	faker := gofakes3.New(s3mem.New())
	server := httptest.NewServer(faker.Server())
	t.Cleanup(server.Close)

	store, err := NewS3Store(S3Config{
		Endpoint:  server.URL,
		Bucket:    "shards",
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test-secret",
		Prefix:    "blobfront",
	})
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(context.Background(), "us-east-1"))
	return store
}

func TestS3StoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newFakeS3Store(t)
	id := ID("0123456789abcdef")

	ok, err := store.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Put(ctx, id, strings.NewReader("object-body"), 11)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	ok, err = store.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, size, err := store.Get(ctx, id)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
	assert.Equal(t, "object-body", string(body))

	require.NoError(t, store.Delete(ctx, id))
	_, _, err = store.Get(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestS3StoreBehindShards(t *testing.T) {
	ctx := context.Background()
	shards := &Shards{Store: newFakeS3Store(t), TempDir: t.TempDir()}
	shard, err := shards.Put(ctx, strings.NewReader("via shards"), 10)
	require.NoError(t, err)
	rc, err := shards.Open(ctx, shard.ID, false)
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "via shards", string(body))
}
