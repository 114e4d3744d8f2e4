package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacktea/blobfront/pkg/meta"
)

func testRecord() meta.Record {
	var md meta.UserMetadata
	md.Set("x-blob-um-color", "blue")
	return meta.Record{
		ID: "blob-42",
		Info: meta.BlobInfo{
			Properties: meta.BlobProperties{
				Size:         3,
				TTLSeconds:   meta.InfiniteTTL,
				ServiceID:    "svc1",
				ContentType:  "text/plain",
				CreationTime: time.Unix(1700000000, 0).UTC(),
			},
			UserMetadata: md,
		},
		ShardID:    "shard",
		StoredSize: 3,
	}
}

func exerciseRecordCache(t *testing.T, c RecordCache) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "blob-42")
	require.NoError(t, err)
	assert.False(t, ok)

	rec := testRecord()
	require.NoError(t, c.Set(ctx, rec))
	got, ok, err := c.Get(ctx, "blob-42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.ShardID, got.ShardID)
	assert.Equal(t, rec.Info.UserMetadata, got.Info.UserMetadata)
	assert.Equal(t, rec.Info.Properties.ServiceID, got.Info.Properties.ServiceID)
	assert.True(t, rec.Info.Properties.CreationTime.Equal(got.Info.Properties.CreationTime))
	assert.False(t, got.Deleted())

	require.NoError(t, c.Delete(ctx, "blob-42"))
	_, ok, err = c.Get(ctx, "blob-42")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRecordCache(t *testing.T) {
	c := NewMemoryRecordCache(8, time.Minute)
	defer c.Close()
	exerciseRecordCache(t, c)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestMemoryRecordCacheCopiesMetadata(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryRecordCache(8, 0)
	defer c.Close()
	rec := testRecord()
	require.NoError(t, c.Set(ctx, rec))
	rec.Info.UserMetadata[0].Value = "mutated"
	got, _, _ := c.Get(ctx, rec.ID)
	assert.Equal(t, "blue", got.Info.UserMetadata[0].Value)
}

func TestRedisRecordCache(t *testing.T) {
	server := miniredis.RunT(t)
	c, err := NewRedisRecordCache(context.Background(), server.Addr(), time.Minute)
	require.NoError(t, err)
	defer c.Close()
	exerciseRecordCache(t, c)
}

func TestRedisRecordCacheExpires(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	c := NewRedisRecordCacheWithClient(redis.NewClient(&redis.Options{Addr: server.Addr()}), time.Minute)
	defer c.Close()

	require.NoError(t, c.Set(ctx, testRecord()))
	server.FastForward(2 * time.Minute)
	_, ok, err := c.Get(ctx, "blob-42")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisRecordCacheUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()
	_, err := NewRedisRecordCache(context.Background(), addr, time.Minute)
	assert.Error(t, err)
}

func TestNoOpCache(t *testing.T) {
	ctx := context.Background()
	var c RecordCache = NoOpCache{}
	require.NoError(t, c.Set(ctx, testRecord()))
	_, ok, err := c.Get(ctx, "blob-42")
	require.NoError(t, err)
	assert.False(t, ok)
}
