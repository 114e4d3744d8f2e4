package meta

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(id BlobID) Record {
	md := UserMetadata{}
	md.Set("x-blob-um-key1", "value1")
	md.Set("x-blob-um-key2", "value2")
	return Record{
		ID: id,
		Info: BlobInfo{
			Properties: BlobProperties{
				Size:         11,
				TTLSeconds:   7200,
				ServiceID:    "svc1",
				ContentType:  "text/plain",
				OwnerID:      "owner1",
				CreationTime: time.Unix(1700000000, 0).UTC(),
			},
			UserMetadata: md,
		},
		ShardID:    "shard-1",
		StoredSize: 11,
	}
}

func TestStores(t *testing.T) {
	bolt, err := NewBoltStore(BoltConfig{Path: filepath.Join(t.TempDir(), "meta.db")})
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	for name, store := range map[string]Store{"memory": NewMemoryStore(), "bolt": bolt} {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))

			rec := sampleRecord("blob-1")
			require.NoError(t, store.Put(ctx, rec))
			got, err := store.Get(ctx, "blob-1")
			require.NoError(t, err)
			assert.Equal(t, rec.Info.Properties, got.Info.Properties)
			assert.Equal(t, rec.Info.UserMetadata, got.Info.UserMetadata)
			assert.False(t, got.Deleted())

			at := time.Unix(1700000100, 0).UTC()
			deleted, err := store.MarkDeleted(ctx, "blob-1", at)
			require.NoError(t, err)
			assert.True(t, deleted.Deleted())
			again, err := store.MarkDeleted(ctx, "blob-1", at.Add(time.Hour))
			require.NoError(t, err)
			assert.True(t, again.DeletedAt.Equal(at), "tombstone time must not move")

			_, err = store.MarkDeleted(ctx, "missing", at)
			assert.True(t, errors.Is(err, ErrNotFound))

			var seen []BlobID
			require.NoError(t, store.ForEach(ctx, func(r Record) error {
				seen = append(seen, r.ID)
				return nil
			}))
			assert.Equal(t, []BlobID{"blob-1"}, seen)

			require.NoError(t, store.Delete(ctx, "blob-1"))
			_, err = store.Get(ctx, "blob-1")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestRecordExpiry(t *testing.T) {
	rec := sampleRecord("blob")
	created := rec.Info.Properties.CreationTime
	assert.False(t, rec.Expired(created.Add(7199*time.Second)))
	assert.True(t, rec.Expired(created.Add(7200*time.Second)))

	rec.Info.Properties.TTLSeconds = InfiniteTTL
	assert.False(t, rec.Expired(created.Add(100*365*24*time.Hour)))
}

func TestBlobPropertiesValidate(t *testing.T) {
	valid := BlobProperties{Size: 0, TTLSeconds: InfiniteTTL, ServiceID: "svc", ContentType: "text/plain"}
	assert.NoError(t, valid.Validate())

	testcases := []struct {
		name   string
		mutate func(*BlobProperties)
	}{
		{name: "negative size", mutate: func(p *BlobProperties) { p.Size = -1 }},
		{name: "ttl below infinite", mutate: func(p *BlobProperties) { p.TTLSeconds = -2 }},
		{name: "missing service id", mutate: func(p *BlobProperties) { p.ServiceID = " " }},
		{name: "missing content type", mutate: func(p *BlobProperties) { p.ContentType = "" }},
	}
	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestUserMetadataKeepsOrder(t *testing.T) {
	var md UserMetadata
	md.Set("b", "1")
	md.Set("a", "2")
	md.Set("b", "3")
	assert.Equal(t, UserMetadata{{Key: "b", Value: "3"}, {Key: "a", Value: "2"}}, md)
	v, ok := md.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	_, ok = md.Get("c")
	assert.False(t, ok)
	assert.Equal(t, 2, md.Len())
}
