package gc

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/jacktea/blobfront/pkg/blob"
	"github.com/jacktea/blobfront/pkg/cache"
	"github.com/jacktea/blobfront/pkg/meta"
)

func newShards(t *testing.T) *blob.Shards {
	t.Helper()
	store, err := blob.NewPathStore(t.TempDir())
	if err != nil {
		t.Fatalf("path store: %v", err)
	}
	return &blob.Shards{Store: store, TempDir: t.TempDir()}
}

func putShard(t *testing.T, shards *blob.Shards, store meta.Store, content string) string {
	t.Helper()
	ctx := context.Background()
	shard, err := shards.Put(ctx, bytes.NewBufferString(content), int64(len(content)))
	if err != nil {
		t.Fatalf("put shard: %v", err)
	}
	if _, err := store.IncRef(ctx, string(shard.ID), 1); err != nil {
		t.Fatalf("inc ref: %v", err)
	}
	return string(shard.ID)
}

func shardExists(t *testing.T, shards *blob.Shards, id string) bool {
	t.Helper()
	ok, err := shards.Store.Exists(context.Background(), blob.ID(id))
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	return ok
}

func TestSweeperRemovesPendingShards(t *testing.T) {
	ctx := context.Background()
	store := meta.NewMemoryStore()
	shards := newShards(t)
	logger, _ := test.NewNullLogger()
	shardID := putShard(t, shards, store, "orphan")
	refs := &meta.RefTracker{Store: store}
	if err := refs.Release(ctx, shardID); err != nil {
		t.Fatalf("release: %v", err)
	}

	sweeper := NewSweeper(Options{Store: store, Shards: shards, BatchSize: 1, Logger: logger})
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Shards != 1 {
		t.Fatalf("expected 1 deletion, got %+v", report)
	}
	if shardExists(t, shards, shardID) {
		t.Fatalf("expected %s deleted", shardID)
	}
	pending, err := store.ListZeroRef(ctx, 1)
	if err != nil {
		t.Fatalf("list zero: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty pending queue, got %v", pending)
	}

	// a second pass has nothing left to do
	report, err = sweeper.Sweep(ctx)
	if err != nil || report != (Report{}) {
		t.Fatalf("second sweep = %+v, %v", report, err)
	}
}

func TestSweeperPurgesDeadRecords(t *testing.T) {
	ctx := context.Background()
	store := meta.NewMemoryStore()
	shards := newShards(t)
	records := cache.NewMemoryRecordCache(16, 0)
	defer records.Close()
	logger, _ := test.NewNullLogger()
	now := time.Unix(1700000000, 0).UTC()
	retention := time.Hour

	record := func(id meta.BlobID, shardID string, created time.Time, ttl int64, deletedAt time.Time) meta.Record {
		rec := meta.Record{ID: id, ShardID: shardID, DeletedAt: deletedAt}
		rec.Info.Properties = meta.BlobProperties{Size: 1, TTLSeconds: ttl, ServiceID: "svc1", ContentType: "text/plain", CreationTime: created}
		if err := store.Put(ctx, rec); err != nil {
			t.Fatalf("put record: %v", err)
		}
		return rec
	}
	live := putShard(t, shards, store, "live")
	oldExpired := putShard(t, shards, store, "old expired")
	freshExpired := putShard(t, shards, store, "fresh expired")

	record("live", live, now.Add(-48*time.Hour), meta.InfiniteTTL, time.Time{})
	stale := record("stale", oldExpired, now.Add(-3*time.Hour), 60, time.Time{})
	record("recent", freshExpired, now.Add(-30*time.Minute), 60, time.Time{})
	record("old-tombstone", "", now.Add(-5*time.Hour), meta.InfiniteTTL, now.Add(-2*time.Hour))
	record("new-tombstone", "", now.Add(-5*time.Hour), meta.InfiniteTTL, now.Add(-time.Minute))
	if err := records.Set(ctx, stale); err != nil {
		t.Fatalf("cache set: %v", err)
	}

	sweeper := NewSweeper(Options{
		Store:     store,
		Shards:    shards,
		Cache:     records,
		Retention: retention,
		Now:       func() time.Time { return now },
		Logger:    logger,
	})
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report != (Report{Expired: 1, Tombstones: 1, Shards: 1}) {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, id := range []meta.BlobID{"live", "recent", "new-tombstone"} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Fatalf("%s should survive: %v", id, err)
		}
	}
	for _, id := range []meta.BlobID{"stale", "old-tombstone"} {
		if _, err := store.Get(ctx, id); err == nil {
			t.Fatalf("%s should be purged", id)
		}
	}
	if shardExists(t, shards, oldExpired) {
		t.Fatalf("shard of the purged blob should be gone")
	}
	if !shardExists(t, shards, live) || !shardExists(t, shards, freshExpired) {
		t.Fatalf("referenced shards must survive")
	}
	if _, ok, _ := records.Get(ctx, "stale"); ok {
		t.Fatalf("purged record still cached")
	}
}

func TestSweeperNeedsStores(t *testing.T) {
	if _, err := NewSweeper(Options{}).Sweep(context.Background()); err == nil {
		t.Fatalf("expected an error without stores")
	}
}

func TestSweeperStartStops(t *testing.T) {
	store := meta.NewMemoryStore()
	shards := newShards(t)
	logger, _ := test.NewNullLogger()
	shardID := putShard(t, shards, store, "background")
	if err := (&meta.RefTracker{Store: store}).Release(context.Background(), shardID); err != nil {
		t.Fatalf("release: %v", err)
	}
	cancel := NewSweeper(Options{Store: store, Shards: shards, Logger: logger}).Start(context.Background(), time.Hour)
	defer cancel()
	deadline := time.Now().Add(2 * time.Second)
	for shardExists(t, shards, shardID) {
		if time.Now().After(deadline) {
			t.Fatalf("background sweep never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
