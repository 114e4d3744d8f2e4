package meta

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryStoreGCQueue(t *testing.T) {
	exerciseGCQueue(t, NewMemoryStore())
}

func TestBoltStoreGCQueue(t *testing.T) {
	store, err := NewBoltStore(BoltConfig{Path: filepath.Join(t.TempDir(), "meta.db")})
	if err != nil {
		t.Fatalf("new bolt store: %v", err)
	}
	defer store.Close()
	exerciseGCQueue(t, store)
}

func exerciseGCQueue(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	tracker := &RefTracker{Store: store}

	if err := tracker.Acquire(ctx, "shard-a"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := tracker.Acquire(ctx, "shard-a"); err != nil {
		t.Fatalf("acquire twice: %v", err)
	}
	if err := tracker.Release(ctx, "shard-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	pending, err := store.ListZeroRef(ctx, 10)
	if err != nil {
		t.Fatalf("list zero: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("shard still referenced, got pending %v", pending)
	}
	if err := tracker.Release(ctx, "shard-a"); err != nil {
		t.Fatalf("final release: %v", err)
	}
	pending, err = store.ListZeroRef(ctx, 10)
	if err != nil {
		t.Fatalf("list zero: %v", err)
	}
	if len(pending) != 1 || pending[0] != "shard-a" {
		t.Fatalf("expected shard-a pending, got %v", pending)
	}
	if err := store.MarkGCComplete(ctx, "shard-a"); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	pending, err = store.ListZeroRef(ctx, 1)
	if err != nil {
		t.Fatalf("list zero second: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending shards, got %v", pending)
	}
}

func TestBoltStoreReopenKeepsQueue(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meta.db")
	store, err := NewBoltStore(BoltConfig{Path: path})
	if err != nil {
		t.Fatalf("new bolt store: %v", err)
	}
	if err := store.DecideGC(ctx, "shard-b", 0); err != nil {
		t.Fatalf("decide gc: %v", err)
	}
	store.Close()

	reopened, err := NewBoltStore(BoltConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	pending, err := reopened.ListZeroRef(ctx, 1)
	if err != nil {
		t.Fatalf("list zero reopened: %v", err)
	}
	if len(pending) != 1 || pending[0] != "shard-b" {
		t.Fatalf("expected shard-b pending after reopen, got %v", pending)
	}
}
