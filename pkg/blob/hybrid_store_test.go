package blob

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[ID][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[ID][]byte)}
}

func (m *memoryStore) Put(ctx context.Context, id ID, r io.Reader, size int64) (int64, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if size >= 0 && int64(len(buf)) != size {
		return 0, ErrSizeMismatch
	}
	m.mu.Lock()
	m.data[id] = buf
	m.mu.Unlock()
	return int64(len(buf)), nil
}

func (m *memoryStore) Get(ctx context.Context, id ID) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[id]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), int64(len(data)), nil
}

func (m *memoryStore) Delete(ctx context.Context, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return ErrNotFound
	}
	delete(m.data, id)
	return nil
}

func (m *memoryStore) Exists(ctx context.Context, id ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[id]
	return ok, nil
}

func TestHybridStoreMirrorsWrites(t *testing.T) {
	ctx := context.Background()
	primary := newMemoryStore()
	secondary := newMemoryStore()
	hybrid, err := NewHybridStore(primary, secondary, HybridOptions{MirrorSecondary: true})
	if err != nil {
		t.Fatalf("new hybrid: %v", err)
	}
	if _, err := hybrid.Put(ctx, "shard-1", bytes.NewReader([]byte("hello")), 5); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, _ := primary.Exists(ctx, "shard-1"); !ok {
		t.Fatalf("primary missing shard")
	}
	if ok, _ := secondary.Exists(ctx, "shard-1"); !ok {
		t.Fatalf("secondary missing shard")
	}
}

func TestHybridStoreMirrorsNonSeekableWrites(t *testing.T) {
	ctx := context.Background()
	primary := newMemoryStore()
	secondary := newMemoryStore()
	hybrid, err := NewHybridStore(primary, secondary, HybridOptions{MirrorSecondary: true})
	if err != nil {
		t.Fatalf("new hybrid: %v", err)
	}
	if _, err := hybrid.Put(ctx, "shard-2", io.LimitReader(bytes.NewReader([]byte("streamed")), 8), -1); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, _, err := secondary.Get(ctx, "shard-2")
	if err != nil {
		t.Fatalf("secondary get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "streamed" {
		t.Fatalf("unexpected mirrored body %q", body)
	}
}

func TestHybridStoreCachesOnRead(t *testing.T) {
	ctx := context.Background()
	primary := newMemoryStore()
	secondary := newMemoryStore()
	hybrid, err := NewHybridStore(primary, secondary, HybridOptions{MirrorSecondary: true, CacheOnRead: true})
	if err != nil {
		t.Fatalf("new hybrid: %v", err)
	}
	if _, err := hybrid.Put(ctx, "shard-3", bytes.NewReader([]byte("payload")), 7); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Simulate primary loss.
	primary.Delete(ctx, "shard-3")
	r, _, err := hybrid.Get(ctx, "shard-3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(r)
	r.Close()
	if string(body) != "payload" {
		t.Fatalf("unexpected body %q", string(body))
	}
	if ok, _ := primary.Exists(ctx, "shard-3"); !ok {
		t.Fatalf("expected cache refill in primary")
	}
}

func TestHybridStoreDeleteRemovesBothStores(t *testing.T) {
	ctx := context.Background()
	primary := newMemoryStore()
	secondary := newMemoryStore()
	hybrid, err := NewHybridStore(primary, secondary, HybridOptions{MirrorSecondary: true})
	if err != nil {
		t.Fatalf("new hybrid: %v", err)
	}
	if _, err := hybrid.Put(ctx, "shard-4", bytes.NewReader([]byte("gc-data")), 7); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := hybrid.Delete(ctx, "shard-4"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := primary.Exists(ctx, "shard-4"); ok {
		t.Fatalf("primary still has data after delete")
	}
	if ok, _ := secondary.Exists(ctx, "shard-4"); ok {
		t.Fatalf("secondary still has data after delete")
	}
	if err := hybrid.Delete(ctx, "shard-4"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
