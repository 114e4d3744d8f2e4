package meta

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no record exists for a blob id.
var ErrNotFound = errors.New("meta: record not found")

// Record is the persisted form of a blob.
type Record struct {
	ID         BlobID    `json:"id"`
	Info       BlobInfo  `json:"info"`
	ShardID    string    `json:"shard_id"`
	StoredSize int64     `json:"stored_size"`
	Encrypted  bool      `json:"encrypted,omitempty"`
	DeletedAt  time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the record is a tombstone.
func (r Record) Deleted() bool { return !r.DeletedAt.IsZero() }

// Expired reports whether the blob TTL has elapsed at now.
func (r Record) Expired(now time.Time) bool {
	at, ok := r.Info.Properties.ExpiresAt()
	return ok && !now.Before(at)
}

// Store persists blob records and the reference counts of the shards they
// point at.
type Store interface {
	Get(ctx context.Context, id BlobID) (Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id BlobID) error
	// MarkDeleted turns a live record into a tombstone and returns it.
	MarkDeleted(ctx context.Context, id BlobID, at time.Time) (Record, error)
	// ForEach visits every record; returning an error stops the walk.
	ForEach(ctx context.Context, fn func(Record) error) error

	IncRef(ctx context.Context, shardID string, delta int) (int, error)
	DecideGC(ctx context.Context, shardID string, refs int) error
	ListZeroRef(ctx context.Context, limit int) ([]string, error)
	MarkGCComplete(ctx context.Context, shardID string) error
}

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[BlobID]Record
	shards    map[string]int
	pendingGC map[string]struct{}
}

// NewMemoryStore creates an empty metadata store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[BlobID]Record),
		shards:    make(map[string]int),
		pendingGC: make(map[string]struct{}),
	}
}

func (m *MemoryStore) Get(ctx context.Context, id BlobID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Info.UserMetadata = rec.Info.UserMetadata.Clone()
	return rec, nil
}

func (m *MemoryStore) Put(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Info.UserMetadata = rec.Info.UserMetadata.Clone()
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id BlobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) MarkDeleted(ctx context.Context, id BlobID, at time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !rec.Deleted() {
		rec.DeletedAt = at
		m.records[id] = rec
	}
	return rec, nil
}

func (m *MemoryStore) ForEach(ctx context.Context, fn func(Record) error) error {
	m.mu.RLock()
	snapshot := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		snapshot = append(snapshot, rec)
	}
	m.mu.RUnlock()
	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) IncRef(ctx context.Context, shardID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shards[shardID] += delta
	if m.shards[shardID] <= 0 {
		delete(m.shards, shardID)
		return 0, nil
	}
	delete(m.pendingGC, shardID)
	return m.shards[shardID], nil
}

func (m *MemoryStore) DecideGC(ctx context.Context, shardID string, refs int) error {
	if refs > 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingGC[shardID] = struct{}{}
	return nil
}

func (m *MemoryStore) ListZeroRef(ctx context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for shardID := range m.pendingGC {
		out = append(out, shardID)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkGCComplete(ctx context.Context, shardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pendingGC, shardID)
	return nil
}
