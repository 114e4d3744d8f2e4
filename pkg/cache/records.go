package cache

import (
	"context"
	"time"

	"github.com/jacktea/blobfront/pkg/meta"
)

// RecordCache caches blob records read from the metadata store. A miss is
// reported with ok == false; err is reserved for backend failures.
type RecordCache interface {
	Get(ctx context.Context, id meta.BlobID) (rec meta.Record, ok bool, err error)
	Set(ctx context.Context, rec meta.Record) error
	Delete(ctx context.Context, id meta.BlobID) error
	Close() error
}

// NoOpCache never stores anything.
type NoOpCache struct{}

func (NoOpCache) Get(context.Context, meta.BlobID) (meta.Record, bool, error) {
	return meta.Record{}, false, nil
}
func (NoOpCache) Set(context.Context, meta.Record) error    { return nil }
func (NoOpCache) Delete(context.Context, meta.BlobID) error { return nil }
func (NoOpCache) Close() error                              { return nil }

// MemoryRecordCache keeps records in an in-process LRU.
type MemoryRecordCache struct {
	lru *LRU[meta.Record]
}

// NewMemoryRecordCache returns an LRU backed RecordCache.
func NewMemoryRecordCache(capacity int, ttl time.Duration) *MemoryRecordCache {
	return &MemoryRecordCache{lru: NewLRU[meta.Record](capacity, ttl)}
}

func (m *MemoryRecordCache) Get(_ context.Context, id meta.BlobID) (meta.Record, bool, error) {
	rec, ok := m.lru.Get(string(id))
	if ok {
		rec.Info.UserMetadata = rec.Info.UserMetadata.Clone()
	}
	return rec, ok, nil
}

func (m *MemoryRecordCache) Set(_ context.Context, rec meta.Record) error {
	rec.Info.UserMetadata = rec.Info.UserMetadata.Clone()
	m.lru.Set(string(rec.ID), rec)
	return nil
}

func (m *MemoryRecordCache) Delete(_ context.Context, id meta.BlobID) error {
	m.lru.Delete(string(id))
	return nil
}

// Stats exposes the LRU counters.
func (m *MemoryRecordCache) Stats() Stats { return m.lru.Stats() }

func (m *MemoryRecordCache) Close() error { return m.lru.Close() }
