package meta

import (
	"context"
)

// RefTracker keeps shard reference counts in sync with blob records. Shards
// whose count drops to zero are queued for the GC sweeper.
type RefTracker struct {
	Store Store
}

// Acquire adds a reference for shardID.
func (r *RefTracker) Acquire(ctx context.Context, shardID string) error {
	if r == nil || shardID == "" {
		return nil
	}
	_, err := r.Store.IncRef(ctx, shardID, 1)
	return err
}

// Release drops a reference and queues the shard once nothing uses it.
func (r *RefTracker) Release(ctx context.Context, shardID string) error {
	if r == nil || shardID == "" {
		return nil
	}
	refs, err := r.Store.IncRef(ctx, shardID, -1)
	if err != nil {
		return err
	}
	if refs == 0 {
		return r.Store.DecideGC(ctx, shardID, refs)
	}
	return nil
}
