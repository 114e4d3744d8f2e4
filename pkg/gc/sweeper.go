// Package gc purges blobs that expired or were deleted and removes the
// shards nothing references any more.
package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jacktea/blobfront/pkg/blob"
	"github.com/jacktea/blobfront/pkg/cache"
	"github.com/jacktea/blobfront/pkg/meta"
)

const (
	defaultBatchSize = 128
	defaultRetention = 24 * time.Hour
)

// Options configures a Sweeper.
type Options struct {
	Store  meta.Store
	Shards *blob.Shards
	// Cache is invalidated for purged blobs; nil skips invalidation.
	Cache     cache.RecordCache
	BatchSize int
	// Retention keeps tombstones and expired records around this long so
	// lookups keep reporting them as deleted or expired.
	Retention time.Duration
	Now       func() time.Time
	Logger    logrus.FieldLogger
}

// Report summarises one sweep.
type Report struct {
	Expired    int
	Tombstones int
	Shards     int
}

// Sweeper removes dead records and zero-ref shards.
type Sweeper struct {
	store     meta.Store
	shards    *blob.Shards
	cache     cache.RecordCache
	refs      *meta.RefTracker
	batchSize int
	retention time.Duration
	now       func() time.Time
	log       logrus.FieldLogger
}

// NewSweeper wires metadata and shard stores for garbage collection.
func NewSweeper(opts Options) *Sweeper {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoOpCache{}
	}
	return &Sweeper{
		store:     opts.Store,
		shards:    opts.Shards,
		cache:     opts.Cache,
		refs:      &meta.RefTracker{Store: opts.Store},
		batchSize: opts.BatchSize,
		retention: opts.Retention,
		now:       opts.Now,
		log:       opts.Logger.WithField("component", "gc"),
	}
}

// Sweep performs a best-effort GC pass.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report
	if s.store == nil || s.shards == nil {
		return report, fmt.Errorf("gc sweeper missing dependencies")
	}
	if err := s.purgeRecords(ctx, &report); err != nil {
		return report, err
	}
	err := s.sweepShards(ctx, &report)
	return report, err
}

// purgeRecords drops tombstones and expired records past retention. An
// expired record still holds its shard reference, so it is released here.
func (s *Sweeper) purgeRecords(ctx context.Context, report *Report) error {
	cutoff := s.now().Add(-s.retention)
	var expired, tombstones []meta.Record
	err := s.store.ForEach(ctx, func(rec meta.Record) error {
		switch {
		case rec.Deleted():
			if !rec.DeletedAt.After(cutoff) {
				tombstones = append(tombstones, rec)
			}
		case rec.Expired(cutoff):
			expired = append(expired, rec)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, rec := range expired {
		if err := s.refs.Release(ctx, rec.ShardID); err != nil {
			return fmt.Errorf("release shard %s: %w", rec.ShardID, err)
		}
		if err := s.purge(ctx, rec.ID); err != nil {
			return err
		}
		report.Expired++
	}
	for _, rec := range tombstones {
		if err := s.purge(ctx, rec.ID); err != nil {
			return err
		}
		report.Tombstones++
	}
	return nil
}

func (s *Sweeper) purge(ctx context.Context, id meta.BlobID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("purge %s: %w", id, err)
	}
	if err := s.cache.Delete(ctx, id); err != nil {
		s.log.WithError(err).WithField("blob_id", id).Warn("cache invalidation failed")
	}
	return nil
}

func (s *Sweeper) sweepShards(ctx context.Context, report *Report) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		shards, err := s.store.ListZeroRef(ctx, s.batchSize)
		if err != nil {
			return err
		}
		if len(shards) == 0 {
			return nil
		}
		for _, shardID := range shards {
			if err := s.removeShard(ctx, shardID); err != nil {
				return err
			}
			report.Shards++
		}
		if len(shards) < s.batchSize {
			return nil
		}
	}
}

// Start launches a background sweep loop until ctx is canceled.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) context.CancelFunc {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			report, err := s.Sweep(ctx)
			switch {
			case err != nil && !errors.Is(err, context.Canceled):
				s.log.WithError(err).Warn("gc sweep failed")
			case (report != Report{}):
				s.log.WithFields(logrus.Fields{
					"expired":    report.Expired,
					"tombstones": report.Tombstones,
					"shards":     report.Shards,
				}).Info("gc sweep")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return cancel
}

func (s *Sweeper) removeShard(ctx context.Context, shardID string) error {
	if err := s.shards.Delete(ctx, blob.ID(shardID)); err != nil {
		return err
	}
	return s.store.MarkGCComplete(ctx, shardID)
}
