package meta

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRecords = []byte("records")
	bucketShards  = []byte("shards")
	bucketGCQueue = []byte("gc_queue")
)

// BoltConfig configures the BoltDB-backed store.
type BoltConfig struct {
	Path    string
	NoSync  bool
	Timeout time.Duration
}

// BoltStore persists blob records in BoltDB.
type BoltStore struct {
	cfg BoltConfig
	db  *bolt.DB
}

// NewBoltStore opens (or creates) a Bolt-backed metadata store.
func NewBoltStore(cfg BoltConfig) (*BoltStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("boltdb: path is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 1 * time.Second
	}
	opts := bolt.Options{
		Timeout: cfg.Timeout,
		NoSync:  cfg.NoSync,
	}
	db, err := bolt.Open(cfg.Path, 0o600, &opts)
	if err != nil {
		return nil, fmt.Errorf("boltdb: open: %w", err)
	}
	store := &BoltStore{cfg: cfg, db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (b *BoltStore) init() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRecords, bucketShards, bucketGCQueue} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("boltdb: create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (b *BoltStore) Get(ctx context.Context, id BlobID) (Record, error) {
	var rec Record
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx, id)
		return err
	})
	return rec, err
}

func (b *BoltStore) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(rec.ID), data)
	})
}

func (b *BoltStore) Delete(ctx context.Context, id BlobID) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(id))
	})
}

func (b *BoltStore) MarkDeleted(ctx context.Context, id BlobID, at time.Time) (Record, error) {
	var rec Record
	err := b.db.Update(func(tx *bolt.Tx) error {
		var err error
		rec, err = getRecord(tx, id)
		if err != nil {
			return err
		}
		if rec.Deleted() {
			return nil
		}
		rec.DeletedAt = at
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRecords).Put([]byte(id), data)
	})
	return rec, err
}

func (b *BoltStore) ForEach(ctx context.Context, fn func(Record) error) error {
	// Collect first so fn may write back to the store.
	var records []Record
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (b *BoltStore) IncRef(ctx context.Context, shardID string, delta int) (int, error) {
	var refs int
	err := b.db.Update(func(tx *bolt.Tx) error {
		refsBucket := tx.Bucket(bucketShards)
		key := []byte(shardID)
		cur := decodeInt(refsBucket.Get(key)) + delta
		if cur <= 0 {
			refs = 0
			return refsBucket.Delete(key)
		}
		if err := refsBucket.Put(key, encodeInt(cur)); err != nil {
			return err
		}
		refs = cur
		return tx.Bucket(bucketGCQueue).Delete(key)
	})
	return refs, err
}

func (b *BoltStore) DecideGC(ctx context.Context, shardID string, refs int) error {
	if refs > 0 {
		return nil
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGCQueue).Put([]byte(shardID), []byte{})
	})
}

func (b *BoltStore) ListZeroRef(ctx context.Context, limit int) ([]string, error) {
	var out []string
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketGCQueue).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			out = append(out, string(k))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (b *BoltStore) MarkGCComplete(ctx context.Context, shardID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGCQueue).Delete([]byte(shardID))
	})
}

// Close releases the underlying BoltDB.
func (b *BoltStore) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func getRecord(tx *bolt.Tx, id BlobID) (Record, error) {
	data := tx.Bucket(bucketRecords).Get([]byte(id))
	if data == nil {
		return Record{}, ErrNotFound
	}
	return decodeRecord(data)
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func encodeInt(v int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(int64(v)))
	return buf
}

func decodeInt(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	return int(int64(binary.BigEndian.Uint64(b)))
}
