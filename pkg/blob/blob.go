// Package blob stores the content shards that blob records point at.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	iofs "io/fs"
	"os"

	"github.com/jacktea/blobfront/pkg/encryption"
)

// ID names a shard. Shards are content addressed: the ID is the hex sha256 of
// the plain bytes, so identical payloads share one shard.
type ID string

var (
	// ErrNotFound is returned when a shard is missing from a store.
	ErrNotFound = fmt.Errorf("blob: shard not found: %w", iofs.ErrNotExist)
	// ErrSizeMismatch is returned when the content is not as long as declared.
	ErrSizeMismatch = errors.New("blob: content size does not match declared size")
)

// Store keeps opaque shard bytes under caller chosen IDs.
type Store interface {
	Put(ctx context.Context, id ID, r io.Reader, size int64) (int64, error)
	Get(ctx context.Context, id ID) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, id ID) error
	Exists(ctx context.Context, id ID) (bool, error)
}

// Hasher returns a helper for deterministic shard IDs.
func Hasher() hash.Hash {
	return sha256.New()
}

// Shard describes the outcome of Shards.Put.
type Shard struct {
	ID         ID
	PlainSize  int64
	StoredSize int64
	Encrypted  bool
	// Deduped is set when an identical shard already existed.
	Deduped bool
}

// Shards hashes, seals and spools content before handing it to a Store.
type Shards struct {
	Store      Store
	Encryption encryption.Options
	// TempDir holds spooled uploads; empty means os.TempDir.
	TempDir string
}

// Put stores the content of r. size < 0 accepts any length.
func (s *Shards) Put(ctx context.Context, r io.Reader, size int64) (Shard, error) {
	spool, err := os.CreateTemp(s.TempDir, "shard-*")
	if err != nil {
		return Shard{}, err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	sealed, overhead, err := encryption.WrapWriter(spool, s.Encryption)
	if err != nil {
		return Shard{}, err
	}
	hasher := Hasher()
	plain, err := io.Copy(io.MultiWriter(sealed, hasher), contextReader{ctx: ctx, r: r})
	if err != nil {
		return Shard{}, err
	}
	if size >= 0 && plain != size {
		return Shard{}, fmt.Errorf("%w: declared %d, read %d", ErrSizeMismatch, size, plain)
	}
	shard := Shard{
		ID:         ID(hex.EncodeToString(hasher.Sum(nil))),
		PlainSize:  plain,
		StoredSize: plain + overhead,
		Encrypted:  s.Encryption.Enabled(),
	}
	exists, err := s.Store.Exists(ctx, shard.ID)
	if err != nil {
		return Shard{}, err
	}
	if exists {
		shard.Deduped = true
		return shard, nil
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return Shard{}, err
	}
	if _, err := s.Store.Put(ctx, shard.ID, spool, shard.StoredSize); err != nil {
		return Shard{}, err
	}
	return shard, nil
}

// Open returns the plain bytes of a shard.
func (s *Shards) Open(ctx context.Context, id ID, encrypted bool) (io.ReadCloser, error) {
	rc, _, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !encrypted {
		return rc, nil
	}
	plain, err := encryption.WrapReader(rc, s.Encryption)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return plain, nil
}

// Delete removes a shard. Missing shards are not an error.
func (s *Shards) Delete(ctx context.Context, id ID) error {
	err := s.Store.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
