package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// HybridOptions control hybrid store behaviour.
type HybridOptions struct {
	MirrorSecondary bool // if true, writes are mirrored to secondary
	CacheOnRead     bool // if true, cache remote reads into primary
}

// HybridStore layers a primary (usually local) store with a secondary backend.
type HybridStore struct {
	primary   Store
	secondary Store
	opts      HybridOptions
}

// NewHybridStore composes primary and secondary blob stores.
func NewHybridStore(primary Store, secondary Store, opts HybridOptions) (*HybridStore, error) {
	if primary == nil {
		return nil, fmt.Errorf("hybrid: primary store required")
	}
	if secondary == nil {
		return nil, fmt.Errorf("hybrid: secondary store required")
	}
	return &HybridStore{primary: primary, secondary: secondary, opts: opts}, nil
}

func (h *HybridStore) Put(ctx context.Context, id ID, r io.Reader, size int64) (int64, error) {
	if !h.opts.MirrorSecondary {
		return h.primary.Put(ctx, id, r, size)
	}
	// The shard is sent twice, so it has to be replayable.
	if rs, ok := r.(io.ReadSeeker); ok {
		return h.putSeekable(ctx, id, rs, size)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	return h.putSeekable(ctx, id, bytes.NewReader(data), int64(len(data)))
}

func (h *HybridStore) putSeekable(ctx context.Context, id ID, rs io.ReadSeeker, size int64) (int64, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	written, err := h.primary.Put(ctx, id, rs, size)
	if err != nil {
		return 0, err
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return 0, err
	}
	if _, err := h.secondary.Put(ctx, id, rs, written); err != nil {
		return 0, fmt.Errorf("hybrid: mirror: %w", err)
	}
	return written, nil
}

func (h *HybridStore) Get(ctx context.Context, id ID) (io.ReadCloser, int64, error) {
	rc, size, err := h.primary.Get(ctx, id)
	if err == nil {
		return rc, size, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, 0, err
	}
	rc, size, err = h.secondary.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if !h.opts.CacheOnRead {
		return rc, size, nil
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, 0, err
	}
	_, _ = h.primary.Put(ctx, id, bytes.NewReader(data), int64(len(data)))
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (h *HybridStore) Delete(ctx context.Context, id ID) error {
	primaryErr := h.primary.Delete(ctx, id)
	secondaryErr := h.secondary.Delete(ctx, id)
	if errors.Is(primaryErr, ErrNotFound) && errors.Is(secondaryErr, ErrNotFound) {
		return ErrNotFound
	}
	for _, err := range []error{primaryErr, secondaryErr} {
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

func (h *HybridStore) Exists(ctx context.Context, id ID) (bool, error) {
	ok, err := h.primary.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return h.secondary.Exists(ctx, id)
}
