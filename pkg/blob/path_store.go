package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/jacktea/blobfront/pkg/xerrors"
)

// PathStore persists shards on the local filesystem.
type PathStore struct {
	root string
}

// NewPathStore returns a Store rooted at path.
func NewPathStore(root string) (*PathStore, error) {
	if root == "" {
		return nil, xerrors.E(xerrors.KindInvalidArgs, "PathStore", "root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "PathStore.mkdir", root, err)
	}
	return &PathStore{root: root}, nil
}

// Put writes r to a temp file and renames it into place, so readers never
// observe a partial shard.
func (p *PathStore) Put(ctx context.Context, id ID, r io.Reader, size int64) (int64, error) {
	finalPath := p.pathForID(id)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return 0, err
	}
	file, err := os.CreateTemp(filepath.Dir(finalPath), "upload-*")
	if err != nil {
		return 0, err
	}
	tmpName := file.Name()
	fail := func(err error) (int64, error) {
		file.Close()
		os.Remove(tmpName)
		return 0, err
	}
	n, err := io.Copy(file, contextReader{ctx: ctx, r: r})
	if err != nil {
		return fail(err)
	}
	if size >= 0 && n != size {
		return fail(ErrSizeMismatch)
	}
	if err := file.Sync(); err != nil {
		return fail(err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	return n, nil
}

func (p *PathStore) Get(ctx context.Context, id ID) (io.ReadCloser, int64, error) {
	f, err := os.Open(p.pathForID(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (p *PathStore) Delete(ctx context.Context, id ID) error {
	err := os.Remove(p.pathForID(id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (p *PathStore) Exists(ctx context.Context, id ID) (bool, error) {
	_, err := os.Stat(p.pathForID(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (p *PathStore) pathForID(id ID) string {
	return filepath.Join(p.root, filepath.FromSlash(shardKey(id)))
}

// shardKey fans shards out over two directory levels: aa/bb/aabb....
func shardKey(id ID) string {
	name := string(id)
	if len(name) < 4 {
		return name
	}
	return name[:2] + "/" + name[2:4] + "/" + name
}
