package router

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jacktea/blobfront/pkg/async"
	"github.com/jacktea/blobfront/pkg/blob"
	"github.com/jacktea/blobfront/pkg/cache"
	"github.com/jacktea/blobfront/pkg/meta"
	"github.com/jacktea/blobfront/pkg/stream"
)

const (
	defaultWorkers   = 8
	defaultQueueSize = 256
)

// Config wires a BlobRouter to its stores.
type Config struct {
	Meta   meta.Store
	Shards *blob.Shards
	// Cache fronts Meta; nil disables caching.
	Cache cache.RecordCache
	// Workers is the size of the pool running operations. Operations beyond
	// QueueSize waiting ones are refused with InsufficientCapacity.
	Workers   int
	QueueSize int
	// MaxBlobSize rejects larger uploads; 0 means unlimited.
	MaxBlobSize int64
	Logger      logrus.FieldLogger
	Now         func() time.Time
	NewID       func() meta.BlobID
}

// BlobRouter executes blob operations on a fixed pool of workers backed by
// a metadata store and a shard store.
type BlobRouter struct {
	cfg  Config
	refs *meta.RefTracker
	log  logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	jobs   chan func()
	wg     sync.WaitGroup
}

// New starts a router and its worker pool.
func New(cfg Config) (*BlobRouter, error) {
	if cfg.Meta == nil {
		return nil, errors.New("router: metadata store required")
	}
	if cfg.Shards == nil || cfg.Shards.Store == nil {
		return nil, errors.New("router: shard store required")
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NoOpCache{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = NewBlobID
	}
	r := &BlobRouter{
		cfg:  cfg,
		refs: &meta.RefTracker{Store: cfg.Meta},
		log:  cfg.Logger.WithField("component", "router"),
		jobs: make(chan func(), cfg.QueueSize),
	}
	r.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go r.worker()
	}
	return r, nil
}

// NewBlobID issues a random hyphen-free UUID.
func NewBlobID() meta.BlobID {
	return meta.BlobID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (r *BlobRouter) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		job()
	}
}

// Close stops accepting operations and waits for queued ones to finish.
func (r *BlobRouter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}

func (r *BlobRouter) submit(job func()) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return Errorf(RouterClosed, "router is closed")
	}
	select {
	case r.jobs <- job:
		return nil
	default:
		return Errorf(InsufficientCapacity, "router queue is full")
	}
}

// dispatch queues fn and settles the returned future and cb with its result.
func dispatch[T any](r *BlobRouter, op string, cb async.Callback[T], fn func() (T, error)) (*async.Future[T], error) {
	f := async.NewFuture[T]()
	err := r.submit(func() {
		res, err := fn()
		if cbErr := async.Settle(f, cb, res, err); cbErr != nil {
			r.log.WithField("op", op).WithError(cbErr).Error("router callback failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *BlobRouter) PutBlob(ctx context.Context, props meta.BlobProperties, md meta.UserMetadata, content stream.ReadableStream, cb async.Callback[meta.BlobID]) (*async.Future[meta.BlobID], error) {
	md = md.Clone()
	return dispatch(r, "PutBlob", cb, func() (meta.BlobID, error) {
		return r.putBlob(ctx, props, md, content)
	})
}

func (r *BlobRouter) putBlob(ctx context.Context, props meta.BlobProperties, md meta.UserMetadata, content stream.ReadableStream) (meta.BlobID, error) {
	if err := ctx.Err(); err != nil {
		return "", Wrap(OperationTimedOut, err, "put abandoned")
	}
	if err := props.Validate(); err != nil {
		return "", Wrap(InvalidPutArgument, err, "invalid blob properties")
	}
	if content == nil {
		return "", Errorf(InvalidPutArgument, "content stream required")
	}
	if r.cfg.MaxBlobSize > 0 && props.Size > r.cfg.MaxBlobSize {
		return "", Errorf(BlobTooLarge, "blob size %d exceeds limit %d", props.Size, r.cfg.MaxBlobSize)
	}
	if size := content.Size(); size >= 0 && size != props.Size {
		return "", Errorf(BadInputChannel, "content size %d does not match blob size %d", size, props.Size)
	}
	if props.CreationTime.IsZero() {
		props.CreationTime = r.cfg.Now().UTC()
	}

	body := stream.Borrow(ctx, content)
	defer body.Close()
	// One extra byte lets Shards notice content longer than declared.
	shard, err := r.cfg.Shards.Put(ctx, io.LimitReader(body, props.Size+1), props.Size)
	switch {
	case errors.Is(err, blob.ErrSizeMismatch):
		return "", Wrap(BadInputChannel, err, "content does not match declared size")
	case errors.Is(err, stream.ErrClosed), errors.Is(err, stream.ErrAlreadyRead):
		return "", Wrap(BadInputChannel, err, "content stream unreadable")
	case err != nil:
		return "", Wrap(StoreUnavailable, err, "storing content failed")
	}
	if err := r.refs.Acquire(ctx, string(shard.ID)); err != nil {
		return "", Wrap(StoreUnavailable, err, "referencing shard failed")
	}
	rec := meta.Record{
		ID:         r.cfg.NewID(),
		Info:       meta.BlobInfo{Properties: props, UserMetadata: md},
		ShardID:    string(shard.ID),
		StoredSize: shard.StoredSize,
		Encrypted:  shard.Encrypted,
	}
	if err := r.cfg.Meta.Put(ctx, rec); err != nil {
		if relErr := r.refs.Release(ctx, rec.ShardID); relErr != nil {
			r.log.WithError(relErr).WithField("shard", rec.ShardID).Warn("release after failed put")
		}
		return "", Wrap(StoreUnavailable, err, "saving blob record failed")
	}
	r.log.WithFields(logrus.Fields{"blob_id": rec.ID, "shard": rec.ShardID, "size": props.Size, "deduped": shard.Deduped}).Debug("blob stored")
	return rec.ID, nil
}

func (r *BlobRouter) GetBlobInfo(ctx context.Context, id meta.BlobID, cb async.Callback[*meta.BlobInfo]) (*async.Future[*meta.BlobInfo], error) {
	return dispatch(r, "GetBlobInfo", cb, func() (*meta.BlobInfo, error) {
		rec, err := r.lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		info := rec.Info
		return &info, nil
	})
}

func (r *BlobRouter) GetBlob(ctx context.Context, id meta.BlobID, opts GetOptions, cb async.Callback[stream.ReadableStream]) (*async.Future[stream.ReadableStream], error) {
	return dispatch(r, "GetBlob", cb, func() (stream.ReadableStream, error) {
		return r.getBlob(ctx, id, opts)
	})
}

func (r *BlobRouter) getBlob(ctx context.Context, id meta.BlobID, opts GetOptions) (stream.ReadableStream, error) {
	rec, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	size := rec.Info.Properties.Size
	start, length := int64(0), size
	if rg := opts.Range; rg != nil {
		if rg.Start < 0 || rg.Start > rg.End || rg.End >= size {
			return nil, Errorf(RangeNotSatisfiable, "range %d-%d outside blob of %d bytes", rg.Start, rg.End, size)
		}
		start, length = rg.Start, rg.Length()
	}
	rc, err := r.cfg.Shards.Open(ctx, blob.ID(rec.ShardID), rec.Encrypted)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return nil, Wrap(UnexpectedInternalError, err, "shard %s of blob %s is missing", rec.ShardID, id)
	case err != nil:
		return nil, Wrap(StoreUnavailable, err, "opening blob %s failed", id)
	}
	if start > 0 {
		if _, err := io.CopyN(io.Discard, rc, start); err != nil {
			rc.Close()
			return nil, Wrap(StoreUnavailable, err, "seeking blob %s failed", id)
		}
	}
	return stream.FromReader(limitedReadCloser{Reader: io.LimitReader(rc, length), Closer: rc}, length), nil
}

func (r *BlobRouter) DeleteBlob(ctx context.Context, id meta.BlobID, cb async.Callback[*DeleteAck]) (*async.Future[*DeleteAck], error) {
	return dispatch(r, "DeleteBlob", cb, func() (*DeleteAck, error) {
		return r.deleteBlob(ctx, id)
	})
}

func (r *BlobRouter) deleteBlob(ctx context.Context, id meta.BlobID) (*DeleteAck, error) {
	rec, err := r.lookup(ctx, id)
	var rerr *Error
	if errors.As(err, &rerr) && rerr.Code == BlobDeleted {
		stored, getErr := r.cfg.Meta.Get(ctx, id)
		if getErr != nil {
			return nil, Wrap(StoreUnavailable, getErr, "reading tombstone of %s failed", id)
		}
		return &DeleteAck{ID: id, DeletedAt: stored.DeletedAt, AlreadyDeleted: true}, nil
	}
	if err != nil {
		return nil, err
	}
	deleted, err := r.cfg.Meta.MarkDeleted(ctx, id, r.cfg.Now().UTC())
	if err != nil {
		return nil, Wrap(StoreUnavailable, err, "deleting blob %s failed", id)
	}
	if err := r.cfg.Cache.Delete(ctx, id); err != nil {
		r.log.WithError(err).WithField("blob_id", id).Warn("cache invalidation failed")
	}
	if err := r.refs.Release(ctx, rec.ShardID); err != nil {
		r.log.WithError(err).WithField("shard", rec.ShardID).Warn("shard release failed")
	}
	return &DeleteAck{ID: id, DeletedAt: deleted.DeletedAt}, nil
}

// lookup returns the live record for id.
func (r *BlobRouter) lookup(ctx context.Context, id meta.BlobID) (meta.Record, error) {
	if err := ctx.Err(); err != nil {
		return meta.Record{}, Wrap(OperationTimedOut, err, "lookup of %s abandoned", id)
	}
	if !ValidBlobID(id) {
		return meta.Record{}, Errorf(InvalidBlobID, "invalid blob id %q", id)
	}
	rec, ok, err := r.cfg.Cache.Get(ctx, id)
	if err != nil {
		r.log.WithError(err).WithField("blob_id", id).Warn("cache read failed")
	}
	if !ok {
		rec, err = r.cfg.Meta.Get(ctx, id)
		switch {
		case errors.Is(err, meta.ErrNotFound):
			return meta.Record{}, Errorf(BlobDoesNotExist, "blob %s does not exist", id)
		case err != nil:
			return meta.Record{}, Wrap(StoreUnavailable, err, "reading blob %s failed", id)
		}
	}
	switch {
	case rec.Deleted():
		return meta.Record{}, Errorf(BlobDeleted, "blob %s has been deleted", id)
	case rec.Expired(r.cfg.Now()):
		return meta.Record{}, Errorf(BlobExpired, "blob %s has expired", id)
	}
	if !ok {
		if err := r.cfg.Cache.Set(ctx, rec); err != nil {
			r.log.WithError(err).WithField("blob_id", id).Warn("cache write failed")
		}
	}
	return rec, nil
}

// ValidBlobID reports whether id has the shape NewBlobID produces.
func ValidBlobID(id meta.BlobID) bool {
	if len(id) != 32 {
		return false
	}
	_, err := hex.DecodeString(string(id))
	return err == nil
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}

var _ Router = (*BlobRouter)(nil)
