// Package router defines the asynchronous storage contract the frontend
// drives, and a store-backed implementation of it.
package router

import (
	"context"
	"time"

	"github.com/jacktea/blobfront/pkg/async"
	"github.com/jacktea/blobfront/pkg/meta"
	"github.com/jacktea/blobfront/pkg/stream"
)

// Router performs blob operations asynchronously. Every method either
// returns a non-nil error without invoking cb (synchronous dispatch failure),
// or returns a future and later invokes cb exactly once with the same outcome
// the future resolves to.
type Router interface {
	PutBlob(ctx context.Context, props meta.BlobProperties, md meta.UserMetadata, content stream.ReadableStream, cb async.Callback[meta.BlobID]) (*async.Future[meta.BlobID], error)
	GetBlobInfo(ctx context.Context, id meta.BlobID, cb async.Callback[*meta.BlobInfo]) (*async.Future[*meta.BlobInfo], error)
	GetBlob(ctx context.Context, id meta.BlobID, opts GetOptions, cb async.Callback[stream.ReadableStream]) (*async.Future[stream.ReadableStream], error)
	DeleteBlob(ctx context.Context, id meta.BlobID, cb async.Callback[*DeleteAck]) (*async.Future[*DeleteAck], error)
	Close() error
}

// ByteRange selects bytes Start through End, both inclusive.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// GetOptions tune GetBlob.
type GetOptions struct {
	// Range limits the returned content; nil returns the whole blob.
	Range *ByteRange
}

// DeleteAck acknowledges a completed delete.
type DeleteAck struct {
	ID        meta.BlobID
	DeletedAt time.Time
	// AlreadyDeleted is set when the blob was a tombstone before this call.
	AlreadyDeleted bool
}
