// Package routertest provides router doubles that fail on demand.
package routertest

import (
	"context"
	"sync/atomic"

	"github.com/jacktea/blobfront/pkg/async"
	"github.com/jacktea/blobfront/pkg/meta"
	"github.com/jacktea/blobfront/pkg/router"
	"github.com/jacktea/blobfront/pkg/stream"
)

// Faults selects how a FaultyRouter misbehaves. The first matching field wins,
// in field order.
type Faults struct {
	// Panic makes every dispatch panic with this value.
	Panic any
	// DispatchErr is returned synchronously; the callback is never invoked.
	DispatchErr error
	// CompleteErr completes every operation with this error.
	CompleteErr error
	// NullResult completes every operation with a zero result and no error.
	NullResult bool
	// PanicAfter panics with this value once the operation has been
	// completed and its callback has run.
	PanicAfter any
	// Only restricts the faults to one operation, e.g. "GetBlob".
	Only string
	// Sync delivers every completion on the calling goroutine before the
	// dispatching call returns. Only does not restrict it.
	Sync bool
}

// FaultyRouter wraps a Router and injects Faults. With no faults set every
// call is forwarded to Next.
type FaultyRouter struct {
	Next   router.Router
	Faults Faults

	calls atomic.Int64
}

// Calls returns the number of operations dispatched so far.
func (f *FaultyRouter) Calls() int64 { return f.calls.Load() }

func inject[T any](f *FaultyRouter, op string, cb async.Callback[T], forward func(async.Callback[T]) (*async.Future[T], error)) (*async.Future[T], error) {
	f.calls.Add(1)
	faults := f.Faults
	if faults.Only != "" && faults.Only != op {
		faults = Faults{Sync: faults.Sync}
	}
	inline := faults.Sync || faults.PanicAfter != nil
	var zero T
	var fut *async.Future[T]
	switch {
	case faults.Panic != nil:
		panic(faults.Panic)
	case faults.DispatchErr != nil:
		return nil, faults.DispatchErr
	case faults.CompleteErr != nil:
		fut = complete(inline, cb, zero, faults.CompleteErr)
	case faults.NullResult:
		fut = complete(inline, cb, zero, nil)
	case inline:
		next, err := forward(nil)
		if err != nil {
			return nil, err
		}
		result, err := next.Wait(context.Background())
		fut = complete(true, cb, result, err)
	default:
		return forward(cb)
	}
	if faults.PanicAfter != nil {
		panic(faults.PanicAfter)
	}
	return fut, nil
}

// complete settles the operation, on the calling goroutine when inline is
// set and otherwise on a fresh one, like a router worker would.
func complete[T any](inline bool, cb async.Callback[T], result T, err error) *async.Future[T] {
	fut := async.NewFuture[T]()
	if inline {
		async.Settle(fut, cb, result, err)
		return fut
	}
	go async.Settle(fut, cb, result, err)
	return fut
}

func (f *FaultyRouter) PutBlob(ctx context.Context, props meta.BlobProperties, md meta.UserMetadata, content stream.ReadableStream, cb async.Callback[meta.BlobID]) (*async.Future[meta.BlobID], error) {
	return inject(f, "PutBlob", cb, func(cb async.Callback[meta.BlobID]) (*async.Future[meta.BlobID], error) {
		return f.Next.PutBlob(ctx, props, md, content, cb)
	})
}

func (f *FaultyRouter) GetBlobInfo(ctx context.Context, id meta.BlobID, cb async.Callback[*meta.BlobInfo]) (*async.Future[*meta.BlobInfo], error) {
	return inject(f, "GetBlobInfo", cb, func(cb async.Callback[*meta.BlobInfo]) (*async.Future[*meta.BlobInfo], error) {
		return f.Next.GetBlobInfo(ctx, id, cb)
	})
}

func (f *FaultyRouter) GetBlob(ctx context.Context, id meta.BlobID, opts router.GetOptions, cb async.Callback[stream.ReadableStream]) (*async.Future[stream.ReadableStream], error) {
	return inject(f, "GetBlob", cb, func(cb async.Callback[stream.ReadableStream]) (*async.Future[stream.ReadableStream], error) {
		return f.Next.GetBlob(ctx, id, opts, cb)
	})
}

func (f *FaultyRouter) DeleteBlob(ctx context.Context, id meta.BlobID, cb async.Callback[*router.DeleteAck]) (*async.Future[*router.DeleteAck], error) {
	return inject(f, "DeleteBlob", cb, func(cb async.Callback[*router.DeleteAck]) (*async.Future[*router.DeleteAck], error) {
		return f.Next.DeleteBlob(ctx, id, cb)
	})
}

func (f *FaultyRouter) Close() error {
	if f.Next == nil {
		return nil
	}
	return f.Next.Close()
}

var _ router.Router = (*FaultyRouter)(nil)
