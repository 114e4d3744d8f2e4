package frontend

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/jacktea/blobfront/pkg/meta"
	"github.com/jacktea/blobfront/pkg/rest"
	"github.com/jacktea/blobfront/pkg/router"
	"github.com/jacktea/blobfront/pkg/stream"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

// callback is the one-shot state behind every operation callback. It never
// closes the request or a content stream; SubmitResponse owns both.
type callback struct {
	*exchange
	once sync.Once
}

// claim reports whether this is the first completion.
func (c *callback) claim() bool {
	first := false
	c.once.Do(func() { first = true })
	if !first {
		c.log.Error("completion delivered more than once; ignored")
	}
	return first
}

// finish runs build and submits its outcome together with content. A
// content stream is submitted even on error so that it gets closed.
func (c *callback) finish(content stream.ReadableStream, build func() error) {
	err := protect(c.op, build)
	c.submit(content, err)
}

// outcome enforces that exactly one of result and err is set.
func (c *callback) outcome(hasResult bool, err error) error {
	switch {
	case err != nil && hasResult:
		return xerrors.Wrap(xerrors.KindInternal, c.op, "", fmt.Errorf("result delivered alongside error: %w", err))
	case err != nil:
		return c.translate(err)
	case !hasResult:
		return nullResult(c.op)
	}
	return nil
}

// GetCallback completes a GET with the blob content.
type GetCallback struct {
	callback
	// info and rng come from the metadata phase; both may be nil.
	info *meta.BlobInfo
	rng  *router.ByteRange
}

func (c *GetCallback) OnCompletion(content stream.ReadableStream, err error) {
	if !c.claim() {
		return
	}
	c.finish(content, func() error {
		if err := c.outcome(content != nil, err); err != nil {
			return err
		}
		h := &headerSetter{ch: c.ch}
		if c.rng != nil {
			h.status(http.StatusPartialContent)
		} else {
			h.status(http.StatusOK)
		}
		h.set(rest.HeaderDate, httpTime(c.svc.now()))
		h.set(rest.HeaderAcceptRanges, "bytes")
		if c.info != nil {
			h.blobHeaders(c.info)
			if c.rng != nil {
				h.set(rest.HeaderContentRange, contentRange(c.rng, c.info.Properties.Size))
			}
		}
		if size := content.Size(); size >= 0 {
			h.set(rest.HeaderContentLength, strconv.FormatInt(size, 10))
		}
		return h.err
	})
}

// HeadCallback completes a HEAD, or a GET of the BlobInfo sub-resource when
// infoOnly is set.
type HeadCallback struct {
	callback
	infoOnly bool
}

func (c *HeadCallback) OnCompletion(info *meta.BlobInfo, err error) {
	if !c.claim() {
		return
	}
	c.finish(nil, func() error {
		if err := c.outcome(info != nil, err); err != nil {
			return err
		}
		h := &headerSetter{ch: c.ch}
		h.status(http.StatusOK)
		h.set(rest.HeaderDate, httpTime(c.svc.now()))
		h.blobHeaders(info)
		if c.infoOnly {
			h.set(rest.HeaderContentLength, "0")
		} else {
			h.set(rest.HeaderAcceptRanges, "bytes")
			h.set(rest.HeaderContentLength, strconv.FormatInt(info.Properties.Size, 10))
		}
		return h.err
	})
}

// PostCallback completes a POST with the id of the new blob.
type PostCallback struct {
	callback
}

func (c *PostCallback) OnCompletion(id meta.BlobID, err error) {
	if !c.claim() {
		return
	}
	c.finish(nil, func() error {
		if err := c.outcome(id != "", err); err != nil {
			return err
		}
		c.log.WithField("blob_id", id).Debug("blob stored")
		h := &headerSetter{ch: c.ch}
		h.status(http.StatusCreated)
		h.set(rest.HeaderDate, httpTime(c.svc.now()))
		h.set(rest.HeaderLocation, string(id))
		h.set(rest.HeaderContentLength, "0")
		return h.err
	})
}

// DeleteCallback completes a DELETE.
type DeleteCallback struct {
	callback
}

func (c *DeleteCallback) OnCompletion(ack *router.DeleteAck, err error) {
	if !c.claim() {
		return
	}
	c.finish(nil, func() error {
		if err := c.outcome(ack != nil, err); err != nil {
			return err
		}
		if ack.AlreadyDeleted {
			c.log.WithField("blob_id", ack.ID).Debug("blob was already deleted")
		}
		h := &headerSetter{ch: c.ch}
		h.status(http.StatusAccepted)
		h.set(rest.HeaderDate, httpTime(c.svc.now()))
		h.set(rest.HeaderContentLength, "0")
		return h.err
	})
}

// HeadForGetCallback is the metadata phase of a GET. On success it fetches
// the content and lets a GetCallback finish the response; on failure it
// submits the error and the content phase never starts.
type HeadForGetCallback struct {
	callback
	id   meta.BlobID
	spec *byteRangeSpec
}

func (c *HeadForGetCallback) OnCompletion(info *meta.BlobInfo, err error) {
	if !c.claim() {
		return
	}
	failure := protect(c.op, func() error {
		if err := c.outcome(info != nil, err); err != nil {
			return err
		}
		var opts router.GetOptions
		if c.spec != nil {
			size := info.Properties.Size
			rng, err := c.spec.resolve(size)
			if err != nil {
				herr := protect(c.op, func() error {
					h := &headerSetter{ch: c.ch}
					h.set(rest.HeaderContentRange, fmt.Sprintf("bytes */%d", size))
					return h.err
				})
				if herr != nil {
					c.log.WithError(herr).Warn("content range header rejected")
				}
				return err
			}
			opts.Range = rng
		}
		get := &GetCallback{callback: callback{exchange: c.exchange}, info: info, rng: opts.Range}
		_, err := c.svc.router.GetBlob(c.ctx, c.id, opts, get.OnCompletion)
		return c.translate(err)
	})
	if failure != nil {
		c.submit(nil, failure)
	}
}
