package httpapi

import (
	"context"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/jacktea/blobfront/pkg/async"
	"github.com/jacktea/blobfront/pkg/rest"
	"github.com/jacktea/blobfront/pkg/stream"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

// request adapts an *http.Request; its content is the request body.
type request struct {
	*stream.ReaderStream
	r *http.Request
}

func newRequest(r *http.Request) *request {
	body := r.Body
	if body == nil {
		body = http.NoBody
	}
	return &request{ReaderStream: stream.FromReader(body, r.ContentLength), r: r}
}

func (q *request) Context() context.Context { return q.r.Context() }
func (q *request) Method() rest.Method      { return rest.Method(q.r.Method) }
func (q *request) Path() string             { return q.r.URL.EscapedPath() }

func (q *request) Header(name string) (string, bool) {
	values := q.r.Header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Headers lists headers sorted by name; net/http does not keep arrival order.
func (q *request) Headers() []rest.Header {
	names := make([]string, 0, len(q.r.Header))
	for name := range q.r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []rest.Header
	for _, name := range names {
		for _, v := range q.r.Header[name] {
			out = append(out, rest.Header{Name: name, Value: v})
		}
	}
	return out
}

// responseChannel writes a response to an http.ResponseWriter. The status
// line goes out with the first body write or on completion.
type responseChannel struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	head      bool
	status    int
	committed bool
	open      bool
	done      chan struct{}
	once      sync.Once
}

func newResponseChannel(w http.ResponseWriter, head bool) *responseChannel {
	return &responseChannel{w: w, head: head, status: http.StatusOK, open: true, done: make(chan struct{})}
}

func (c *responseChannel) commit() {
	if !c.committed {
		c.w.WriteHeader(c.status)
		c.committed = true
	}
}

func (c *responseChannel) Write(_ context.Context, p []byte, cb async.Callback[int]) *async.Future[int] {
	f := async.NewFuture[int]()
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		async.Settle(f, cb, 0, stream.ErrClosed)
		return f
	}
	c.commit()
	n, err := c.w.Write(p)
	c.mu.Unlock()
	async.Settle(f, cb, n, err)
	return f
}

func (c *responseChannel) SetStatus(status int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return stream.ErrClosed
	}
	if c.committed {
		return xerrors.E(xerrors.KindInvalidRequestState, "SetStatus", "response already committed")
	}
	c.status = status
	return nil
}

func (c *responseChannel) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *responseChannel) SetHeader(name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return stream.ErrClosed
	}
	if c.committed {
		return xerrors.E(xerrors.KindInvalidRequestState, "SetHeader", "response already committed")
	}
	c.w.Header().Set(name, value)
	return nil
}

// GetHeader returns "" once the channel is closed; the writer may belong to
// a handler that has already returned.
func (c *responseChannel) GetHeader(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ""
	}
	return c.w.Header().Get(name)
}

func (c *responseChannel) OnResponseComplete(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.open {
			if err != nil && !c.committed {
				c.writeError(err)
			}
			c.commit()
		}
		c.open = false
		close(c.done)
	})
}

func (c *responseChannel) writeError(err error) {
	c.status = xerrors.HTTPStatus(xerrors.KindOf(err))
	h := c.w.Header()
	h.Del(rest.HeaderContentLength)
	h.Set(rest.HeaderContentType, "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	c.commit()
	if !c.head {
		io.WriteString(c.w, err.Error()+"\n")
	}
}

// Done is closed once the response is complete.
func (c *responseChannel) Done() <-chan struct{} { return c.done }

func (c *responseChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close detaches the writer; later writes, status and header changes fail
// with stream.ErrClosed.
func (c *responseChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func httpError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), xerrors.HTTPStatus(xerrors.KindOf(err)))
}

var (
	_ rest.Request         = (*request)(nil)
	_ rest.ResponseChannel = (*responseChannel)(nil)
)
