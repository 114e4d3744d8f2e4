// Package resttest provides in-memory rest doubles, including ones that
// misbehave on purpose.
package resttest

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jacktea/blobfront/pkg/async"
	"github.com/jacktea/blobfront/pkg/rest"
	"github.com/jacktea/blobfront/pkg/stream"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

// Request is an in-memory rest.Request.
type Request struct {
	*stream.ReaderStream
	ctx     context.Context
	method  rest.Method
	path    string
	headers []rest.Header

	// HeaderPanic makes every header access panic with this value.
	HeaderPanic any
	// CloseErr is returned from Close after the content is released.
	CloseErr error
	// ClosePanic makes Close panic with this value.
	ClosePanic any
	// OnClose runs at the start of every Close call.
	OnClose func()

	closes atomic.Int32
}

// NewRequest builds a request. Headers keep the given order.
func NewRequest(method rest.Method, path string, headers []rest.Header, body []byte) *Request {
	return &Request{
		ReaderStream: stream.FromBytes(body),
		ctx:          context.Background(),
		method:       method,
		path:         path,
		headers:      headers,
	}
}

// WithContext replaces the request context.
func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

func (r *Request) Context() context.Context { return r.ctx }
func (r *Request) Method() rest.Method      { return r.method }
func (r *Request) Path() string             { return r.path }

func (r *Request) Header(name string) (string, bool) {
	if r.HeaderPanic != nil {
		panic(r.HeaderPanic)
	}
	for _, h := range r.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

func (r *Request) Headers() []rest.Header {
	if r.HeaderPanic != nil {
		panic(r.HeaderPanic)
	}
	return append([]rest.Header(nil), r.headers...)
}

func (r *Request) Close() error {
	r.closes.Add(1)
	if r.OnClose != nil {
		r.OnClose()
	}
	if r.ClosePanic != nil {
		panic(r.ClosePanic)
	}
	err := r.ReaderStream.Close()
	if r.CloseErr != nil {
		return r.CloseErr
	}
	return err
}

// Closes counts Close calls.
func (r *Request) Closes() int { return int(r.closes.Load()) }

// Stream is a ReadableStream over fixed bytes that can be told to fail.
type Stream struct {
	*stream.ReaderStream
	CloseErr    error
	IsOpenPanic any
	OnClose     func()
	closes      atomic.Int32
}

// NewStream returns an open stream over data.
func NewStream(data []byte) *Stream {
	return &Stream{ReaderStream: stream.FromBytes(data)}
}

func (s *Stream) IsOpen() bool {
	if s.IsOpenPanic != nil {
		panic(s.IsOpenPanic)
	}
	return s.ReaderStream.IsOpen()
}

func (s *Stream) Close() error {
	s.closes.Add(1)
	if s.OnClose != nil {
		s.OnClose()
	}
	err := s.ReaderStream.Close()
	if s.CloseErr != nil {
		return s.CloseErr
	}
	return err
}

// Closes counts Close calls.
func (s *Stream) Closes() int { return int(s.closes.Load()) }

// ResponseChannel records everything written to it.
type ResponseChannel struct {
	mu          sync.Mutex
	status      int
	headers     http.Header
	body        bytes.Buffer
	open        bool
	committed   bool
	completions int
	err         error
	done        chan struct{}

	// SetHeaderErr is returned by SetHeader when set.
	SetHeaderErr error
}

// NewResponseChannel returns an open channel with status 200.
func NewResponseChannel() *ResponseChannel {
	return &ResponseChannel{
		status:  http.StatusOK,
		headers: make(http.Header),
		open:    true,
		done:    make(chan struct{}),
	}
}

func (c *ResponseChannel) Write(_ context.Context, p []byte, cb async.Callback[int]) *async.Future[int] {
	f := async.NewFuture[int]()
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		async.Settle(f, cb, 0, stream.ErrClosed)
		return f
	}
	c.committed = true
	n, err := c.body.Write(p)
	c.mu.Unlock()
	async.Settle(f, cb, n, err)
	return f
}

func (c *ResponseChannel) SetStatus(status int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		return xerrors.E(xerrors.KindInvalidRequestState, "SetStatus", "response already committed")
	}
	c.status = status
	return nil
}

func (c *ResponseChannel) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *ResponseChannel) SetHeader(name, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetHeaderErr != nil {
		return c.SetHeaderErr
	}
	if c.committed {
		return xerrors.E(xerrors.KindInvalidRequestState, "SetHeader", "response already committed")
	}
	c.headers.Set(name, value)
	return nil
}

func (c *ResponseChannel) GetHeader(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers.Get(name)
}

// Headers returns a copy of the headers set so far.
func (c *ResponseChannel) Headers() http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headers.Clone()
}

func (c *ResponseChannel) OnResponseComplete(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions++
	if c.completions > 1 {
		return
	}
	c.err = err
	if err != nil && !c.committed {
		c.status = xerrors.HTTPStatus(xerrors.KindOf(err))
	}
	c.committed = true
	c.open = false
	close(c.done)
}

// Done is closed by the first OnResponseComplete.
func (c *ResponseChannel) Done() <-chan struct{} { return c.done }

// Err returns the error the response completed with.
func (c *ResponseChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Completions counts OnResponseComplete calls.
func (c *ResponseChannel) Completions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completions
}

// Body returns a copy of the bytes written.
func (c *ResponseChannel) Body() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.body.Bytes())
}

func (c *ResponseChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *ResponseChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

var (
	_ rest.Request         = (*Request)(nil)
	_ rest.ResponseChannel = (*ResponseChannel)(nil)
	_ stream.ReadableStream = (*Stream)(nil)
)
