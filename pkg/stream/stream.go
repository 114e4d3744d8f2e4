// Package stream defines the byte-stream abstractions that carry blob content
// between the transport, the frontend and the router.
package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jacktea/blobfront/pkg/async"
)

// ErrClosed is returned by operations on a closed stream.
var ErrClosed = errors.New("stream: closed")

// ErrAlreadyRead is returned when a source is drained a second time.
var ErrAlreadyRead = errors.New("stream: already read")

const chunkSize = 64 << 10

// ReadableStream is a byte source of known (>= 0) or unknown (< 0) size.
type ReadableStream interface {
	Size() int64
	// ReadInto drains the source into dst. The returned future and cb both
	// carry the number of bytes written.
	ReadInto(ctx context.Context, dst WritableStream, cb async.Callback[int64]) *async.Future[int64]
	IsOpen() bool
	Close() error
}

// WritableStream is a byte sink accepting asynchronous writes.
type WritableStream interface {
	Write(ctx context.Context, p []byte, cb async.Callback[int]) *async.Future[int]
	IsOpen() bool
	Close() error
}

// ReaderStream adapts an io.Reader into a ReadableStream.
type ReaderStream struct {
	r      io.Reader
	closer io.Closer
	size   int64
	open   atomic.Bool
	read   atomic.Bool
}

// FromBytes returns a stream over b.
func FromBytes(b []byte) *ReaderStream {
	return newReaderStream(bytes.NewReader(b), nil, int64(len(b)))
}

// FromReader returns a stream over rc; size < 0 means unknown. Close closes rc.
func FromReader(rc io.ReadCloser, size int64) *ReaderStream {
	return newReaderStream(rc, rc, size)
}

func newReaderStream(r io.Reader, c io.Closer, size int64) *ReaderStream {
	s := &ReaderStream{r: r, closer: c, size: size}
	s.open.Store(true)
	return s
}

func (s *ReaderStream) Size() int64 { return s.size }

func (s *ReaderStream) IsOpen() bool { return s.open.Load() }

func (s *ReaderStream) Close() error {
	if !s.open.CompareAndSwap(true, false) {
		return nil
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *ReaderStream) ReadInto(ctx context.Context, dst WritableStream, cb async.Callback[int64]) *async.Future[int64] {
	f := async.NewFuture[int64]()
	switch {
	case !s.IsOpen():
		async.Settle(f, cb, 0, ErrClosed)
		return f
	case !s.read.CompareAndSwap(false, true):
		async.Settle(f, cb, 0, ErrAlreadyRead)
		return f
	}
	go func() {
		n, err := Copy(ctx, dst, s.r)
		async.Settle(f, cb, n, err)
	}()
	return f
}

// Copy pushes src into dst chunk by chunk, waiting for each write to settle.
func Copy(ctx context.Context, dst WritableStream, src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			written, err := dst.Write(ctx, chunk, nil).Wait(ctx)
			total += int64(written)
			if err != nil {
				return total, err
			}
		}
		if errors.Is(readErr, io.EOF) {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

// ReadAll drains src into memory.
func ReadAll(ctx context.Context, src ReadableStream) ([]byte, error) {
	hint := src.Size()
	if hint < 0 {
		hint = 0
	}
	sink := NewCopyingStream(int(hint))
	if _, err := src.ReadInto(ctx, sink, nil).Wait(ctx); err != nil {
		return nil, err
	}
	return sink.Bytes(), nil
}

// CopyingStream is a WritableStream that keeps everything written to it.
type CopyingStream struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// NewCopyingStream returns an empty sink pre-sized to capacity bytes.
func NewCopyingStream(capacity int) *CopyingStream {
	s := &CopyingStream{}
	s.buf.Grow(capacity)
	return s
}

func (s *CopyingStream) Write(_ context.Context, p []byte, cb async.Callback[int]) *async.Future[int] {
	f := async.NewFuture[int]()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		async.Settle(f, cb, 0, ErrClosed)
		return f
	}
	n, err := s.buf.Write(p)
	s.mu.Unlock()
	async.Settle(f, cb, n, err)
	return f
}

// Bytes returns a copy of the collected data.
func (s *CopyingStream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.buf.Bytes())
}

func (s *CopyingStream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *CopyingStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// WriterStream forwards writes to an io.Writer, e.g. an http.ResponseWriter.
type WriterStream struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewWriterStream wraps w. Closing the stream does not close w.
func NewWriterStream(w io.Writer) *WriterStream {
	return &WriterStream{w: w}
}

func (s *WriterStream) Write(_ context.Context, p []byte, cb async.Callback[int]) *async.Future[int] {
	f := async.NewFuture[int]()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		async.Settle(f, cb, 0, ErrClosed)
		return f
	}
	n, err := s.w.Write(p)
	s.mu.Unlock()
	async.Settle(f, cb, n, err)
	return f
}

func (s *WriterStream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *WriterStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reader exposes a ReadableStream as an io.ReadCloser by draining it through
// a pipe. Closing the reader closes the stream.
func Reader(ctx context.Context, src ReadableStream) io.ReadCloser {
	return &pipeReader{PipeReader: pipe(ctx, src), src: src}
}

// Borrow is Reader without ownership: closing the reader stops the drain but
// leaves src open for whoever owns it.
func Borrow(ctx context.Context, src ReadableStream) io.ReadCloser {
	return &pipeReader{PipeReader: pipe(ctx, src)}
}

func pipe(ctx context.Context, src ReadableStream) *io.PipeReader {
	pr, pw := io.Pipe()
	sink := NewWriterStream(pw)
	src.ReadInto(ctx, sink, func(_ int64, err error) {
		pw.CloseWithError(err)
	})
	return pr
}

type pipeReader struct {
	*io.PipeReader
	src ReadableStream
}

func (p *pipeReader) Close() error {
	err := p.PipeReader.Close()
	if p.src == nil {
		return err
	}
	if cerr := p.src.Close(); err == nil {
		err = cerr
	}
	return err
}
