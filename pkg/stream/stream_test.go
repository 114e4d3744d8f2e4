package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type trackingCloser struct {
	io.Reader
	closed int
}

func (t *trackingCloser) Close() error {
	t.closed++
	return nil
}

func TestReadIntoCopiesEverything(t *testing.T) {
	ctx := context.Background()
	payload := bytes.Repeat([]byte("0123456789"), chunkSize/5)
	src := FromBytes(payload)
	sink := NewCopyingStream(len(payload))
	var cbBytes int64
	n, err := src.ReadInto(ctx, sink, func(n int64, err error) { cbBytes = n }).Wait(ctx)
	if err != nil {
		t.Fatalf("read into: %v", err)
	}
	if n != int64(len(payload)) || cbBytes != n {
		t.Fatalf("unexpected byte counts future=%d callback=%d want %d", n, cbBytes, len(payload))
	}
	if !bytes.Equal(sink.Bytes(), payload) {
		t.Fatalf("sink content mismatch")
	}
}

func TestReadIntoTwiceFails(t *testing.T) {
	ctx := context.Background()
	src := FromBytes([]byte("once"))
	if _, err := src.ReadInto(ctx, NewCopyingStream(0), nil).Wait(ctx); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, err := src.ReadInto(ctx, NewCopyingStream(0), nil).Wait(ctx); !errors.Is(err, ErrAlreadyRead) {
		t.Fatalf("expected ErrAlreadyRead, got %v", err)
	}
}

func TestClosedStreamRejectsRead(t *testing.T) {
	ctx := context.Background()
	rc := &trackingCloser{Reader: strings.NewReader("abc")}
	src := FromReader(rc, 3)
	if !src.IsOpen() {
		t.Fatalf("new stream should be open")
	}
	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if rc.closed != 1 {
		t.Fatalf("underlying reader closed %d times, want 1", rc.closed)
	}
	if _, err := src.ReadInto(ctx, NewCopyingStream(0), nil).Wait(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWriterStreamAndReader(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	w := NewWriterStream(&buf)
	if _, err := w.Write(ctx, []byte("hello"), nil).Wait(ctx); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()
	if _, err := w.Write(ctx, []byte("!"), nil).Wait(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
	if buf.String() != "hello" {
		t.Fatalf("unexpected buffer %q", buf.String())
	}

	src := FromBytes([]byte("piped"))
	rc := Reader(ctx, src)
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if string(data) != "piped" {
		t.Fatalf("unexpected data %q", data)
	}
	rc.Close()
	if src.IsOpen() {
		t.Fatalf("closing the reader should close the stream")
	}
}

func TestBorrowLeavesStreamOpen(t *testing.T) {
	ctx := context.Background()
	src := FromBytes([]byte("borrowed"))
	rc := Borrow(ctx, src)
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if string(data) != "borrowed" {
		t.Fatalf("unexpected data %q", data)
	}
	rc.Close()
	if !src.IsOpen() {
		t.Fatalf("borrowing must not close the stream")
	}
}
