package rest

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jacktea/blobfront/pkg/stream"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

// HandlerConfig sizes an AsyncResponseHandler.
type HandlerConfig struct {
	Workers   int
	QueueSize int
	Logger    logrus.FieldLogger
}

type response struct {
	req     Request
	ch      ResponseChannel
	content stream.ReadableStream
	err     error
}

// AsyncResponseHandler transmits responses on a pool of workers. It only
// accepts responses between Start and Shutdown.
type AsyncResponseHandler struct {
	cfg HandlerConfig
	log logrus.FieldLogger

	mu      sync.RWMutex
	running bool
	queue   chan response
	wg      sync.WaitGroup
}

// NewAsyncResponseHandler returns a stopped handler.
func NewAsyncResponseHandler(cfg HandlerConfig) *AsyncResponseHandler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &AsyncResponseHandler{cfg: cfg, log: cfg.Logger.WithField("component", "response-handler")}
}

// Start launches the workers. Starting a running handler is a no-op.
func (h *AsyncResponseHandler) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.queue = make(chan response, h.cfg.QueueSize)
	h.running = true
	h.wg.Add(h.cfg.Workers)
	for i := 0; i < h.cfg.Workers; i++ {
		go h.worker(h.queue)
	}
}

// Shutdown stops accepting responses, transmits the queued ones and waits
// for the workers to exit.
func (h *AsyncResponseHandler) Shutdown() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.queue)
	h.mu.Unlock()
	h.wg.Wait()
}

// IsRunning reports whether responses are accepted.
func (h *AsyncResponseHandler) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *AsyncResponseHandler) HandleResponse(req Request, ch ResponseChannel, content stream.ReadableStream, err error) error {
	if req == nil || ch == nil {
		return xerrors.E(xerrors.KindInvalidArgs, "HandleResponse", "request and response channel required")
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return xerrors.E(xerrors.KindRequestResponseQueuingFailure, "HandleResponse", "response handler inactive")
	}
	select {
	case h.queue <- response{req: req, ch: ch, content: content, err: err}:
		return nil
	default:
		return xerrors.E(xerrors.KindRequestResponseQueuingFailure, "HandleResponse", "response queue full")
	}
}

func (h *AsyncResponseHandler) worker(queue <-chan response) {
	defer h.wg.Done()
	for resp := range queue {
		Transmit(h.log, resp.req, resp.ch, resp.content, resp.err)
	}
}

// Transmit drains content into ch, completes the response and then closes
// content and req, in that order. Nothing it calls can make it panic.
func Transmit(log logrus.FieldLogger, req Request, ch ResponseChannel, content stream.ReadableStream, err error) {
	if err == nil && content != nil {
		err = guard("draining content", func() error {
			ctx := req.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			_, copyErr := content.ReadInto(ctx, ch, nil).Wait(ctx)
			return copyErr
		})
	}
	if cerr := guard("completing response", func() error {
		ch.OnResponseComplete(err)
		return nil
	}); cerr != nil {
		log.WithError(cerr).Warn("response completion failed")
	}
	Release(log, content, req)
}

// Release closes content and then req when they are still open. Failures
// are logged and suppressed.
func Release(log logrus.FieldLogger, content stream.ReadableStream, req Request) {
	if content != nil {
		closeQuietly(log, "content stream", content)
	}
	if req != nil {
		closeQuietly(log, "request", req)
	}
}

type closer interface {
	IsOpen() bool
	Close() error
}

func closeQuietly(log logrus.FieldLogger, what string, c closer) {
	err := guard("closing "+what, func() error {
		if !c.IsOpen() {
			return nil
		}
		return c.Close()
	})
	if err != nil {
		log.WithError(err).Warnf("closing %s failed", what)
	}
}

// guard runs fn, turning a panic into an error.
func guard(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", what, r)
		}
	}()
	return fn()
}
