package resttest

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jacktea/blobfront/pkg/rest"
	"github.com/jacktea/blobfront/pkg/stream"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

// Call is one HandleResponse invocation.
type Call struct {
	Req     rest.Request
	Ch      rest.ResponseChannel
	Content stream.ReadableStream
	Err     error
}

// ResponseHandler records every response and, while running, transmits it
// synchronously. A shut down handler refuses responses the way a real one
// does.
type ResponseHandler struct {
	mu      sync.Mutex
	running bool
	calls   []Call
	notify  chan struct{}
	Logger  logrus.FieldLogger
}

// NewResponseHandler returns a running handler.
func NewResponseHandler() *ResponseHandler {
	return &ResponseHandler{running: true, notify: make(chan struct{}, 1024)}
}

func (h *ResponseHandler) Start() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
}

func (h *ResponseHandler) Shutdown() {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
}

func (h *ResponseHandler) HandleResponse(req rest.Request, ch rest.ResponseChannel, content stream.ReadableStream, err error) error {
	h.mu.Lock()
	h.calls = append(h.calls, Call{Req: req, Ch: ch, Content: content, Err: err})
	running := h.running
	h.mu.Unlock()
	defer func() { h.notify <- struct{}{} }()
	if !running {
		return xerrors.E(xerrors.KindRequestResponseQueuingFailure, "HandleResponse", "response handler inactive")
	}
	log := h.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	rest.Transmit(log, req, ch, content, err)
	return nil
}

// Calls returns the recorded invocations.
func (h *ResponseHandler) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// Notify receives one value per HandleResponse call, after it returns.
func (h *ResponseHandler) Notify() <-chan struct{} { return h.notify }

var _ rest.ResponseHandler = (*ResponseHandler)(nil)
