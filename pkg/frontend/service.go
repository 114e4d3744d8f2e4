// Package frontend drives transport requests through the asynchronous
// router and guarantees every request exactly one response.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jacktea/blobfront/pkg/rest"
	"github.com/jacktea/blobfront/pkg/router"
	"github.com/jacktea/blobfront/pkg/stream"
	"github.com/jacktea/blobfront/pkg/xerrors"
)

// DefaultName is the operand that addresses the frontend itself.
const DefaultName = "blobfront"

// Config wires a Service.
type Config struct {
	// Name is the control operand answered without touching the router.
	Name            string
	Router          router.Router
	ResponseHandler rest.ResponseHandler
	Logger          logrus.FieldLogger
	Now             func() time.Time
}

// Service is the blob storage frontend. Its Handle methods never block on
// the router: they dispatch, register a callback and return.
type Service struct {
	name    string
	router  router.Router
	handler rest.ResponseHandler
	log     logrus.FieldLogger
	now     func() time.Time
}

type lifecycle interface {
	Start()
	Shutdown()
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Router == nil {
		return nil, errors.New("frontend: router required")
	}
	if cfg.ResponseHandler == nil {
		return nil, errors.New("frontend: response handler required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		name:    cfg.Name,
		router:  cfg.Router,
		handler: cfg.ResponseHandler,
		log:     cfg.Logger.WithField("component", "frontend"),
		now:     cfg.Now,
	}, nil
}

// Start starts the response handler when it has a lifecycle.
func (s *Service) Start() {
	if lc, ok := s.handler.(lifecycle); ok {
		lc.Start()
	}
	s.log.Info("frontend started")
}

// Shutdown stops the response handler. Responses submitted afterwards are
// completed directly on their channel with a queuing failure.
func (s *Service) Shutdown() {
	if lc, ok := s.handler.(lifecycle); ok {
		lc.Shutdown()
	}
	s.log.Info("frontend stopped")
}

// exchange is the per-request state every step of a request shares.
type exchange struct {
	svc    *Service
	op     string
	req    rest.Request
	ch     rest.ResponseChannel
	ctx    context.Context
	target Target
	log    logrus.FieldLogger

	// submitted is claimed by the first outcome of the request.
	submitted atomic.Bool
}

// submit hands the outcome of this request to SubmitResponse unless one was
// already submitted. A late outcome is logged and only its content released,
// since the request belongs to whoever received the first one.
func (x *exchange) submit(content stream.ReadableStream, err error) {
	if !x.submitted.CompareAndSwap(false, true) {
		entry := x.log
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Error("response already submitted; later outcome dropped")
		rest.Release(x.log, content, nil)
		return
	}
	x.svc.SubmitResponse(x.req, x.ch, content, err)
}

// translate is TranslateError with a warning for router codes that have no
// transport mapping.
func (x *exchange) translate(err error) error {
	if code, ok := router.CodeOf(err); ok {
		if _, mapped := KindForCode(code); !mapped {
			x.log.WithField("code", code.String()).Warn("unmapped router error code reported as internal error")
		}
	}
	return TranslateError(x.op, err)
}

// HandleGet answers a blob read, a BlobInfo read or the echo operation.
func (s *Service) HandleGet(req rest.Request, ch rest.ResponseChannel) error {
	return s.handle("HandleGet", req, ch, s.get)
}

// HandlePost stores the request content as a new blob.
func (s *Service) HandlePost(req rest.Request, ch rest.ResponseChannel) error {
	return s.handle(opPost, req, ch, s.post)
}

// HandleDelete deletes a blob.
func (s *Service) HandleDelete(req rest.Request, ch rest.ResponseChannel) error {
	return s.handle("HandleDelete", req, ch, s.remove)
}

// HandleHead reports a blob's properties and user metadata without content.
func (s *Service) HandleHead(req rest.Request, ch rest.ResponseChannel) error {
	return s.handle("HandleHead", req, ch, s.head)
}

// handle runs serve for one request. An error from serve is submitted here
// unless a callback that ran before the failure already submitted.
func (s *Service) handle(op string, req rest.Request, ch rest.ResponseChannel, serve func(*exchange) error) error {
	if req == nil || ch == nil {
		return xerrors.Wrap(xerrors.KindInvalidArgs, op, "", errNilArgument)
	}
	x := &exchange{svc: s, op: op, req: req, ch: ch, log: s.log.WithField("op", op)}
	err := protect(op, func() error {
		x.ctx = req.Context()
		if x.ctx == nil {
			x.ctx = context.Background()
		}
		path := req.Path()
		x.target = ParseTarget(path)
		x.log = x.log.WithField("path", path)
		return serve(x)
	})
	if err != nil {
		x.log.WithError(err).Debug("request failed before dispatch")
		x.submit(nil, err)
	}
	return nil
}

func (s *Service) get(x *exchange) error {
	t := x.target
	switch {
	case t.IsControl(s.name):
		return x.echo()
	case t.SubResource == SubResourceBlobInfo:
		cb := &HeadCallback{callback: callback{exchange: x}, infoOnly: true}
		_, err := s.router.GetBlobInfo(x.ctx, t.ID, cb.OnCompletion)
		return x.translate(err)
	}
	var spec *byteRangeSpec
	if raw, ok := x.req.Header(rest.HeaderRange); ok {
		var err error
		if spec, err = parseRangeSpec(raw); err != nil {
			return err
		}
	}
	cb := &HeadForGetCallback{callback: callback{exchange: x}, id: t.ID, spec: spec}
	_, err := s.router.GetBlobInfo(x.ctx, t.ID, cb.OnCompletion)
	return x.translate(err)
}

func (s *Service) head(x *exchange) error {
	if x.target.IsControl(s.name) {
		return x.echo()
	}
	cb := &HeadCallback{callback: callback{exchange: x}}
	_, err := s.router.GetBlobInfo(x.ctx, x.target.ID, cb.OnCompletion)
	return x.translate(err)
}

func (s *Service) post(x *exchange) error {
	if x.target.Operand != "" {
		return xerrors.Wrap(xerrors.KindBadRequest, x.op, x.target.Operand, errors.New("blobs are posted to the root path"))
	}
	props, md, err := blobPropertiesFrom(x.req)
	if err != nil {
		return err
	}
	if size := x.req.Size(); size >= 0 && size != props.Size {
		return xerrors.Wrap(xerrors.KindBadRequest, x.op, "",
			fmt.Errorf("request carries %d bytes but %s is %d", size, rest.HeaderBlobSize, props.Size))
	}
	cb := &PostCallback{callback: callback{exchange: x}}
	_, err = s.router.PutBlob(x.ctx, props, md, x.req, cb.OnCompletion)
	return x.translate(err)
}

func (s *Service) remove(x *exchange) error {
	t := x.target
	if t.IsControl(s.name) || t.SubResource != "" {
		return xerrors.Wrap(xerrors.KindBadRequest, x.op, t.Operand, errors.New("a blob id is required"))
	}
	cb := &DeleteCallback{callback: callback{exchange: x}}
	_, err := s.router.DeleteBlob(x.ctx, t.ID, cb.OnCompletion)
	return x.translate(err)
}

// echo answers a control operation.
func (x *exchange) echo() error {
	h := &headerSetter{ch: x.ch}
	h.status(http.StatusOK)
	h.set(rest.HeaderDate, httpTime(x.svc.now()))
	h.set(rest.HeaderContentLength, "0")
	if h.err != nil {
		return h.err
	}
	x.submit(nil, nil)
	return nil
}

// SubmitResponse hands the outcome of a request to the response handler,
// exactly once. When the hand-off fails the response is completed here with
// the original error, or the hand-off failure when there was none, and then
// content and req are closed in that order. Nothing escapes this method.
func (s *Service) SubmitResponse(req rest.Request, ch rest.ResponseChannel, content stream.ReadableStream, err error) {
	handoff := protect("SubmitResponse", func() error {
		return s.handler.HandleResponse(req, ch, content, err)
	})
	if handoff == nil {
		return
	}
	reported := err
	if reported == nil {
		reported = handoff
	}
	log := s.log.WithError(handoff)
	if err != nil {
		log = log.WithField("reported", err.Error())
	}
	log.Warn("response hand-off failed")
	if ch != nil {
		if cerr := protect("SubmitResponse", func() error {
			ch.OnResponseComplete(reported)
			return nil
		}); cerr != nil {
			s.log.WithError(cerr).Warn("completing response failed")
		}
	}
	rest.Release(s.log, content, req)
}
