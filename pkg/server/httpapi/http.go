// Package httpapi serves the blob frontend over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jacktea/blobfront/pkg/frontend"
	"github.com/jacktea/blobfront/pkg/rest"
	"github.com/jacktea/blobfront/pkg/server/middleware"
)

// Server exposes a frontend.Service over HTTP.
type Server struct {
	Service *frontend.Service
	Log     logrus.FieldLogger
	Opts    Options
}

// Options configure auth and rate limiting.
type Options struct {
	APIKey    string
	RateLimit middleware.RateLimitOptions
	// AccessLog logs every request when set.
	AccessLog bool
}

// Start begins listening on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/", s.handleBlobs)
	return s.applyMiddleware(mux)
}

func (s *Server) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func (s *Server) handleBlobs(w http.ResponseWriter, r *http.Request) {
	var handle func(rest.Request, rest.ResponseChannel) error
	switch r.Method {
	case http.MethodGet:
		handle = s.Service.HandleGet
	case http.MethodHead:
		handle = s.Service.HandleHead
	case http.MethodPost:
		handle = s.Service.HandlePost
	case http.MethodDelete:
		handle = s.Service.HandleDelete
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req := newRequest(r)
	ch := newResponseChannel(w, r.Method == http.MethodHead)
	if err := handle(req, ch); err != nil {
		httpError(w, err)
		return
	}
	select {
	case <-ch.Done():
	case <-r.Context().Done():
		// the client went away; detach the writer before returning
		ch.Close()
		s.logger().WithField("path", r.URL.Path).Debug("client disconnected before the response completed")
	}
}

func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	var chain []middleware.HTTPMiddleware
	if s.Opts.AccessLog {
		chain = append(chain, middleware.RequestLog(s.logger()))
	}
	if auth := middleware.APIKeyAuth(s.Opts.APIKey, "/healthz"); auth != nil {
		chain = append(chain, auth)
	}
	if limit := middleware.RateLimit(s.Opts.RateLimit); limit != nil {
		chain = append(chain, limit)
	}
	if len(chain) == 0 {
		return handler
	}
	return middleware.Wrap(handler, chain...)
}
