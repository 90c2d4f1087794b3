// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/codec"
	"github.com/hashicorp/pipeline-autoscaler/agent/config"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

const (
	healthRoutePattern   = "/v1/health"
	metricsRoutePattern  = "/v1/metrics"
	pipelineRoutePattern = "/v1/pipeline"
	stageRoutePattern    = "/v1/pipeline/stage/"

	// shutdownTimeout bounds the graceful part of Stop.
	shutdownTimeout = 5 * time.Second
)

// The aliveness of the server is set atomically. The zero value reports the
// server as unavailable until Start is called.
const (
	healthAlivenessUnavailable int32 = iota
	healthAlivenessReady
)

// AgentHTTP is the interface that defines the HTTP handlers that an Agent
// must implement in order to be accessible through the HTTP API.
type AgentHTTP interface {
	// DisplayMetrics returns a summary of metrics collected by the agent.
	DisplayMetrics(resp http.ResponseWriter, req *http.Request) (interface{}, error)

	// PipelineHealth returns an error when the pipeline is not set up or one
	// of its stage controllers has stopped.
	PipelineHealth() error

	// PipelineStatus returns a snapshot of every stage of the pipeline.
	PipelineStatus(resp http.ResponseWriter, req *http.Request) (interface{}, error)

	// StageStatus returns a snapshot of the named stage. An error wrapping
	// sdk.ErrNotFound is returned when no such stage exists.
	StageStatus(resp http.ResponseWriter, req *http.Request, stage string) (interface{}, error)
}

// handlerFunc is an endpoint handler. A non-nil object is encoded as the
// JSON response body.
type handlerFunc func(w http.ResponseWriter, r *http.Request) (interface{}, error)

type Server struct {
	log hclog.Logger
	ln  net.Listener
	mux *http.ServeMux
	srv *http.Server

	// promHandler serves Prometheus formatted metrics. It is nil when they
	// are not enabled.
	promHandler http.Handler

	// aliveness should be set atomically using healthAlivenessReady and
	// healthAlivenessUnavailable.
	aliveness int32

	agent AgentHTTP
}

// NewHTTPServer creates a new agent HTTP server and binds its listener.
// Bind errors are returned here rather than from Start.
func NewHTTPServer(debug, prom bool, cfg *config.HTTP, log hclog.Logger, agent AgentHTTP) (*Server, error) {

	srv := &Server{
		log:   log.Named("http_server"),
		mux:   http.NewServeMux(),
		agent: agent,
	}
	if prom {
		srv.promHandler = srv.newPrometheusHandler()
	}

	routes := map[string]handlerFunc{
		healthRoutePattern:   srv.getHealth,
		metricsRoutePattern:  srv.getMetrics,
		pipelineRoutePattern: srv.getPipeline,
		stageRoutePattern:    srv.getStage,
	}
	for pattern, handler := range routes {
		srv.mux.HandleFunc(pattern, srv.wrap(handler))
	}

	if debug {
		srv.mux.HandleFunc("/debug/pprof/", pprof.Index)
		srv.mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		srv.mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		srv.mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		srv.mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%v", cfg.BindAddress, cfg.BindPort),
		Handler:      srv.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("could not setup HTTP listener: %v", err)
	}
	srv.ln = ln

	return srv, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Start serves HTTP until Stop is called. It blocks and should be run in a
// goroutine.
func (s *Server) Start() {
	s.log.Info("server now listening for connections", "address", s.Addr())
	atomic.StoreInt32(&s.aliveness, healthAlivenessReady)

	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		atomic.StoreInt32(&s.aliveness, healthAlivenessUnavailable)
		s.log.Error("failed to serve HTTP", "address", s.Addr(), "error", err)
	}
}

// Stop gracefully shuts the server down, closing remaining connections once
// shutdownTimeout has passed.
func (s *Server) Stop() {
	atomic.StoreInt32(&s.aliveness, healthAlivenessUnavailable)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.srv.SetKeepAlivesEnabled(false)
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Error("could not gracefully shutdown HTTP server", "error", err)
		_ = s.srv.Close()
	}
}

// wrap adapts an endpoint handler into an http.HandlerFunc. Every endpoint is
// read only, so requests other than GET are rejected before the handler is
// called. Responses are JSON encoded, indented when the pretty query
// parameter is present.
func (s *Server) wrap(handler handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			s.log.Trace("request complete", "method", r.Method,
				"path", r.URL, "duration", time.Since(start))
		}()

		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			s.handleHTTPError(w, r, errMethodNotAllowed(r.Method))
			return
		}

		obj, err := handler(w, r)
		if err != nil {
			s.handleHTTPError(w, r, err)
			return
		}
		if obj == nil {
			return
		}

		handle := &codec.JsonHandle{HTMLCharsAsIs: true}
		if _, ok := r.URL.Query()["pretty"]; ok {
			handle.Indent = 4
		}

		var buf bytes.Buffer
		if err := codec.NewEncoder(&buf, handle).Encode(obj); err != nil {
			s.handleHTTPError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buf.Bytes())
	}
}

// handleHTTPError writes err as the response. Coded errors use their own
// status code and errors wrapping sdk.ErrNotFound are reported as 404.
// Anything else is an internal error.
func (s *Server) handleHTTPError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError

	var coded codedError
	switch {
	case errors.As(err, &coded):
		code = coded.Code()
	case errors.Is(err, sdk.ErrNotFound):
		code = http.StatusNotFound
	}

	w.WriteHeader(code)
	if _, wErr := w.Write([]byte(err.Error())); wErr != nil {
		s.log.Error("failed to write response error", "error", wErr)
	}

	logFn := s.log.Error
	if code < http.StatusInternalServerError {
		logFn = s.log.Debug
	}
	logFn("request failed", "method", r.Method, "path", r.URL, "error", err, "code", code)
}
