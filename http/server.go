// Copyright 2019 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package http serves fetched records over HTTP as newline delimited JSON.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/fetch"
	"github.com/pilosa/gdelt/query"
	"github.com/pkg/errors"
)

// Server answers record requests with a fetch.Fetcher.
//
//	GET  /records?kind=&start=&end=&limit=&fallback-only=&primary-only=
//	     &actor=&theme=&selector=&min-tone=&max-tone=&translated=
//	GET  /targets?kind=&start=&end=&selector=&translated=
//	POST /query     a query.Request body, answered with rows
//
// so one Server can act as the secondary backend of another.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	fetcher  *fetch.Fetcher
	resolver *gdelt.Resolver
	maxLimit int
	access   io.Writer
	log      gdelt.Logger
	errs     chan error
}

// ServerOption is a functional option type for Server.
type ServerOption func(s *Server)

// WithAddr is an option for the Server which causes it to bind to the given
// address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithListener is an option for Server which causes it to use the given
// listener. It will infer the address from the listener.
func WithListener(l net.Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
		s.addr = l.Addr().String()
	}
}

// WithFetcher sets the Fetcher requests are served from.
func WithFetcher(f *fetch.Fetcher) ServerOption {
	return func(s *Server) {
		s.fetcher = f
	}
}

// WithResolver sets the Resolver used by /targets.
func WithResolver(r *gdelt.Resolver) ServerOption {
	return func(s *Server) {
		s.resolver = r
	}
}

// WithMaxLimit caps the records returned by one request. Zero means no cap.
func WithMaxLimit(n int) ServerOption {
	return func(s *Server) {
		s.maxLimit = n
	}
}

// WithAccessLog writes a combined log format line per request to w.
func WithAccessLog(w io.Writer) ServerOption {
	return func(s *Server) {
		s.access = w
	}
}

// WithLogger sets the logger.
func WithLogger(l gdelt.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// NewServer creates a Server. Call Serve to start it.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{errs: make(chan error, 1)}
	for _, opt := range opts {
		opt(s)
	}
	s.log = gdelt.OrNop(s.log)
	if s.fetcher == nil {
		return nil, &gdelt.ConfigurationError{Setting: "fetcher", Reason: "required"}
	}
	if s.resolver == nil {
		s.resolver = gdelt.NewResolver()
	}
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	return s, nil
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/records", s.handleRecords).Methods(http.MethodGet)
	r.HandleFunc("/targets", s.handleTargets).Methods(http.MethodGet)
	r.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	var h http.Handler = r
	if s.access != nil {
		h = handlers.CombinedLoggingHandler(s.access, h)
	}
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.log}))(h)
}

// Serve listens and serves until Close. Listening errors are returned;
// a later serving error is returned by Close.
func (s *Server) Serve() error {
	if s.listener == nil {
		var err error
		s.listener, err = net.Listen("tcp", s.addr)
		if err != nil {
			return errors.Wrap(err, "listening")
		}
	}
	if tl, ok := s.listener.(*net.TCPListener); ok {
		s.listener = tcpKeepAliveListener{tl}
	}
	go func() {
		err := s.server.Serve(s.listener)
		if err != nil && err != http.ErrServerClosed {
			s.errs <- errors.Wrap(err, "serving")
		}
		close(s.errs)
	}()
	return nil
}

// Addr gets the address that the Server is listening on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Close shuts the server down, waiting up to a few seconds for open
// streams.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if s.listener != nil {
		if serr := <-s.errs; serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// Wait blocks until the server stops.
func (s *Server) Wait() error {
	return <-s.errs
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, kind, err := filterFromQuery(q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	opts := fetch.Options{}
	if opts.FallbackOnly, err = boolParam(q, "fallback-only"); err != nil {
		s.writeError(w, err)
		return
	}
	if opts.PrimaryOnly, err = boolParam(q, "primary-only"); err != nil {
		s.writeError(w, err)
		return
	}
	if opts.Limit, err = s.limit(q.Get("limit")); err != nil {
		s.writeError(w, err)
		return
	}
	opts.Columns = q["column"]

	src, err := s.fetcher.Fetch(r.Context(), f, kind, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.stream(w, src, func(rec *gdelt.RawRecord) interface{} { return rec })
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, &gdelt.ConfigurationError{Setting: "request", Reason: err.Error()})
		return
	}
	f, kind, err := req.Filter()
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := s.limit(strconv.Itoa(req.Limit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	src, err := s.fetcher.Fetch(r.Context(), f, kind, fetch.Options{Limit: limit, Columns: req.Columns})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.stream(w, src, func(rec *gdelt.RawRecord) interface{} {
		m := rec.Map()
		if len(req.Columns) == 0 {
			return m
		}
		row := make(map[string]*string, len(req.Columns))
		for _, c := range req.Columns {
			row[c] = m[c]
		}
		return row
	})
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	f, kind, err := filterFromQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	targets, err := s.resolver.ResolveFilter(r.Context(), f, kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type target struct {
		URL        string    `json:"url"`
		Timestamp  time.Time `json:"timestamp"`
		Translated bool      `json:"translated,omitempty"`
		Selector   string    `json:"selector,omitempty"`
	}
	out := make([]target, len(targets))
	for i, t := range targets {
		out[i] = target{URL: t.URL, Timestamp: t.Timestamp, Translated: t.Translated, Selector: t.Selector}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Printf("writing targets: %v", err)
	}
}

// stream writes every record of src as one JSON line. Errors before the
// first record get a status code; later ones end the body with an object
// holding only an "_error" key.
func (s *Server) stream(w http.ResponseWriter, src gdelt.Source, conv func(*gdelt.RawRecord) interface{}) {
	defer src.Close()
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	n := 0
	for {
		rec, err := src.Record()
		if err == io.EOF {
			if n == 0 {
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.WriteHeader(http.StatusOK)
			}
			return
		}
		if err != nil {
			if n == 0 {
				s.writeError(w, err)
				return
			}
			s.log.Printf("streaming after %d records: %v", n, err)
			_ = enc.Encode(map[string]string{query.ErrorKey: err.Error()})
			return
		}
		if n == 0 {
			w.Header().Set("Content-Type", "application/x-ndjson")
		}
		if err := enc.Encode(conv(rec)); err != nil {
			s.log.Printf("writing record: %v", err)
			return
		}
		n++
		if flusher != nil && n%100 == 0 {
			flusher.Flush()
		}
	}
}

func (s *Server) limit(v string) (int, error) {
	n := 0
	if v != "" {
		var err error
		n, err = strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, &gdelt.ConfigurationError{Setting: "limit", Reason: "must be a non-negative integer"}
		}
	}
	if s.maxLimit > 0 && (n == 0 || n > s.maxLimit) {
		n = s.maxLimit
	}
	return n, nil
}

// writeError maps err to a status code: 400 for bad requests, 503 for
// recoverable backend errors, 500 otherwise.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var rl *gdelt.RateLimitedError
	switch {
	case gdelt.IsInvalidRange(err), gdelt.IsConfiguration(err):
		code = http.StatusBadRequest
	case errors.As(err, &rl):
		code = http.StatusServiceUnavailable
		if rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		}
	case gdelt.IsRecoverable(err):
		code = http.StatusServiceUnavailable
	default:
		s.log.Printf("serving: %v", err)
	}
	http.Error(w, err.Error(), code)
}

func filterFromQuery(q map[string][]string) (gdelt.Filter, gdelt.Kind, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	kind, err := gdelt.ParseKind(get("kind"))
	if err != nil {
		return gdelt.Filter{}, 0, err
	}
	dr, err := gdelt.ParseDateRange(get("start"), get("end"))
	if err != nil {
		if gdelt.IsInvalidRange(err) {
			return gdelt.Filter{}, 0, err
		}
		return gdelt.Filter{}, 0, &gdelt.ConfigurationError{Setting: "start/end", Reason: err.Error()}
	}
	f := gdelt.Filter{
		Range:     dr,
		Actors:    splitParam(q["actor"]),
		Themes:    splitParam(q["theme"]),
		Selectors: splitParam(q["selector"]),
	}
	if f.IncludeTranslated, err = boolParam(q, "translated"); err != nil {
		return gdelt.Filter{}, 0, err
	}
	for _, tone := range []struct {
		name string
		dst  **float64
	}{{"min-tone", &f.MinTone}, {"max-tone", &f.MaxTone}} {
		v := get(tone.name)
		if v == "" {
			continue
		}
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return gdelt.Filter{}, 0, &gdelt.ConfigurationError{Setting: tone.name, Reason: err.Error()}
		}
		*tone.dst = &t
	}
	return f, kind, f.Validate()
}

// splitParam accepts both repeated parameters and comma separated values.
func splitParam(vs []string) []string {
	var out []string
	for _, v := range vs {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func boolParam(q map[string][]string, name string) (bool, error) {
	vs := q[name]
	if len(vs) == 0 || vs[0] == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(vs[0])
	if err != nil {
		return false, &gdelt.ConfigurationError{Setting: name, Reason: fmt.Sprintf("not a boolean: %q", vs[0])}
	}
	return b, nil
}

type recoveryLogger struct {
	log gdelt.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Printf("recovered: %s", fmt.Sprint(v...))
}

// tcpKeepAliveListener is copied from net/http

type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}
