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

// Package fetch drives resolution, download and parsing for one request and
// switches to a secondary query backend when the primary file backend is
// rate limited or unavailable.
package fetch

import (
	"context"
	"io"
	"sync"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/download"
	"github.com/pilosa/gdelt/parse"
	"github.com/pilosa/gdelt/query"
	"github.com/pkg/errors"
)

// Options apply to a single Fetch call.
type Options struct {
	// PrimaryOnly never consults the secondary backend.
	PrimaryOnly bool
	// FallbackOnly skips the primary backend.
	FallbackOnly bool
	// Limit caps the number of records delivered, no cap when zero.
	Limit int
	// Columns are passed to the secondary backend.
	Columns []string
}

// Fetcher serves records of one kind for a Filter. It is safe for
// concurrent use; each Fetch returns an independent Stream.
type Fetcher struct {
	resolver   *gdelt.Resolver
	downloader *download.Downloader
	secondary  query.Backend
	fallback   bool
	policy     gdelt.FailurePolicy
	dedup      gdelt.Strategy

	log   gdelt.Logger
	stats gdelt.Statter
}

// Option configures a Fetcher.
type Option func(f *Fetcher)

// OptResolver sets the Resolver used to list targets.
func OptResolver(r *gdelt.Resolver) Option {
	return func(f *Fetcher) {
		f.resolver = r
	}
}

// OptDownloader sets the Downloader for the primary backend.
func OptDownloader(d *download.Downloader) Option {
	return func(f *Fetcher) {
		f.downloader = d
	}
}

// OptSecondary sets the secondary query backend.
func OptSecondary(b query.Backend) Option {
	return func(f *Fetcher) {
		f.secondary = b
	}
}

// OptFallback enables or disables switching to the secondary backend.
// Fallback is enabled by default.
func OptFallback(enabled bool) Option {
	return func(f *Fetcher) {
		f.fallback = enabled
	}
}

// OptPolicy sets the failure policy for per-record and per-artifact errors.
func OptPolicy(p gdelt.FailurePolicy) Option {
	return func(f *Fetcher) {
		f.policy = p
	}
}

// OptDedup deduplicates delivered records with s.
func OptDedup(s gdelt.Strategy) Option {
	return func(f *Fetcher) {
		f.dedup = s
	}
}

// OptLogger sets the logger.
func OptLogger(l gdelt.Logger) Option {
	return func(f *Fetcher) {
		f.log = l
	}
}

// OptStatter sets the statter.
func OptStatter(s gdelt.Statter) Option {
	return func(f *Fetcher) {
		f.stats = s
	}
}

// New returns a Fetcher. Without OptDownloader a default Downloader is
// created, and without OptResolver a Resolver reading inventories through
// that Downloader.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{fallback: true}
	for _, opt := range opts {
		opt(f)
	}
	f.log = gdelt.OrNop(f.log)
	f.stats = gdelt.OrNopStatter(f.stats)
	if f.downloader == nil {
		f.downloader = download.New(download.OptLogger(f.log), download.OptStatter(f.stats))
	}
	if f.resolver == nil {
		f.resolver = gdelt.NewResolver(gdelt.OptResolverGetter(f.downloader), gdelt.OptResolverLogger(f.log))
	}
	return f
}

// Secondary returns the configured secondary backend, or nil.
func (f *Fetcher) Secondary() query.Backend { return f.secondary }

// Policy returns the failure policy.
func (f *Fetcher) Policy() gdelt.FailurePolicy { return f.policy }

func (f *Fetcher) canFallback(opts Options) bool {
	return f.fallback && f.secondary != nil && !opts.PrimaryOnly
}

// Fetch starts serving records of kind matching filter. Invalid filters and
// missing configuration are returned immediately. A recoverable error while
// resolving switches to the secondary backend when fallback is possible.
// The caller must Close the returned Stream.
func (f *Fetcher) Fetch(ctx context.Context, filter gdelt.Filter, kind gdelt.Kind, opts Options) (*Stream, error) {
	if !kind.Valid() {
		return nil, &gdelt.ConfigurationError{Setting: "kind", Reason: "unknown kind"}
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if opts.PrimaryOnly && opts.FallbackOnly {
		return nil, &gdelt.ConfigurationError{Setting: "fallback-only", Reason: "cannot be combined with primary-only"}
	}
	if opts.Limit < 0 {
		return nil, &gdelt.ConfigurationError{Setting: "limit", Reason: "must not be negative"}
	}
	parser, err := parse.New(kind)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		f:      f,
		ctx:    ctx,
		cancel: cancel,
		filter: filter,
		kind:   kind,
		opts:   opts,
		parser: parser,
	}
	if f.dedup != nil {
		s.deduper = gdelt.NewDeduper(f.dedup)
	}

	if opts.FallbackOnly {
		if f.secondary == nil {
			cancel()
			return nil, &gdelt.ConfigurationError{Setting: "secondary", Reason: "fallback-only requires a secondary backend"}
		}
		if err := s.startFallback(); err != nil {
			cancel()
			return nil, err
		}
		return s, nil
	}

	targets, err := f.resolver.ResolveFilter(ctx, filter, kind)
	if err != nil {
		if gdelt.IsRecoverable(err) && f.canFallback(opts) {
			f.log.Printf("resolving %s: %v, falling back to %s", kind, err, f.secondary.Name())
			if err := s.startFallback(); err != nil {
				cancel()
				return nil, err
			}
			return s, nil
		}
		cancel()
		return nil, errors.Wrapf(err, "resolving %s", kind)
	}
	f.log.Debugf("resolved %d %s targets", len(targets), kind)
	pctx, pcancel := context.WithCancel(ctx)
	s.primaryCancel = pcancel
	s.results = f.downloader.StreamTargets(pctx, targets)
	return s, nil
}

// Stream is a gdelt.Source over the records of one Fetch call. It starts on
// the primary backend and switches at most once to the secondary backend,
// and only before the first primary record is delivered. Record must not be
// called concurrently with itself, UsingFallback or Delivered; Close may be
// called from any goroutine.
type Stream struct {
	f      *Fetcher
	ctx    context.Context
	cancel context.CancelFunc
	filter gdelt.Filter
	kind   gdelt.Kind
	opts   Options
	parser *parse.Parser

	primaryCancel context.CancelFunc
	results       <-chan download.Result
	reader        *parse.Reader

	secondary   gdelt.Source
	usingBackup bool

	deduper   *gdelt.Deduper
	delivered int
	n         int

	mu     sync.Mutex
	err    error
	busy   bool
	closed bool
}

// UsingFallback reports whether the stream switched to the secondary backend.
func (s *Stream) UsingFallback() bool { return s.usingBackup }

// Delivered returns the number of records returned so far.
func (s *Stream) Delivered() int { return s.n }

// Record implements gdelt.Source. It returns io.EOF once the request is
// served or the limit is reached. Any other error ends the stream and is
// returned again by later calls.
func (s *Stream) Record() (*gdelt.RawRecord, error) {
	s.mu.Lock()
	if s.err != nil {
		defer s.mu.Unlock()
		return nil, s.err
	}
	s.busy = true
	s.mu.Unlock()

	rec, err := s.record()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if s.closed {
		// Close ran while this call was in flight and left the rows to us.
		_ = s.closeSecondary()
		return nil, s.err
	}
	if err != nil {
		s.err = err
		s.cancel()
		return nil, err
	}
	return rec, nil
}

func (s *Stream) record() (*gdelt.RawRecord, error) {
	if s.opts.Limit > 0 && s.n >= s.opts.Limit {
		return nil, io.EOF
	}
	for {
		rec, err := s.next()
		if err != nil {
			return nil, err
		}
		if s.deduper != nil && !s.deduper.Admit(rec) {
			s.f.stats.Count(gdelt.StatDedupDropped, 1, 1)
			continue
		}
		s.n++
		s.f.stats.Count(gdelt.StatFetchRecords, 1, 1)
		return rec, nil
	}
}

// next returns the next record before deduplication.
func (s *Stream) next() (*gdelt.RawRecord, error) {
	for {
		if s.usingBackup {
			return s.nextSecondary()
		}
		if s.reader != nil {
			rec, err := s.reader.Record()
			switch {
			case err == nil:
				if !s.filter.Match(rec) {
					continue
				}
				s.delivered++
				return rec, nil
			case err == io.EOF:
				s.reader = nil
			case gdelt.IsMalformed(err):
				s.f.stats.Count(gdelt.StatParseMalformed, 1, 1)
				if err := s.drop(err); err != nil {
					return nil, err
				}
			default:
				s.reader = nil
				s.f.stats.Count(gdelt.StatArtifactFailed, 1, 1)
				if err := s.drop(err); err != nil {
					return nil, err
				}
			}
			continue
		}

		var res download.Result
		var ok bool
		select {
		case res, ok = <-s.results:
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		}
		if !ok {
			if err := s.ctx.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		if res.Err != nil {
			if gdelt.IsRecoverable(res.Err) && s.delivered == 0 {
				if !s.f.canFallback(s.opts) {
					return nil, res.Err
				}
				s.f.log.Printf("downloading %s: %v, falling back to %s", res.URL(), res.Err, s.f.secondary.Name())
				if err := s.startFallback(); err != nil {
					return nil, err
				}
				continue
			}
			if err := s.drop(res.Err); err != nil {
				return nil, err
			}
			continue
		}
		s.reader = s.parser.ParseTarget(res.Data, res.Target)
	}
}

// drop applies the failure policy to err, returning err when the stream
// must stop.
func (s *Stream) drop(err error) error {
	if err := s.f.policy.Handle(err, s.f.log); err != nil {
		return err
	}
	s.f.stats.Count(gdelt.StatFetchDropped, 1, 1)
	return nil
}

// startFallback abandons the primary backend and issues the request to the
// secondary backend.
func (s *Stream) startFallback() error {
	if s.primaryCancel != nil {
		s.primaryCancel()
	}
	s.reader = nil
	s.results = nil
	qopts := query.Options{Columns: s.opts.Columns}
	if s.deduper == nil {
		qopts.Limit = s.opts.Limit
	}
	rows, err := s.f.secondary.Query(s.ctx, s.filter, s.kind, qopts)
	if err != nil {
		return errors.Wrapf(err, "querying %s", s.f.secondary.Name())
	}
	s.secondary = query.NewRecordSource(rows, s.kind, s.f.secondary.Name())
	s.usingBackup = true
	s.f.stats.Count(gdelt.StatFetchFallback, 1, 1)
	return nil
}

func (s *Stream) nextSecondary() (*gdelt.RawRecord, error) {
	for {
		rec, err := s.secondary.Record()
		if err == nil {
			return rec, nil
		}
		if err == io.EOF || !gdelt.IsMalformed(err) {
			return nil, err
		}
		s.f.stats.Count(gdelt.StatParseMalformed, 1, 1)
		if err := s.drop(err); err != nil {
			return nil, err
		}
	}
}

// Close cancels outstanding downloads and queries and releases the
// secondary backend's rows. It may be called while another goroutine is
// blocked in Record; that Record call then returns an error.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	if s.primaryCancel != nil {
		s.primaryCancel()
	}
	if s.err == nil {
		s.err = errors.New("stream closed")
	}
	if s.busy {
		return nil
	}
	return s.closeSecondary()
}

func (s *Stream) closeSecondary() error {
	if s.secondary == nil {
		return nil
	}
	return errors.Wrap(s.secondary.Close(), "closing secondary rows")
}
