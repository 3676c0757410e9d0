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

// Package download fetches artifacts with a bounded number of requests in
// flight and yields them in the order they complete.
package download

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/pilosa/gdelt"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of downloads in flight when none is
// configured.
const DefaultConcurrency = 8

// DefaultMaxSize caps the bytes read for one artifact before decompression.
const DefaultMaxSize = 1 << 30

// Artifact is a downloaded and decompressed remote file.
type Artifact struct {
	Target gdelt.Target
	Data   []byte
}

// URL is the artifact's URL.
func (a Artifact) URL() string { return a.Target.URL }

// Result is an Artifact or the error which prevented it.
type Result struct {
	Artifact
	Err error
}

// Downloader fetches Targets concurrently. It is safe for concurrent use.
type Downloader struct {
	concurrency int
	maxSize     int64
	openers     map[string]Opener
	allowlist   *gdelt.Allowlist
	cache       Cache
	log         gdelt.Logger
	stats       gdelt.Statter
}

// Option configures a Downloader.
type Option func(d *Downloader)

// OptConcurrency sets the global bound on downloads in flight.
func OptConcurrency(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// OptMaxSize caps the bytes read for one artifact.
func OptMaxSize(n int64) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.maxSize = n
		}
	}
}

// OptOpener registers o for URLs with the given scheme, replacing any
// previous opener for it.
func OptOpener(scheme string, o Opener) Option {
	return func(d *Downloader) {
		d.openers[strings.ToLower(scheme)] = o
	}
}

// OptHTTPTimeout replaces the http and https openers with ones whose client
// times out after t.
func OptHTTPTimeout(t time.Duration) Option {
	return func(d *Downloader) {
		o := NewHTTPOpener(OptHTTPOpenerTimeout(t))
		d.openers["http"] = o
		d.openers["https"] = o
	}
}

// OptAllowlist sets the allowlist every URL is checked against before it
// is opened. The default admits the public archive only.
func OptAllowlist(a *gdelt.Allowlist) Option {
	return func(d *Downloader) {
		d.allowlist = a
	}
}

// OptCache sets a read-through, write-through cache of decompressed
// artifacts.
func OptCache(c Cache) Option {
	return func(d *Downloader) {
		d.cache = c
	}
}

// OptLogger sets the logger.
func OptLogger(l gdelt.Logger) Option {
	return func(d *Downloader) {
		d.log = l
	}
}

// OptStatter sets the statter.
func OptStatter(s gdelt.Statter) Option {
	return func(d *Downloader) {
		d.stats = s
	}
}

// New returns a Downloader with http and https openers.
func New(opts ...Option) *Downloader {
	h := NewHTTPOpener()
	d := &Downloader{
		concurrency: DefaultConcurrency,
		maxSize:     DefaultMaxSize,
		openers:     map[string]Opener{"http": h, "https": h},
		log:         gdelt.NopLogger{},
		stats:       gdelt.NopStatter{},
	}
	d.allowlist, _ = gdelt.DefaultAllowlist(gdelt.DefaultBaseURL)
	for _, opt := range opts {
		opt(d)
	}
	d.log = gdelt.OrNop(d.log)
	d.stats = gdelt.OrNopStatter(d.stats)
	return d
}

// Concurrency is the bound on downloads in flight.
func (d *Downloader) Concurrency() int { return d.concurrency }

// Stream downloads urls and yields the artifacts which succeed, in
// completion order. Failures are logged, counted as download.failed and
// dropped. The channel is closed when every URL is done or ctx is
// cancelled; a consumer which stops reading early must cancel ctx.
func (d *Downloader) Stream(ctx context.Context, urls []string) <-chan Artifact {
	targets := make([]gdelt.Target, len(urls))
	for i, u := range urls {
		targets[i] = gdelt.Target{URL: u}
	}
	out := make(chan Artifact)
	go func() {
		defer close(out)
		for res := range d.StreamTargets(ctx, targets) {
			if res.Err != nil {
				d.log.Printf("dropping %s: %v", res.URL(), res.Err)
				continue
			}
			select {
			case out <- res.Artifact:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// Stream downloads urls with the default Downloader bounded to
// maxConcurrency requests in flight.
func Stream(ctx context.Context, urls []string, maxConcurrency int) <-chan Artifact {
	return New(OptConcurrency(maxConcurrency)).Stream(ctx, urls)
}

// StreamTargets is like Stream but reports failures in-band, one Result per
// target, so a caller can react to the error class. Once ctx is cancelled
// no further targets are started and in-flight results are abandoned.
func (d *Downloader) StreamTargets(ctx context.Context, targets []gdelt.Target) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		g := new(errgroup.Group)
		g.SetLimit(d.concurrency)
		for _, t := range targets {
			if ctx.Err() != nil {
				break
			}
			t := t
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				data, err := d.fetch(ctx, t.URL)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					d.stats.Count(gdelt.StatDownloadFailed, 1, 1)
					d.log.Debugf("downloading %s: %v", t.URL, err)
				} else {
					d.stats.Count(gdelt.StatDownloadOK, 1, 1)
					d.stats.Count(gdelt.StatDownloadBytes, int64(len(data)), 1)
					d.log.Debugf("downloaded %s (%s)", t.URL, gdelt.Bytes(len(data)))
				}
				select {
				case out <- Result{Artifact: Artifact{Target: t, Data: data}, Err: err}:
				case <-ctx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}

// Get downloads a single URL, returning any error. It implements
// gdelt.Getter for resolving inventory kinds.
func (d *Downloader) Get(ctx context.Context, u string) ([]byte, error) {
	return d.fetch(ctx, u)
}

func (d *Downloader) fetch(ctx context.Context, u string) ([]byte, error) {
	if err := d.allowlist.Check(u); err != nil {
		return nil, err
	}
	if d.cache != nil {
		data, ok, err := d.cache.Get(u)
		if err != nil {
			d.log.Printf("reading cache for %s: %v", u, err)
		} else if ok {
			d.stats.Count(gdelt.StatDownloadCacheHit, 1, 1)
			return data, nil
		}
	}
	pu, err := url.Parse(u)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", u)
	}
	o, ok := d.openers[strings.ToLower(pu.Scheme)]
	if !ok {
		return nil, &gdelt.ConfigurationError{Setting: "opener", Reason: "no opener for scheme " + pu.Scheme}
	}
	rc, err := o.Open(ctx, u)
	if err != nil {
		return nil, err
	}
	raw, err := readLimited(rc, d.maxSize)
	rc.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", u)
	}
	data, err := Decompress(raw, d.maxSize)
	if err != nil {
		return nil, &gdelt.CorruptArtifactError{Target: u, Err: err}
	}
	if d.cache != nil {
		if err := d.cache.Put(u, data); err != nil {
			d.log.Printf("caching %s: %v", u, err)
		}
	}
	return data, nil
}

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, errors.Errorf("artifact larger than %s", gdelt.Bytes(max))
	}
	return data, nil
}
