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

package http

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/fetch"
	"github.com/pilosa/gdelt/termstat"
	"github.com/pkg/errors"
)

// Main holds the config for the serve command.
type Main struct {
	Config   fetch.Config
	Bind     string `help:"Listen for record requests on this address."`
	MaxLimit int    `help:"Maximum number of records returned by one request, 0 for no limit."`
	Access   bool   `help:"Log every request to stderr."`
	Stats    bool   `help:"Print live counters to stderr."`

	stderr io.Writer
	ready  func(addr string)
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	return &Main{
		Config:   fetch.NewConfig(),
		Bind:     ":12121",
		MaxLimit: 100000,
		stderr:   os.Stderr,
	}
}

// SetOutput sets where logs are written.
func (m *Main) SetOutput(stderr io.Writer) {
	m.stderr = stderr
}

// Run serves until interrupted.
func (m *Main) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return m.RunContext(ctx)
}

// RunContext serves until ctx is done.
func (m *Main) RunContext(ctx context.Context) error {
	logger := m.Config.Logger(m.stderr)
	var stats gdelt.Statter = gdelt.NopStatter{}
	if m.Stats {
		ts := termstat.NewCollector(m.stderr, 0)
		defer ts.Close()
		stats = ts
	}
	p, err := m.Config.Setup(logger, stats)
	if err != nil {
		return errors.Wrap(err, "setting up")
	}
	defer p.Close()

	opts := []ServerOption{
		WithAddr(m.Bind),
		WithFetcher(p.Fetcher),
		WithResolver(p.Resolver),
		WithMaxLimit(m.MaxLimit),
		WithLogger(logger),
	}
	if m.Access {
		opts = append(opts, WithAccessLog(m.stderr))
	}
	srv, err := NewServer(opts...)
	if err != nil {
		return errors.Wrap(err, "creating server")
	}
	if err := srv.Serve(); err != nil {
		return err
	}
	logger.Printf("listening on %s", srv.Addr())
	if m.ready != nil {
		m.ready(srv.Addr())
	}
	select {
	case <-ctx.Done():
		return errors.Wrap(srv.Close(), "shutting down")
	case err := <-srv.errs:
		return err
	}
}
