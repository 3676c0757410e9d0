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

// Package query defines the secondary, query based backends which serve
// requests when the archive is rate limited or unavailable.
package query

import (
	"context"
	"io"
	"sync"

	"github.com/pilosa/gdelt"
)

// Options narrow a query. Columns selects the returned columns, all when
// empty. Limit caps the number of rows, no cap when zero.
type Options struct {
	Columns []string
	Limit   int
}

// RowSource yields dict-like rows. Row returns io.EOF once exhausted.
type RowSource interface {
	Row() (gdelt.Row, error)
	Close() error
}

// Backend is a secondary backend. Query must not block on reading the full
// result; rows are pulled through the returned RowSource. A backend missing
// required settings returns a gdelt.ConfigurationError from Query. Rate
// limiting and unavailability are reported as gdelt.RateLimitedError and
// gdelt.BackendUnavailableError.
type Backend interface {
	Name() string
	Query(ctx context.Context, f gdelt.Filter, kind gdelt.Kind, opts Options) (RowSource, error)
}

// SliceRows is a RowSource over rows held in memory.
type SliceRows struct {
	rows []gdelt.Row
	i    int
}

// NewSliceRows returns a RowSource which yields rows in order.
func NewSliceRows(rows ...gdelt.Row) *SliceRows {
	return &SliceRows{rows: rows}
}

// Row implements RowSource.
func (s *SliceRows) Row() (gdelt.Row, error) {
	if s.i >= len(s.rows) {
		return nil, io.EOF
	}
	r := s.rows[s.i]
	s.i++
	return r, nil
}

// Close implements RowSource.
func (s *SliceRows) Close() error { return nil }

// RecordSource adapts a RowSource to a gdelt.Source, converting each row with
// gdelt.RecordFromRow. A row which cannot be converted is returned as a
// gdelt.MalformedRecordError and the source stays usable.
type RecordSource struct {
	rows    RowSource
	kind    gdelt.Kind
	backend string
	n       int

	closeOnce sync.Once
	closeErr  error
}

// NewRecordSource returns a gdelt.Source over rows of kind from the named
// backend.
func NewRecordSource(rows RowSource, kind gdelt.Kind, backend string) *RecordSource {
	return &RecordSource{rows: rows, kind: kind, backend: backend}
}

// Record implements gdelt.Source.
func (s *RecordSource) Record() (*gdelt.RawRecord, error) {
	row, err := s.rows.Row()
	if err != nil {
		return nil, err
	}
	s.n++
	r, err := gdelt.RecordFromRow(s.kind, row)
	if err != nil {
		if mr, ok := err.(*gdelt.MalformedRecordError); ok {
			mr.Target = s.backend
			mr.Line = s.n
		}
		return nil, err
	}
	r.Target = s.backend
	r.Line = s.n
	return r, nil
}

// Close implements gdelt.Source.
func (s *RecordSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.rows.Close()
	})
	return s.closeErr
}
