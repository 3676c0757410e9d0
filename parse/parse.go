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

// Package parse decodes artifacts into RawRecords. Each kind belongs to a
// parser family: tab delimited files whose schema version is detected from
// the first line's field count, or JSON lines.
package parse

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/pilosa/gdelt"
	"github.com/pkg/errors"
)

// Parser parses artifacts of one kind.
type Parser struct {
	kind gdelt.Kind
}

// New returns a Parser for kind.
func New(kind gdelt.Kind) (*Parser, error) {
	if !kind.Valid() {
		return nil, &gdelt.ConfigurationError{Setting: "kind", Reason: "no parser for unknown kind"}
	}
	return &Parser{kind: kind}, nil
}

// Kind is the kind the parser reads.
func (p *Parser) Kind() gdelt.Kind { return p.kind }

// Parse returns a Reader over data. translated marks every record as coming
// from a translation feed; records whose identifier carries the translation
// marker are marked regardless.
func (p *Parser) Parse(data []byte, translated bool) *Reader {
	return &Reader{kind: p.kind, data: data, translated: translated}
}

// ParseTarget is Parse for the artifact of t, whose URL is recorded on each
// record and error.
func (p *Parser) ParseTarget(data []byte, t gdelt.Target) *Reader {
	r := p.Parse(data, t.Translated)
	r.target = t.URL
	return r
}

// Reader yields the records of one artifact. Record returns a
// *gdelt.MalformedRecordError for a bad line and may be called again to
// continue with the next line. A *gdelt.UnsupportedSchemaError or
// *gdelt.CorruptArtifactError is fatal: it is returned once and every later
// call returns io.EOF.
type Reader struct {
	kind       gdelt.Kind
	target     string
	translated bool

	data    []byte
	pos     int
	line    int
	started bool
	done    bool
	schema  *gdelt.Schema
}

var bom = []byte("\xef\xbb\xbf")

// Record implements gdelt.Source.
func (r *Reader) Record() (*gdelt.RawRecord, error) {
	if r.done {
		return nil, io.EOF
	}
	if !r.started {
		r.started = true
		if err := r.start(); err != nil {
			r.done = true
			return nil, err
		}
	}
	for {
		line, ok := r.next()
		if !ok {
			r.done = true
			return nil, io.EOF
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec *gdelt.RawRecord
		var err error
		if r.kind.Format() == gdelt.JSONLines {
			rec, err = r.decodeJSON(line)
		} else {
			rec, err = gdelt.NewRawRecord(r.schema, strings.Split(string(line), "\t"))
		}
		if err != nil {
			if mr, ok := err.(*gdelt.MalformedRecordError); ok {
				mr.Kind = r.kind
				mr.Target = r.target
				mr.Line = r.line
				return nil, mr
			}
			return nil, &gdelt.MalformedRecordError{Kind: r.kind, Target: r.target, Line: r.line, Err: err}
		}
		rec.Target = r.target
		rec.Line = r.line
		rec.Translated = r.translated
		if r.kind == gdelt.GKG && !rec.Translated {
			rec.Translated = gdelt.HasTranslationMarker(rec.Value("GKGRECORDID"))
		}
		return rec, nil
	}
}

// start validates the encoding and detects the schema version.
func (r *Reader) start() error {
	if !utf8.Valid(r.data) {
		return &gdelt.CorruptArtifactError{Target: r.target, Err: errors.New("invalid UTF-8")}
	}
	r.data = bytes.TrimPrefix(r.data, bom)
	if r.kind.Format() == gdelt.JSONLines {
		r.schema = gdelt.LatestSchema(r.kind)
		return nil
	}
	first := firstLine(r.data)
	if first == nil {
		return nil
	}
	fields := bytes.Count(first, []byte{'\t'}) + 1
	s, ok := gdelt.SchemaFor(r.kind, fields)
	if !ok {
		return &gdelt.UnsupportedSchemaError{Kind: r.kind, Fields: fields, Target: r.target}
	}
	r.schema = s
	return nil
}

// Version is the detected schema version, zero before the first Record or
// for an empty artifact.
func (r *Reader) Version() int {
	if r.schema == nil {
		return 0
	}
	return r.schema.Version
}

// Line is the number of the last line read.
func (r *Reader) Line() int { return r.line }

// Close implements gdelt.Source and drops the artifact.
func (r *Reader) Close() error {
	r.done = true
	r.data = nil
	return nil
}

// next returns the next line without its terminator. Lines are cut by hand
// because GKG lines can be far longer than a bufio.Scanner token.
func (r *Reader) next() ([]byte, bool) {
	if r.pos >= len(r.data) {
		return nil, false
	}
	rest := r.data[r.pos:]
	i := bytes.IndexByte(rest, '\n')
	var line []byte
	if i < 0 {
		line = rest
		r.pos = len(r.data)
	} else {
		line = rest[:i]
		r.pos += i + 1
	}
	r.line++
	return bytes.TrimSuffix(line, []byte{'\r'}), true
}

func firstLine(data []byte) []byte {
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		var line []byte
		if i < 0 {
			line, data = data, nil
		} else {
			line, data = data[:i], data[i+1:]
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(bytes.TrimSpace(line)) > 0 {
			return line
		}
	}
	return nil
}

func (r *Reader) decodeJSON(line []byte) (*gdelt.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	obj := make(map[string]interface{})
	if err := dec.Decode(&obj); err != nil {
		return nil, errors.Wrap(err, "decoding json line")
	}
	fields := make([]string, r.schema.Len())
	var extra map[string]string
	for k, v := range obj {
		s, err := gdelt.Stringify(v)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", k)
		}
		i := r.schema.Index(k)
		if i < 0 {
			if s != nil {
				if extra == nil {
					extra = make(map[string]string)
				}
				extra[k] = *s
			}
			continue
		}
		if s != nil {
			fields[i] = *s
		}
	}
	rec, err := gdelt.NewRawRecord(r.schema, fields)
	if err != nil {
		return nil, err
	}
	rec.Extra = extra
	return rec, nil
}

// Records parses all of data, logging and skipping malformed lines. A fatal
// artifact error is returned with no records.
func Records(kind gdelt.Kind, data []byte, translated bool, log gdelt.Logger) ([]*gdelt.RawRecord, error) {
	p, err := New(kind)
	if err != nil {
		return nil, err
	}
	log = gdelt.OrNop(log)
	r := p.Parse(data, translated)
	var records []*gdelt.RawRecord
	for {
		rec, err := r.Record()
		if err == io.EOF {
			return records, nil
		} else if gdelt.IsMalformed(err) {
			log.Printf("skipping: %v", err)
			continue
		} else if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}
