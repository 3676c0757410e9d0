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

package fetch

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/kafka"
	"github.com/pilosa/gdelt/query/sqlite"
	"github.com/pilosa/gdelt/termstat"
	"github.com/pkg/errors"
)

// KafkaOpts configure the kafka output.
type KafkaOpts struct {
	Hosts       []string `help:"Comma separated list of Kafka hosts and ports."`
	Topic       string   `help:"Kafka topic."`
	RegistryURL string   `help:"URL of the confluent schema registry for Avro values."`
	Avro        bool     `help:"Write Avro instead of JSON."`
	BatchSize   int      `help:"Number of records per Kafka request."`
}

// Main holds the config for the fetch command.
type Main struct {
	Config       Config
	Kind         string   `help:"Artifact kind: events, events-daily, mentions, gkg, graph or tv-ngrams."`
	Start        string   `help:"Start of the date range (RFC 3339, YYYY-MM-DD, YYYYMMDD or YYYYMMDDHHMMSS)."`
	End          string   `help:"End of the date range, defaults to start. A date without a time covers the whole day."`
	Actors       []string `help:"Actor codes to match on events."`
	Themes       []string `help:"Themes to match on GKG records."`
	Selectors    []string `help:"Stations for tv-ngrams."`
	MinTone      string   `help:"Minimum tone."`
	MaxTone      string   `help:"Maximum tone."`
	Translated   bool     `help:"Include the machine translated feeds."`
	Limit        int      `help:"Stop after this many records, 0 for no limit."`
	PrimaryOnly  bool     `help:"Never use the secondary backend."`
	FallbackOnly bool     `help:"Use only the secondary backend."`
	Columns      []string `help:"Columns to request from the secondary backend."`
	Output       string   `help:"Where records go: - for NDJSON on stdout, a file path, kafka, or sqlite:PATH."`
	Kafka        KafkaOpts
	Stats        bool `help:"Print live counters to stderr."`

	stdout io.Writer
	stderr io.Writer
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	return &Main{
		Config: NewConfig(),
		Kind:   gdelt.Events.String(),
		Output: "-",
		Kafka: KafkaOpts{
			Hosts:     []string{"localhost:9092"},
			Topic:     "gdelt",
			BatchSize: kafka.DefaultBatchSize,
		},
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// SetOutput sets where records and logs are written.
func (m *Main) SetOutput(stdout, stderr io.Writer) {
	m.stdout, m.stderr = stdout, stderr
}

// Filter builds the request's Filter.
func (m *Main) Filter() (gdelt.Filter, gdelt.Kind, error) {
	kind, err := gdelt.ParseKind(m.Kind)
	if err != nil {
		return gdelt.Filter{}, 0, err
	}
	dr, err := gdelt.ParseDateRange(m.Start, m.End)
	if err != nil {
		return gdelt.Filter{}, 0, err
	}
	f := gdelt.Filter{
		Range:             dr,
		Actors:            m.Actors,
		Themes:            m.Themes,
		Selectors:         m.Selectors,
		IncludeTranslated: m.Translated,
	}
	if f.MinTone, err = parseTone("min-tone", m.MinTone); err != nil {
		return gdelt.Filter{}, 0, err
	}
	if f.MaxTone, err = parseTone("max-tone", m.MaxTone); err != nil {
		return gdelt.Filter{}, 0, err
	}
	return f, kind, f.Validate()
}

func parseTone(setting, v string) (*float64, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return nil, &gdelt.ConfigurationError{Setting: setting, Reason: err.Error()}
	}
	return &t, nil
}

// Run fetches the records and writes them to the output.
func (m *Main) Run() error {
	return m.RunContext(context.Background())
}

// RunContext is Run with a context.
func (m *Main) RunContext(ctx context.Context) error {
	start := time.Now()
	f, kind, err := m.Filter()
	if err != nil {
		return err
	}
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

	s, err := p.Fetcher.Fetch(ctx, f, kind, Options{
		PrimaryOnly:  m.PrimaryOnly,
		FallbackOnly: m.FallbackOnly,
		Limit:        m.Limit,
		Columns:      m.Columns,
	})
	if err != nil {
		return err
	}

	var n int
	switch {
	case strings.HasPrefix(m.Output, "sqlite:"):
		out := sqlite.New(strings.TrimPrefix(m.Output, "sqlite:"))
		n, err = out.Load(ctx, s)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	default:
		var sink Sink
		sink, err = m.sink()
		if err != nil {
			s.Close()
			return err
		}
		n, err = Drain(s, sink)
		if cerr := sink.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return errors.Wrapf(err, "after %d records", n)
	}
	logger.Printf("wrote %d %s records in %v", n, kind, time.Since(start))
	return nil
}

func (m *Main) sink() (Sink, error) {
	switch m.Output {
	case "", "-":
		return NewJSONSink(m.stdout), nil
	case "kafka":
		ks := kafka.NewSink(m.Kafka.Topic, m.Kafka.Hosts...)
		ks.BatchSize = m.Kafka.BatchSize
		if m.Kafka.Avro {
			ks.Encoder = kafka.NewAvroEncoder(m.Kafka.RegistryURL)
		}
		return ks, ks.Open()
	}
	fh, err := os.Create(m.Output)
	if err != nil {
		return nil, errors.Wrap(err, "creating output")
	}
	return &fileSink{JSONSink: NewJSONSink(fh), f: fh}, nil
}

type fileSink struct {
	*JSONSink
	f *os.File
}

func (s *fileSink) Close() error {
	err := s.JSONSink.Close()
	if cerr := s.f.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "closing output")
	}
	return err
}
