package fetch

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/pilosa/gdelt"
	"github.com/pkg/errors"
)

// Sink receives delivered records.
type Sink interface {
	Write(r *gdelt.RawRecord) error
	Close() error
}

// JSONSink writes one JSON object per record, newline delimited.
type JSONSink struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewJSONSink returns a JSONSink writing to w. Close flushes but does not
// close w.
func NewJSONSink(w io.Writer) *JSONSink {
	bw := bufio.NewWriter(w)
	return &JSONSink{w: bw, enc: json.NewEncoder(bw)}
}

// Write implements Sink.
func (s *JSONSink) Write(r *gdelt.RawRecord) error {
	return errors.Wrap(s.enc.Encode(r), "encoding record")
}

// Flush writes buffered records to the underlying writer.
func (s *JSONSink) Flush() error {
	return errors.Wrap(s.w.Flush(), "flushing")
}

// Close implements Sink.
func (s *JSONSink) Close() error {
	return s.Flush()
}

// Drain reads src to exhaustion, writing every record to sink, and closes
// src. It returns the number of records written.
func Drain(src gdelt.Source, sink Sink) (n int, err error) {
	defer func() {
		if cerr := src.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	for {
		rec, err := src.Record()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := sink.Write(rec); err != nil {
			return n, err
		}
		n++
	}
}
