package gdelt

import (
	"io"
)

// Source is the interface for getting records one at a time. Record returns
// io.EOF once the source is exhausted. Close releases the source and cancels
// any work behind it; it is safe to call Close before the source is
// exhausted.
type Source interface {
	Record() (*RawRecord, error)
	Close() error
}

// SliceSource is a Source over records held in memory.
type SliceSource struct {
	records []*RawRecord
	i       int
}

// NewSliceSource returns a Source which yields records in order.
func NewSliceSource(records ...*RawRecord) *SliceSource {
	return &SliceSource{records: records}
}

// Record implements Source.
func (s *SliceSource) Record() (*RawRecord, error) {
	if s.i >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.i]
	s.i++
	return r, nil
}

// Close implements Source.
func (s *SliceSource) Close() error {
	s.i = len(s.records)
	return nil
}

// ReadAll drains src and closes it. It returns the records read before the
// first error.
func ReadAll(src Source) (records []*RawRecord, err error) {
	defer func() {
		if cerr := src.Close(); err == nil {
			err = cerr
		}
	}()
	for {
		r, err := src.Record()
		if err == io.EOF {
			return records, nil
		} else if err != nil {
			return records, err
		}
		records = append(records, r)
	}
}
