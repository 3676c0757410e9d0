package gdelt_test

import (
	"testing"

	"github.com/pilosa/gdelt"
)

// mustRecord builds a record of the newest schema of kind with the given
// column values.
func mustRecord(t *testing.T, kind gdelt.Kind, values map[string]string) *gdelt.RawRecord {
	t.Helper()
	s := gdelt.LatestSchema(kind)
	fields := make([]string, s.Len())
	for name, v := range values {
		i := s.Index(name)
		if i < 0 {
			t.Fatalf("no column %s in %s", name, kind)
		}
		fields[i] = v
	}
	r, err := gdelt.NewRawRecord(s, fields)
	if err != nil {
		t.Fatalf("building record: %v", err)
	}
	return r
}

func ptr(s string) *string { return &s }

func fptr(f float64) *float64 { return &f }
