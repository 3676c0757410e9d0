package query_test

import (
	"testing"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/query"
)

func TestRecordSourceBadValue(t *testing.T) {
	rows := query.NewSliceRows(
		gdelt.Row{"GlobalEventID": "1"},
		gdelt.Row{"GlobalEventID": struct{}{}},
		gdelt.Row{"GlobalEventID": "3"},
	)
	src := query.NewRecordSource(rows, gdelt.Events, "mock")
	defer src.Close()

	if r, err := src.Record(); err != nil || r.ID() != "1" {
		t.Fatalf("first record %v, %v", r, err)
	}
	_, err := src.Record()
	mr, ok := err.(*gdelt.MalformedRecordError)
	if !ok || mr.Line != 2 || mr.Target != "mock" {
		t.Fatalf("expected malformed record at line 2, got %v", err)
	}
	if r, err := src.Record(); err != nil || r.ID() != "3" {
		t.Fatalf("source should continue after a bad row: %v, %v", r, err)
	}
}
