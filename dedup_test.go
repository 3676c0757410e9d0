package gdelt_test

import (
	"io"
	"reflect"
	"testing"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/mock"
)

func eventRecords(t *testing.T, ids ...string) []*gdelt.RawRecord {
	out := make([]*gdelt.RawRecord, len(ids))
	for i, id := range ids {
		out[i] = mustRecord(t, gdelt.Events, map[string]string{"GlobalEventID": id, "Day": "20240102", "DATEADDED": "20240102000000"})
	}
	return out
}

func ids(records []*gdelt.RawRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func TestDedupeByID(t *testing.T) {
	in := eventRecords(t, "3", "1", "3", "2", "1", "", "")
	got := gdelt.Dedupe(in, gdelt.ByID)
	want := []string{"3", "1", "2", "", ""}
	if !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
	if got[0] != in[0] || got[1] != in[1] {
		t.Fatal("first occurrences should be kept")
	}

	again := gdelt.Dedupe(got, gdelt.ByID)
	if !reflect.DeepEqual(ids(again), ids(got)) {
		t.Fatalf("dedupe is not idempotent: %v then %v", ids(got), ids(again))
	}
}

func TestDedupeByURLDateLocation(t *testing.T) {
	mk := func(id, url, day, loc string) *gdelt.RawRecord {
		return mustRecord(t, gdelt.Events, map[string]string{
			"GlobalEventID": id, "Day": day, "DATEADDED": day + "000000",
			"SOURCEURL": url, "ActionGeo_FullName": loc,
		})
	}
	in := []*gdelt.RawRecord{
		mk("1", "https://www.example.com/story/?utm_source=x", "20240102", "Paris, France"),
		mk("2", "http://example.com/story", "20240102", "paris  france"),
		mk("3", "http://example.com/story", "20240103", "Paris, France"),
		mk("4", "http://example.com/story", "20240102", "Lyon, France"),
		mk("5", "http://example.com/other", "20240102", "Paris, France"),
		mk("6", "", "20240102", "Paris, France"),
		mk("7", "", "20240102", "Paris, France"),
	}
	got := gdelt.Dedupe(in, gdelt.ByURLDateLocation)
	want := []string{"1", "3", "4", "5", "6", "7"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"https://www.Example.com/a/b/":         "example.com/a/b",
		"http://example.com:80/a#frag":         "example.com/a",
		"http://example.com:8080/a":            "example.com:8080/a",
		"http://example.com/a?b=2&a=1&utm_x=3": "example.com/a?a=1&b=2",
		"http://example.com/a?fbclid=1":        "example.com/a",
		"  HTTP://EXAMPLE.COM  ":               "example.com",
		"not a url":                            "not a url",
		"":                                     "",
	}
	for in, want := range tests {
		if got := gdelt.NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDedupSource(t *testing.T) {
	stats := mock.NewRecordingStatter()
	src := gdelt.NewDedupSource(gdelt.NewSliceSource(eventRecords(t, "1", "2", "1", "1", "3")...), gdelt.ByID).WithStatter(stats)
	var got []string
	for {
		r, err := src.Record()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		got = append(got, r.ID())
	}
	if !reflect.DeepEqual(got, []string{"1", "2", "3"}) {
		t.Fatalf("got %v", got)
	}
	if src.Dropped() != 2 || stats.Counter(gdelt.StatDedupDropped) != 2 {
		t.Fatalf("dropped = %d, counted %d", src.Dropped(), stats.Counter(gdelt.StatDedupDropped))
	}
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
}
