package geohash_test

import (
	"testing"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/geohash"
)

func event(t *testing.T, id, url, lat, lon, loc string) *gdelt.RawRecord {
	t.Helper()
	s := gdelt.LatestSchema(gdelt.Events)
	fields := make([]string, s.Len())
	for name, v := range map[string]string{
		"GlobalEventID": id, "Day": "20190301", "DATEADDED": "20190301000000",
		"SOURCEURL": url, "ActionGeo_Lat": lat, "ActionGeo_Long": lon, "ActionGeo_FullName": loc,
	} {
		fields[s.Index(name)] = v
	}
	r, err := gdelt.NewRawRecord(s, fields)
	if err != nil {
		t.Fatalf("building record: %v", err)
	}
	return r
}

func TestStrategy(t *testing.T) {
	tests := []struct {
		name      string
		precision uint
		a, b      *gdelt.RawRecord
		same      bool
	}{
		{
			name: "nearby",
			a:    event(t, "1", "http://example.com/a", "48.8566", "2.3522", "Paris"),
			b:    event(t, "2", "https://www.example.com/a/", "48.8570", "2.3525", "Paris, France"),
			same: true,
		},
		{
			name: "far",
			a:    event(t, "1", "http://example.com/a", "48.8566", "2.3522", "Paris"),
			b:    event(t, "2", "http://example.com/a", "45.7640", "4.8357", "Paris"),
		},
		{
			name:      "coarse",
			precision: 1,
			a:         event(t, "1", "http://example.com/a", "48.8566", "2.3522", "Paris"),
			b:         event(t, "2", "http://example.com/a", "45.7640", "4.8357", "Lyon"),
			same:      true,
		},
		{
			name: "no coordinates",
			a:    event(t, "1", "http://example.com/a", "", "", "Paris, France"),
			b:    event(t, "2", "http://example.com/a", "", "", "paris france"),
			same: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := geohash.Strategy{Precision: test.precision}
			ka, kb := s.Key(test.a), s.Key(test.b)
			if ka == "" || kb == "" {
				t.Fatalf("unexpected empty key: %q %q", ka, kb)
			}
			if (ka == kb) != test.same {
				t.Fatalf("keys %q and %q, want same=%v", ka, kb, test.same)
			}
		})
	}
}

func TestStrategyNoURL(t *testing.T) {
	r := event(t, "1", "", "48.8566", "2.3522", "Paris")
	if k := (geohash.Strategy{}).Key(r); k != "" {
		t.Fatalf("expected empty key, got %q", k)
	}
	got := gdelt.Dedupe([]*gdelt.RawRecord{r, r}, geohash.Strategy{})
	if len(got) != 2 {
		t.Fatalf("records without a key should pass through, got %d", len(got))
	}
}
