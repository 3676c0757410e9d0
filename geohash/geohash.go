// Package geohash provides a dedup strategy keyed on the geohash of a
// record's coordinates.
package geohash

import (
	"strings"

	"github.com/mmcloughlin/geohash"
	"github.com/pilosa/gdelt"
)

// DefaultPrecision is roughly a 5km cell.
const DefaultPrecision = 5

// Strategy keys records by normalized source URL, day and the geohash of
// the record's coordinates. Records without a URL get an empty key. Records
// without coordinates fall back to the normalized location name.
type Strategy struct {
	Precision uint
}

var _ gdelt.Strategy = Strategy{}

// Key implements gdelt.Strategy.
func (s Strategy) Key(r *gdelt.RawRecord) gdelt.DedupKey {
	u := gdelt.NormalizeURL(r.URL())
	if u == "" {
		return ""
	}
	return gdelt.DedupKey(strings.Join([]string{u, gdelt.DayBucket(r), s.cell(r)}, "|"))
}

func (s Strategy) cell(r *gdelt.RawRecord) string {
	lat, lon, ok := r.Coordinates()
	if !ok {
		return gdelt.NormalizeLocation(r.Location())
	}
	p := s.Precision
	if p == 0 {
		p = DefaultPrecision
	}
	return geoHash(lat, lon, p)
}

func geoHash(lat, lon float64, precision uint) string {
	if precision > 12 {
		precision = 12
	}
	return geohash.EncodeWithPrecision(lat, lon, precision)
}
