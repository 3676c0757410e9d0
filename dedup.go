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

package gdelt

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// DedupKey identifies logically equal records. The empty key means the
// record cannot be keyed and is never treated as a duplicate.
type DedupKey string

// Strategy derives a DedupKey from a record. Strategies must be pure.
type Strategy interface {
	Key(r *RawRecord) DedupKey
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(r *RawRecord) DedupKey

// Key implements Strategy.
func (f StrategyFunc) Key(r *RawRecord) DedupKey { return f(r) }

// ByID keys records by kind and identifier.
var ByID Strategy = StrategyFunc(func(r *RawRecord) DedupKey {
	id := r.ID()
	if id == "" {
		return ""
	}
	return DedupKey(r.Kind.String() + "|" + id)
})

// ByURLDateLocation keys records by normalized source URL, day and normalized
// location name, so one story reported in several feeds collapses to one
// record.
var ByURLDateLocation Strategy = StrategyFunc(func(r *RawRecord) DedupKey {
	u := NormalizeURL(r.URL())
	if u == "" {
		return ""
	}
	return DedupKey(strings.Join([]string{u, DayBucket(r), NormalizeLocation(r.Location())}, "|"))
})

// DayBucket returns the record's date as YYYYMMDD, or "" if it has none.
func DayBucket(r *RawRecord) string {
	t, err := r.Date()
	if err != nil {
		return ""
	}
	return t.Format(dayLayout)
}

var trackingParams = []string{"utm_", "fbclid", "gclid"}

// NormalizeURL reduces u to host and path with the scheme, a leading "www.",
// default ports, fragments, tracking parameters and trailing slashes removed.
// Remaining query parameters are sorted. Unparseable input is lowercased and
// trimmed.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	p, err := url.Parse(u)
	if err != nil || p.Host == "" {
		return strings.ToLower(u)
	}
	host := strings.ToLower(p.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := p.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}
	path := strings.TrimRight(p.EscapedPath(), "/")

	q := p.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		if isTracking(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(host)
	b.WriteString(path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		vals := q[k]
		sort.Strings(vals)
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(strings.Join(vals, ",")))
	}
	return b.String()
}

func isTracking(k string) bool {
	k = strings.ToLower(k)
	for _, t := range trackingParams {
		if strings.HasPrefix(k, t) {
			return true
		}
	}
	return false
}

// NormalizeLocation lowercases name and collapses runs of punctuation and
// space into single spaces.
func NormalizeLocation(name string) string {
	f := strings.FieldsFunc(strings.ToLower(name), func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})
	return strings.Join(f, " ")
}

// Deduper remembers the keys it has admitted. The seen-set holds a fixed size
// digest per distinct key, so it grows with the number of distinct keys and
// not with their length or the number of records.
type Deduper struct {
	strategy Strategy
	seen     map[[32]byte]struct{}
}

// NewDeduper returns a Deduper using s.
func NewDeduper(s Strategy) *Deduper {
	return &Deduper{strategy: s, seen: make(map[[32]byte]struct{})}
}

// Admit reports whether r is the first record with its key, recording the key
// if so. Records with an empty key are always admitted.
func (d *Deduper) Admit(r *RawRecord) bool {
	key := d.strategy.Key(r)
	if key == "" {
		return true
	}
	sum := blake3.Sum256([]byte(key))
	if _, ok := d.seen[sum]; ok {
		return false
	}
	d.seen[sum] = struct{}{}
	return true
}

// Len is the number of distinct keys seen.
func (d *Deduper) Len() int { return len(d.seen) }

// Dedupe returns the first record for each key of records, in order.
func Dedupe(records []*RawRecord, s Strategy) []*RawRecord {
	d := NewDeduper(s)
	out := make([]*RawRecord, 0, len(records))
	for _, r := range records {
		if d.Admit(r) {
			out = append(out, r)
		}
	}
	return out
}

// DedupSource drops records whose key was already seen from an underlying
// Source.
type DedupSource struct {
	src     Source
	d       *Deduper
	stats   Statter
	dropped int
}

// NewDedupSource wraps src.
func NewDedupSource(src Source, s Strategy) *DedupSource {
	return &DedupSource{src: src, d: NewDeduper(s), stats: NopStatter{}}
}

// WithStatter reports dropped records to s as dedup.dropped.
func (s *DedupSource) WithStatter(st Statter) *DedupSource {
	s.stats = OrNopStatter(st)
	return s
}

// Record implements Source.
func (s *DedupSource) Record() (*RawRecord, error) {
	for {
		r, err := s.src.Record()
		if err != nil {
			return nil, err
		}
		if s.d.Admit(r) {
			return r, nil
		}
		s.dropped++
		s.stats.Count(StatDedupDropped, 1, 1)
	}
}

// Dropped is the number of records dropped so far.
func (s *DedupSource) Dropped() int { return s.dropped }

// Close implements Source.
func (s *DedupSource) Close() error { return s.src.Close() }
