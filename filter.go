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
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DateRange is an inclusive range of instants. A zero End means End equals
// Start.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Normalized returns the range in UTC with End defaulted.
func (d DateRange) Normalized() DateRange {
	n := DateRange{Start: d.Start.UTC(), End: d.End.UTC()}
	if d.End.IsZero() {
		n.End = n.Start
	}
	return n
}

// Validate returns an InvalidRangeError when the range has no start or when
// start is after end.
func (d DateRange) Validate() error {
	if d.Start.IsZero() {
		return &InvalidRangeError{}
	}
	n := d.Normalized()
	if n.Start.After(n.End) {
		return &InvalidRangeError{Start: n.Start, End: n.End}
	}
	return nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", stampLayout}
var dayLayouts = []string{"2006-01-02", dayLayout}

// ParseDateRange parses start and end in RFC 3339, YYYY-MM-DD, YYYYMMDD or
// YYYYMMDDHHMMSS form, in UTC. A date-only end covers the whole of that day;
// an empty end defaults to start, or to the end of start's day if start is
// date-only.
func ParseDateRange(start, end string) (DateRange, error) {
	s, sDay, err := parseDate(start)
	if err != nil {
		return DateRange{}, errors.Wrap(err, "parsing start")
	}
	var e time.Time
	eDay := sDay
	if strings.TrimSpace(end) == "" {
		e = s
	} else {
		e, eDay, err = parseDate(end)
		if err != nil {
			return DateRange{}, errors.Wrap(err, "parsing end")
		}
	}
	if eDay {
		e = e.Add(day - time.Second)
	}
	dr := DateRange{Start: s, End: e}
	return dr, dr.Validate()
}

func parseDate(v string) (t time.Time, dateOnly bool, err error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, &InvalidRangeError{}
	}
	for _, l := range dayLayouts {
		if t, err := time.ParseInLocation(l, v, time.UTC); err == nil {
			return t, true, nil
		}
	}
	for _, l := range dateLayouts {
		if t, err := time.ParseInLocation(l, v, time.UTC); err == nil {
			return t.UTC(), false, nil
		}
	}
	return time.Time{}, false, errors.Errorf("unrecognized date %q", v)
}

// Filter is a request: a DateRange plus optional predicates. A Filter is a
// value and is never modified by this package.
type Filter struct {
	Range DateRange

	// Actors matches actor codes or actor country codes of event records.
	Actors []string
	// Themes matches GKG themes.
	Themes []string
	// MinTone and MaxTone bound the record's tone when set.
	MinTone *float64
	MaxTone *float64
	// Selectors restrict inventory kinds by their selector, the station for
	// TV n-grams.
	Selectors []string
	// IncludeTranslated adds the translation feeds of kinds which have
	// one, and admits translated query rows.
	IncludeTranslated bool
}

// Validate checks the range and the tone bounds.
func (f Filter) Validate() error {
	if err := f.Range.Validate(); err != nil {
		return err
	}
	if f.MinTone != nil && f.MaxTone != nil && *f.MinTone > *f.MaxTone {
		return &ConfigurationError{Setting: "tone", Reason: "minimum is above maximum"}
	}
	return nil
}

var actorFields = []string{"Actor1Code", "Actor2Code", "Actor1CountryCode", "Actor2CountryCode"}

// Match applies the predicates to r. Predicates which do not apply to r's
// kind are ignored.
func (f Filter) Match(r *RawRecord) bool {
	if r.Translated && !f.IncludeTranslated {
		return false
	}
	switch r.Kind {
	case Events, EventsDaily:
		if len(f.Actors) > 0 && !anyValue(r, actorFields, f.Actors) {
			return false
		}
	case GKG:
		if len(f.Themes) > 0 && !hasTheme(r, f.Themes) {
			return false
		}
	case TVNGrams:
		if len(f.Selectors) > 0 && !anyValue(r, []string{"STATION"}, f.Selectors) {
			return false
		}
	}
	if f.MinTone != nil || f.MaxTone != nil {
		tone, ok := r.Tone()
		if !ok && r.Kind.Valid() && r.Kind.spec().toneField != "" {
			return false
		}
		if ok && f.MinTone != nil && tone < *f.MinTone {
			return false
		}
		if ok && f.MaxTone != nil && tone > *f.MaxTone {
			return false
		}
	}
	return true
}

func anyValue(r *RawRecord, fields, want []string) bool {
	for _, field := range fields {
		v := r.Value(field)
		if v == "" {
			continue
		}
		for _, w := range want {
			if strings.EqualFold(v, w) {
				return true
			}
		}
	}
	return false
}

// hasTheme checks the Themes column, "A;B;C", and V2Themes, "A,12;B,40".
func hasTheme(r *RawRecord, want []string) bool {
	for _, field := range []string{"Themes", "V2Themes"} {
		for _, t := range strings.Split(r.Value(field), ";") {
			if i := strings.IndexByte(t, ','); i >= 0 {
				t = t[:i]
			}
			if t == "" {
				continue
			}
			for _, w := range want {
				if strings.EqualFold(t, w) {
					return true
				}
			}
		}
	}
	return false
}
