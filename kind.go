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
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Kind is an artifact kind. It selects the publication interval, the URL
// template or inventory, the parser family and the schema table.
type Kind int

// Known kinds.
const (
	Events Kind = iota + 1
	EventsDaily
	Mentions
	GKG
	Graph
	TVNGrams
)

// Format is the line format of a parser family.
type Format int

const (
	// Delimited lines are tab separated with a fixed field count per schema
	// version.
	Delimited Format = iota
	// JSONLines artifacts hold one JSON object per line.
	JSONLines
)

// indexSpec describes a kind whose artifacts are listed in a remote
// inventory rather than computed from a template. entry must have a named
// group "date" and may have a named group "selector".
type indexSpec struct {
	path  string
	entry *regexp.Regexp
}

type kindSpec struct {
	name        string
	interval    time.Duration
	layout      string // timestamp layout used in URLs
	path        string // relative URL, %s is replaced by the timestamp
	translation string // translation feed path, empty if there is none
	index       *indexSpec
	format      Format

	idFields      []string
	dateField     string
	dateLayout    string
	urlField      string
	locationField string
	latField      string
	lonField      string
	toneField     string
}

const (
	quarterHour = 15 * time.Minute
	day         = 24 * time.Hour

	stampLayout = "20060102150405"
	dayLayout   = "20060102"
)

var kinds = [...]kindSpec{
	Events: {
		name:          "events",
		interval:      quarterHour,
		layout:        stampLayout,
		path:          "gdeltv2/%s.export.CSV.zip",
		translation:   "gdeltv2/%s.translation.export.CSV.zip",
		idFields:      []string{"GlobalEventID"},
		dateField:     "Day",
		dateLayout:    dayLayout,
		urlField:      "SOURCEURL",
		locationField: "ActionGeo_FullName",
		latField:      "ActionGeo_Lat",
		lonField:      "ActionGeo_Long",
		toneField:     "AvgTone",
	},
	EventsDaily: {
		name:          "events-daily",
		interval:      day,
		layout:        dayLayout,
		path:          "events/%s.export.CSV.zip",
		idFields:      []string{"GlobalEventID"},
		dateField:     "Day",
		dateLayout:    dayLayout,
		urlField:      "SOURCEURL",
		locationField: "ActionGeo_FullName",
		latField:      "ActionGeo_Lat",
		lonField:      "ActionGeo_Long",
		toneField:     "AvgTone",
	},
	Mentions: {
		name:        "mentions",
		interval:    quarterHour,
		layout:      stampLayout,
		path:        "gdeltv2/%s.mentions.CSV.zip",
		translation: "gdeltv2/%s.translation.mentions.CSV.zip",
		idFields:    []string{"GlobalEventID", "MentionIdentifier", "SentenceID"},
		dateField:   "MentionTimeDate",
		dateLayout:  stampLayout,
		urlField:    "MentionIdentifier",
		toneField:   "MentionDocTone",
	},
	GKG: {
		name:        "gkg",
		interval:    quarterHour,
		layout:      stampLayout,
		path:        "gdeltv2/%s.gkg.csv.zip",
		translation: "gdeltv2/%s.translation.gkg.csv.zip",
		idFields:    []string{"GKGRECORDID"},
		dateField:   "DATE",
		dateLayout:  stampLayout,
		urlField:    "DocumentIdentifier",
		toneField:   "V2Tone",
	},
	Graph: {
		name:     "graph",
		interval: day,
		index: &indexSpec{
			path:  "gdeltv3/geg_gcnlapi/MASTERFILELIST.TXT",
			entry: regexp.MustCompile(`/gdeltv3/geg_gcnlapi/(?P<date>\d{14})\.geg-gcnlapi\.json\.gz$`),
		},
		format:     JSONLines,
		idFields:   []string{"url"},
		dateField:  "date",
		dateLayout: time.RFC3339,
		urlField:   "url",
		toneField:  "score",
	},
	TVNGrams: {
		name:     "tv-ngrams",
		interval: day,
		index: &indexSpec{
			path:  "gdeltv3/iatv/ngrams/MASTERFILELIST.TXT",
			entry: regexp.MustCompile(`/gdeltv3/iatv/ngrams/(?P<date>\d{8})\.(?P<selector>[A-Za-z0-9_]+)\.1gram\.txt\.gz$`),
		},
		idFields:   []string{"DATE", "STATION", "HOUR", "WORD"},
		dateField:  "DATE",
		dateLayout: dayLayout,
	},
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{Events, EventsDaily, Mentions, GKG, Graph, TVNGrams}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= Events && k <= TVNGrams
}

func (k Kind) String() string {
	if !k.Valid() {
		return "unknown"
	}
	return kinds[k].name
}

// Interval is the publication interval of k.
func (k Kind) Interval() time.Duration {
	if !k.Valid() {
		return 0
	}
	return kinds[k].interval
}

// Indexed reports whether k's artifacts are discovered through a remote
// inventory.
func (k Kind) Indexed() bool {
	return k.Valid() && kinds[k].index != nil
}

// Translatable reports whether k has a translation feed.
func (k Kind) Translatable() bool {
	return k.Valid() && kinds[k].translation != ""
}

// Format is the line format of k's artifacts.
func (k Kind) Format() Format {
	if !k.Valid() {
		return Delimited
	}
	return kinds[k].format
}

// IDFields are the columns which together identify a record of k.
func (k Kind) IDFields() []string {
	if !k.Valid() {
		return nil
	}
	return append([]string(nil), kinds[k].idFields...)
}

// DateField is the column holding a record's date, and DateLayout its
// time layout.
func (k Kind) DateField() string {
	if !k.Valid() {
		return ""
	}
	return kinds[k].dateField
}

// DateLayout is the layout of k's DateField.
func (k Kind) DateLayout() string {
	if !k.Valid() {
		return ""
	}
	return kinds[k].dateLayout
}

// ToneField is the column holding a record's tone, or "".
func (k Kind) ToneField() string {
	if !k.Valid() {
		return ""
	}
	return kinds[k].toneField
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, errors.Errorf("unknown kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	kk, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = kk
	return nil
}

// ParseKind parses the name of a kind. Matching ignores case and treats '_'
// like '-'.
func ParseKind(s string) (Kind, error) {
	n := strings.Replace(strings.ToLower(strings.TrimSpace(s)), "_", "-", -1)
	for _, k := range Kinds() {
		if kinds[k].name == n {
			return k, nil
		}
	}
	return 0, &ConfigurationError{Setting: "kind", Reason: "unknown kind " + s}
}

func (k Kind) spec() *kindSpec {
	return &kinds[k]
}
