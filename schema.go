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

import "strings"

// Column is one positional field of a Schema.
type Column struct {
	Name     string
	Required bool
}

// Schema is the positional column map of one version of one kind. Schemas
// are built once at init and never modified.
type Schema struct {
	Kind    Kind
	Version int
	Columns []Column

	index map[string]int
}

// Len is the number of fields a line of this schema has.
func (s *Schema) Len() int { return len(s.Columns) }

// Index returns the position of the named column, or -1. Lookup is case
// insensitive so that warehouse column names can be matched.
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	if i, ok := s.index[strings.ToLower(name)]; ok {
		return i
	}
	return -1
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func newSchema(kind Kind, version int, required []string, names ...string) *Schema {
	req := make(map[string]bool, len(required))
	for _, r := range required {
		req[r] = true
	}
	s := &Schema{
		Kind:    kind,
		Version: version,
		Columns: make([]Column, len(names)),
		index:   make(map[string]int, len(names)*2),
	}
	for i, n := range names {
		s.Columns[i] = Column{Name: n, Required: req[n]}
		s.index[n] = i
		s.index[strings.ToLower(n)] = i
	}
	return s
}

func actorColumns(prefix string) []string {
	return []string{
		prefix + "Code", prefix + "Name", prefix + "CountryCode", prefix + "KnownGroupCode",
		prefix + "EthnicCode", prefix + "Religion1Code", prefix + "Religion2Code",
		prefix + "Type1Code", prefix + "Type2Code", prefix + "Type3Code",
	}
}

func geoColumns(prefix string, adm2 bool) []string {
	cols := []string{prefix + "Type", prefix + "FullName", prefix + "CountryCode", prefix + "ADM1Code"}
	if adm2 {
		cols = append(cols, prefix+"ADM2Code")
	}
	return append(cols, prefix+"Lat", prefix+"Long", prefix+"FeatureID")
}

func eventColumns(v2 bool) []string {
	cols := []string{"GlobalEventID", "Day", "MonthYear", "Year", "FractionDate"}
	cols = append(cols, actorColumns("Actor1")...)
	cols = append(cols, actorColumns("Actor2")...)
	cols = append(cols, "IsRootEvent", "EventCode", "EventBaseCode", "EventRootCode", "QuadClass",
		"GoldsteinScale", "NumMentions", "NumSources", "NumArticles", "AvgTone")
	cols = append(cols, geoColumns("Actor1Geo_", v2)...)
	cols = append(cols, geoColumns("Actor2Geo_", v2)...)
	cols = append(cols, geoColumns("ActionGeo_", v2)...)
	cols = append(cols, "DATEADDED")
	if v2 {
		cols = append(cols, "SOURCEURL")
	}
	return cols
}

var gkgColumns = []string{
	"GKGRECORDID", "DATE", "SourceCollectionIdentifier", "SourceCommonName", "DocumentIdentifier",
	"Counts", "V2Counts", "Themes", "V2Themes", "Locations", "V2Locations", "Persons", "V2Persons",
	"Organizations", "V2Organizations", "V2Tone", "Dates", "GCAM", "SharingImage", "RelatedImages",
	"SocialImageEmbeds", "SocialVideoEmbeds", "Quotations", "AllNames", "Amounts", "TranslationInfo",
	"Extras",
}

var (
	eventRequired   = []string{"GlobalEventID", "Day", "DATEADDED"}
	mentionRequired = []string{"GlobalEventID", "EventTimeDate", "MentionTimeDate", "MentionIdentifier"}
	gkgRequired     = []string{"GKGRECORDID", "DATE"}
	graphRequired   = []string{"date", "url"}
	tvRequired      = []string{"DATE", "STATION", "WORD"}
)

// schemas is indexed by Kind and holds each known version, oldest first.
var schemas = [...][]*Schema{
	Events: {
		newSchema(Events, 1, eventRequired, eventColumns(false)...),
		newSchema(Events, 2, eventRequired, eventColumns(true)...),
	},
	EventsDaily: {
		newSchema(EventsDaily, 1, eventRequired, eventColumns(false)...),
		newSchema(EventsDaily, 2, eventRequired, eventColumns(true)...),
	},
	Mentions: {
		newSchema(Mentions, 1, mentionRequired,
			"GlobalEventID", "EventTimeDate", "MentionTimeDate", "MentionType", "MentionSourceName",
			"MentionIdentifier", "SentenceID", "Actor1CharOffset", "Actor2CharOffset", "ActionCharOffset",
			"InRawText", "Confidence", "MentionDocLen", "MentionDocTone", "MentionDocTranslationInfo", "Extras"),
	},
	GKG: {
		newSchema(GKG, 1, gkgRequired, gkgColumns[:15]...),
		newSchema(GKG, 2, gkgRequired, gkgColumns...),
	},
	Graph: {
		newSchema(Graph, 1, graphRequired, "date", "url", "lang", "polarity", "magnitude", "score", "entities"),
	},
	TVNGrams: {
		newSchema(TVNGrams, 1, tvRequired, "DATE", "STATION", "HOUR", "WORD", "COUNT"),
	},
}

// Schemas returns the known schema versions of kind, oldest first.
func Schemas(kind Kind) []*Schema {
	if !kind.Valid() {
		return nil
	}
	return schemas[kind]
}

// SchemaFor returns the schema of kind whose field count is fields.
func SchemaFor(kind Kind, fields int) (*Schema, bool) {
	for _, s := range Schemas(kind) {
		if s.Len() == fields {
			return s, true
		}
	}
	return nil, false
}

// LatestSchema returns the newest schema version of kind.
func LatestSchema(kind Kind) *Schema {
	s := Schemas(kind)
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}
