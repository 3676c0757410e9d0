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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Origin tells which kind of backend produced a RawRecord.
type Origin int

const (
	// OriginFile records were parsed from a downloaded artifact.
	OriginFile Origin = iota
	// OriginQuery records came from a secondary query backend.
	OriginQuery
)

func (o Origin) String() string {
	if o == OriginQuery {
		return "query"
	}
	return "file"
}

// RawRecord is a positionally mapped record whose fields are all optional
// strings. Required fields of the schema are never nil; optional fields which
// were empty at the source are nil.
type RawRecord struct {
	Kind       Kind
	Version    int
	Translated bool
	Origin     Origin
	// Target is the artifact URL for file records, or the backend name for
	// query records.
	Target string
	// Line is the 1-based line number within the artifact, or the row
	// number for query records.
	Line int
	// Extra holds query columns which are not part of the schema.
	Extra map[string]string

	schema *Schema
	values []*string
}

// NewRawRecord maps fields onto schema. A field count which differs from the
// schema's is reported as a MalformedRecordError and no record is returned.
func NewRawRecord(schema *Schema, fields []string) (*RawRecord, error) {
	if len(fields) != schema.Len() {
		return nil, &MalformedRecordError{Kind: schema.Kind, Expected: schema.Len(), Actual: len(fields)}
	}
	r := &RawRecord{
		Kind:    schema.Kind,
		Version: schema.Version,
		schema:  schema,
		values:  make([]*string, len(fields)),
	}
	for i, f := range fields {
		r.values[i] = normalize(schema.Columns[i], f)
	}
	return r, nil
}

// RecordFromRow converts a query backend row into a RawRecord using the
// newest schema of kind. Columns are matched by name ignoring case; unknown
// columns are kept in Extra.
func RecordFromRow(kind Kind, row Row) (*RawRecord, error) {
	schema := LatestSchema(kind)
	if schema == nil {
		return nil, &ConfigurationError{Setting: "kind", Reason: fmt.Sprintf("unknown kind %d", int(kind))}
	}
	r := &RawRecord{
		Kind:    kind,
		Version: schema.Version,
		Origin:  OriginQuery,
		schema:  schema,
		values:  make([]*string, schema.Len()),
	}
	for name, v := range row {
		s, err := Stringify(v)
		if err != nil {
			return nil, &MalformedRecordError{Kind: kind, Err: errors.Wrapf(err, "column %s", name)}
		}
		i := schema.Index(name)
		if i < 0 {
			if s != nil {
				if r.Extra == nil {
					r.Extra = make(map[string]string)
				}
				r.Extra[name] = *s
			}
			continue
		}
		if s == nil {
			continue
		}
		r.values[i] = normalize(schema.Columns[i], *s)
	}
	empty := ""
	for i, c := range schema.Columns {
		if c.Required && r.values[i] == nil {
			r.values[i] = &empty
		}
	}
	if r.Kind == GKG && HasTranslationMarker(r.Value("GKGRECORDID")) {
		r.Translated = true
	}
	return r, nil
}

func normalize(c Column, f string) *string {
	if f == "" && !c.Required {
		return nil
	}
	return &f
}

// HasTranslationMarker reports whether a GKG record id carries the
// translation marker, a "-T" followed by digits, as in 20150218230000-T52.
func HasTranslationMarker(id string) bool {
	i := strings.LastIndex(id, "-T")
	if i < 0 || i+2 == len(id) {
		return false
	}
	for _, c := range id[i+2:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Schema returns the schema the record was mapped with.
func (r *RawRecord) Schema() *Schema { return r.schema }

// Len is the number of positional fields.
func (r *RawRecord) Len() int { return len(r.values) }

// Field returns the i'th positional value.
func (r *RawRecord) Field(i int) *string {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// Get returns the named value. The bool is false when the record's schema has
// no such column.
func (r *RawRecord) Get(name string) (*string, bool) {
	if r.schema == nil {
		return nil, false
	}
	i := r.schema.Index(name)
	if i < 0 {
		return nil, false
	}
	return r.values[i], true
}

// Value returns the named value, or "" when it is null or absent.
func (r *RawRecord) Value(name string) string {
	if v, _ := r.Get(name); v != nil {
		return *v
	}
	return ""
}

// Map returns the record as column name to value, nil for nulls. Extra
// columns are included.
func (r *RawRecord) Map() map[string]*string {
	m := make(map[string]*string, len(r.values)+len(r.Extra))
	for k, v := range r.Extra {
		v := v
		m[k] = &v
	}
	if r.schema == nil {
		return m
	}
	for i, c := range r.schema.Columns {
		m[c.Name] = r.values[i]
	}
	return m
}

// ID is the kind's identifier, the id fields joined by '|'. It is empty when
// every id field is empty.
func (r *RawRecord) ID() string {
	if !r.Kind.Valid() {
		return ""
	}
	fields := r.Kind.spec().idFields
	parts := make([]string, len(fields))
	empty := true
	for i, f := range fields {
		parts[i] = r.Value(f)
		if parts[i] != "" {
			empty = false
		}
	}
	if empty {
		return ""
	}
	return strings.Join(parts, "|")
}

// Date parses the kind's date field.
func (r *RawRecord) Date() (time.Time, error) {
	if !r.Kind.Valid() {
		return time.Time{}, errors.New("record has no kind")
	}
	ks := r.Kind.spec()
	v := r.Value(ks.dateField)
	if v == "" {
		return time.Time{}, errors.Errorf("empty %s", ks.dateField)
	}
	for _, layout := range []string{ks.dateLayout, stampLayout, dayLayout, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unparseable %s %q", ks.dateField, v)
}

// URL is the source document URL of the record, if its kind has one.
func (r *RawRecord) URL() string {
	if !r.Kind.Valid() || r.Kind.spec().urlField == "" {
		return ""
	}
	return r.Value(r.Kind.spec().urlField)
}

// Location is the location name of the record, if its kind has one.
func (r *RawRecord) Location() string {
	if !r.Kind.Valid() || r.Kind.spec().locationField == "" {
		return ""
	}
	return r.Value(r.Kind.spec().locationField)
}

// Coordinates returns the latitude and longitude of the record's location.
func (r *RawRecord) Coordinates() (lat, lon float64, ok bool) {
	if !r.Kind.Valid() || r.Kind.spec().latField == "" {
		return 0, 0, false
	}
	ks := r.Kind.spec()
	lat, err := strconv.ParseFloat(r.Value(ks.latField), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(r.Value(ks.lonField), 64)
	if err != nil {
		return 0, 0, false
	}
	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

// Tone returns the record's tone. For comma separated tone fields like GKG's
// V2Tone the first value is the average tone.
func (r *RawRecord) Tone() (float64, bool) {
	if !r.Kind.Valid() || r.Kind.spec().toneField == "" {
		return 0, false
	}
	v := r.Value(r.Kind.spec().toneField)
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return t, true
}

// MarshalJSON writes the record as an object of its columns plus the
// metadata keys _kind, _version, _translated, _origin and _target.
func (r *RawRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.values)+len(r.Extra)+5)
	for k, v := range r.Map() {
		if v == nil {
			m[k] = nil
		} else {
			m[k] = *v
		}
	}
	m["_kind"] = r.Kind.String()
	m["_version"] = r.Version
	m["_translated"] = r.Translated
	m["_origin"] = r.Origin.String()
	m["_target"] = r.Target
	return json.Marshal(m)
}

func (r *RawRecord) String() string {
	return fmt.Sprintf("%s/v%d %s", r.Kind, r.Version, r.ID())
}

// Row is a dict-like row from a query backend.
type Row map[string]interface{}

// Columns returns the row's column names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Stringify converts a decoded row value to the string form used in
// RawRecords. nil converts to nil.
func Stringify(v interface{}) (*string, error) {
	var s string
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case json.Number:
		s = v.String()
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			s = strconv.FormatInt(int64(v), 10)
		} else {
			s = strconv.FormatFloat(v, 'f', -1, 64)
		}
	case float32:
		s = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case int32:
		s = strconv.FormatInt(int64(v), 10)
	case uint64:
		s = strconv.FormatUint(v, 10)
	case bool:
		s = strconv.FormatBool(v)
	case time.Time:
		s = v.UTC().Format(stampLayout)
	case []interface{}, map[string]interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "marshaling nested value")
		}
		s = string(b)
	default:
		return nil, errors.Errorf("unsupported value type %T", v)
	}
	return &s, nil
}
