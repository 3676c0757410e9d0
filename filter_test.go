package gdelt_test

import (
	"testing"
	"time"

	"github.com/pilosa/gdelt"
)

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		want       gdelt.DateRange
		err        bool
	}{
		{
			name:  "day",
			start: "2024-01-02",
			want: gdelt.DateRange{
				Start: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2024, 1, 2, 23, 59, 59, 0, time.UTC),
			},
		},
		{
			name:  "instants",
			start: "20240102101500",
			end:   "2024-01-02T11:00:00Z",
			want: gdelt.DateRange{
				Start: time.Date(2024, 1, 2, 10, 15, 0, 0, time.UTC),
				End:   time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC),
			},
		},
		{
			name:  "instant defaults end",
			start: "2024-01-02T10:00:00Z",
			want: gdelt.DateRange{
				Start: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
				End:   time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
			},
		},
		{name: "inverted", start: "2024-01-03", end: "2024-01-02", err: true},
		{name: "garbage", start: "yesterday", err: true},
		{name: "empty", start: "", err: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := gdelt.ParseDateRange(test.start, test.end)
			if test.err {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !got.Start.Equal(test.want.Start) || !got.End.Equal(test.want.End) {
				t.Fatalf("got %v, want %v", got, test.want)
			}
		})
	}
}

func TestDateRangeValidate(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if err := (gdelt.DateRange{Start: start}).Validate(); err != nil {
		t.Fatalf("end should default to start: %v", err)
	}
	err := (gdelt.DateRange{Start: start, End: start.Add(-time.Minute)}).Validate()
	if !gdelt.IsInvalidRange(err) {
		t.Fatalf("expected InvalidRangeError, got %v", err)
	}
	if !gdelt.IsInvalidRange((gdelt.DateRange{}).Validate()) {
		t.Fatal("zero range should be invalid")
	}
}

func TestFilterValidateTone(t *testing.T) {
	f := gdelt.Filter{
		Range:   gdelt.DateRange{Start: time.Now()},
		MinTone: fptr(2),
		MaxTone: fptr(1),
	}
	if err := f.Validate(); !gdelt.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestFilterMatch(t *testing.T) {
	event := mustRecord(t, gdelt.Events, map[string]string{
		"GlobalEventID":     "1",
		"Day":               "20240102",
		"DATEADDED":         "20240102000000",
		"Actor1CountryCode": "FRA",
		"Actor2Code":        "USAGOV",
		"AvgTone":           "-2.5",
	})
	gkg := mustRecord(t, gdelt.GKG, map[string]string{
		"GKGRECORDID": "20240102000000-1",
		"DATE":        "20240102000000",
		"Themes":      "PROTEST;ECON_INFLATION",
		"V2Themes":    "TAX_FNCACT_POLICE,120;ARMEDCONFLICT,44",
		"V2Tone":      "1.2,3,4,5,6,7,8",
	})
	translated := mustRecord(t, gdelt.GKG, map[string]string{
		"GKGRECORDID": "20240102000000-T3",
		"DATE":        "20240102000000",
	})
	translated.Translated = true
	tv := mustRecord(t, gdelt.TVNGrams, map[string]string{
		"DATE": "20240102", "STATION": "CNN", "WORD": "vote", "COUNT": "3",
	})

	tests := []struct {
		name   string
		filter gdelt.Filter
		record *gdelt.RawRecord
		want   bool
	}{
		{"no predicates", gdelt.Filter{}, event, true},
		{"actor country", gdelt.Filter{Actors: []string{"fra"}}, event, true},
		{"actor code", gdelt.Filter{Actors: []string{"USAGOV"}}, event, true},
		{"actor miss", gdelt.Filter{Actors: []string{"DEU"}}, event, false},
		{"actor ignored for gkg", gdelt.Filter{Actors: []string{"DEU"}}, gkg, true},
		{"v1 theme", gdelt.Filter{Themes: []string{"protest"}}, gkg, true},
		{"v2 theme", gdelt.Filter{Themes: []string{"ARMEDCONFLICT"}}, gkg, true},
		{"theme miss", gdelt.Filter{Themes: []string{"HEALTH"}}, gkg, false},
		{"min tone", gdelt.Filter{MinTone: fptr(-3)}, event, true},
		{"min tone miss", gdelt.Filter{MinTone: fptr(0)}, event, false},
		{"max tone gkg", gdelt.Filter{MaxTone: fptr(1)}, gkg, false},
		{"tone missing", gdelt.Filter{MinTone: fptr(0)}, translated, false},
		{"translated excluded", gdelt.Filter{}, translated, false},
		{"translated included", gdelt.Filter{IncludeTranslated: true}, translated, true},
		{"station", gdelt.Filter{Selectors: []string{"cnn"}}, tv, true},
		{"station miss", gdelt.Filter{Selectors: []string{"FOXNEWS"}}, tv, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.filter.Match(test.record); got != test.want {
				t.Fatalf("Match = %v, want %v", got, test.want)
			}
		})
	}
}
