package gdelt_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/mock"
	"github.com/pkg/errors"
)

type getterFunc func(ctx context.Context, url string) ([]byte, error)

func (f getterFunc) Get(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

func urls(targets []gdelt.Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.URL
	}
	return out
}

func TestResolveTemplate(t *testing.T) {
	dr := gdelt.DateRange{
		Start: time.Date(2024, 1, 2, 10, 7, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC),
	}
	got, err := gdelt.Resolve(dr, gdelt.Events)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"http://data.gdeltproject.org/gdeltv2/20240102100000.export.CSV.zip",
		"http://data.gdeltproject.org/gdeltv2/20240102101500.export.CSV.zip",
		"http://data.gdeltproject.org/gdeltv2/20240102103000.export.CSV.zip",
	}
	if diff := cmp.Diff(want, urls(got)); diff != "" {
		t.Fatalf("unexpected targets (-want +got):\n%s", diff)
	}
	if !got[1].Timestamp.Equal(time.Date(2024, 1, 2, 10, 15, 0, 0, time.UTC)) || got[1].Kind != gdelt.Events {
		t.Fatalf("unexpected target %+v", got[1])
	}
}

func TestResolveDaily(t *testing.T) {
	r := gdelt.NewResolver(gdelt.OptResolverBaseURL("https://mirror.example.org/gdelt/"))
	dr := gdelt.DateRange{
		Start: time.Date(2013, 4, 1, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2013, 4, 3, 0, 0, 0, 0, time.UTC),
	}
	got, err := r.Resolve(context.Background(), dr, gdelt.EventsDaily)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"https://mirror.example.org/gdelt/events/20130401.export.CSV.zip",
		"https://mirror.example.org/gdelt/events/20130402.export.CSV.zip",
		"https://mirror.example.org/gdelt/events/20130403.export.CSV.zip",
	}
	if diff := cmp.Diff(want, urls(got)); diff != "" {
		t.Fatalf("unexpected targets (-want +got):\n%s", diff)
	}
}

func TestResolveTranslated(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	f := gdelt.Filter{Range: gdelt.DateRange{Start: at}, IncludeTranslated: true}
	got, err := gdelt.NewResolver().ResolveFilter(context.Background(), f, gdelt.GKG)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 targets, got %v", urls(got))
	}
	if got[0].Translated || !got[1].Translated {
		t.Fatalf("unexpected translation flags %+v", got)
	}
	if !strings.HasSuffix(got[1].URL, "20240102000000.translation.gkg.csv.zip") {
		t.Fatalf("unexpected translation url %s", got[1].URL)
	}
}

func TestResolveInvalidRange(t *testing.T) {
	dr := gdelt.DateRange{Start: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	if _, err := gdelt.Resolve(dr, gdelt.Events); !gdelt.IsInvalidRange(err) {
		t.Fatalf("expected InvalidRangeError, got %v", err)
	}
}

const tvInventory = `
1000 d41d8cd98f00b204e9800998ecf8427e http://data.gdeltproject.org/gdeltv3/iatv/ngrams/20240101.CNN.1gram.txt.gz
1000 d41d8cd98f00b204e9800998ecf8427e http://data.gdeltproject.org/gdeltv3/iatv/ngrams/20240102.FOXNEWS.1gram.txt.gz
1000 d41d8cd98f00b204e9800998ecf8427e http://data.gdeltproject.org/gdeltv3/iatv/ngrams/20240102.CNN.1gram.txt.gz
1000 d41d8cd98f00b204e9800998ecf8427e http://evil.example.com/gdeltv3/iatv/ngrams/20240102.CNN.1gram.txt.gz
1000 d41d8cd98f00b204e9800998ecf8427e http://data.gdeltproject.org/gdeltv3/iatv/ngrams/readme.txt
1000 d41d8cd98f00b204e9800998ecf8427e http://data.gdeltproject.org/gdeltv3/iatv/ngrams/20240103.CNN.1gram.txt.gz
1000 d41d8cd98f00b204e9800998ecf8427e http://data.gdeltproject.org/gdeltv3/iatv/ngrams/20240102.CNN.1gram.txt.gz
`

func TestResolveIndex(t *testing.T) {
	var asked []string
	getter := getterFunc(func(ctx context.Context, url string) ([]byte, error) {
		asked = append(asked, url)
		return []byte(tvInventory), nil
	})
	logger := &mock.RecordingLogger{}
	r := gdelt.NewResolver(gdelt.OptResolverGetter(getter), gdelt.OptResolverLogger(logger))
	f := gdelt.Filter{
		Range:     gdelt.DateRange{Start: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 2, 23, 59, 59, 0, time.UTC)},
		Selectors: []string{"cnn"},
	}
	got, err := r.ResolveFilter(context.Background(), f, gdelt.TVNGrams)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"http://data.gdeltproject.org/gdeltv3/iatv/ngrams/20240102.CNN.1gram.txt.gz"}
	if diff := cmp.Diff(want, urls(got)); diff != "" {
		t.Fatalf("unexpected targets (-want +got):\n%s", diff)
	}
	if got[0].Selector != "CNN" {
		t.Fatalf("selector = %q", got[0].Selector)
	}
	if len(asked) != 1 || asked[0] != "http://data.gdeltproject.org/gdeltv3/iatv/ngrams/MASTERFILELIST.TXT" {
		t.Fatalf("unexpected inventory requests %v", asked)
	}
	if n := len(logger.Lines()); n != 2 {
		t.Fatalf("expected 2 warnings for dropped entries, got %d: %v", n, logger.Lines())
	}
}

func TestResolveIndexErrors(t *testing.T) {
	dr := gdelt.DateRange{Start: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	if _, err := gdelt.Resolve(dr, gdelt.Graph); !gdelt.IsConfiguration(err) {
		t.Fatalf("expected configuration error without getter, got %v", err)
	}

	unavailable := getterFunc(func(ctx context.Context, url string) ([]byte, error) {
		return nil, &gdelt.BackendUnavailableError{Backend: "archive", Err: errors.New("connection refused")}
	})
	_, err := gdelt.NewResolver(gdelt.OptResolverGetter(unavailable)).Resolve(context.Background(), dr, gdelt.Graph)
	if !gdelt.IsRecoverable(err) {
		t.Fatalf("expected recoverable error, got %v", err)
	}
}
