package fetch_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pilosa/gdelt/fetch"
	"github.com/pilosa/gdelt/file"
)

func TestResolveMain(t *testing.T) {
	m := fetch.NewResolveMain()
	m.Config.BaseURL = "http://gdelt.example.com"
	m.Window.Start = "2019-03-01T00:00:00Z"
	m.Window.End = "2019-03-01T00:30:00Z"
	var stdout, stderr bytes.Buffer
	m.SetOutput(&stdout, &stderr)
	if err := m.Run(); err != nil {
		t.Fatalf("resolving: %v", err)
	}
	var want []string
	for _, p := range paths {
		want = append(want, "http://gdelt.example.com"+p)
	}
	if got := strings.Fields(stdout.String()); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("got %v, want %v", got, want)
	}

	m.JSON = true
	stdout.Reset()
	if err := m.Run(); err != nil {
		t.Fatalf("resolving: %v", err)
	}
	dec := json.NewDecoder(&stdout)
	for i := range paths {
		var tg struct{ URL, Kind string }
		if err := dec.Decode(&tg); err != nil {
			t.Fatalf("decoding target %d: %v", i, err)
		}
		if tg.URL != want[i] || tg.Kind != "events" {
			t.Fatalf("target %d: %+v", i, tg)
		}
	}

	m.Window.End = "2019-02-01"
	if err := m.Run(); err == nil {
		t.Fatal("expected an error for an inverted range")
	}
}

func TestDownloadMainMirror(t *testing.T) {
	srv := serve(t, map[string]string{
		paths[0]: artifact("1", "2"),
		paths[1]: "503",
		paths[2]: artifact("3"),
	})
	dir := t.TempDir()
	m := fetch.NewDownloadMain()
	m.Config.BaseURL = srv.URL
	m.Config.Policy = "warn"
	m.Window.Start = "2019-03-01T00:00:00Z"
	m.Window.End = "2019-03-01T00:30:00Z"
	m.Mirror = dir
	var stdout, stderr bytes.Buffer
	m.SetOutput(&stdout, &stderr)
	if err := m.Run(); err != nil {
		t.Fatalf("downloading: %v\n%s", err, stderr.String())
	}
	if n := strings.Count(stdout.String(), "\n"); n != 2 {
		t.Fatalf("expected two artifacts, got:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "downloaded 2 of 3 artifacts") {
		t.Fatalf("missing summary in %q", stderr.String())
	}

	// fetch from the mirror with a file base URL
	base, err := file.URL(dir)
	if err != nil {
		t.Fatalf("getting url: %v", err)
	}
	fm := fetch.NewMain()
	fm.Config.BaseURL = base
	fm.Config.Policy = "skip"
	fm.Start = "2019-03-01T00:00:00Z"
	fm.End = "2019-03-01T00:30:00Z"
	stdout.Reset()
	fm.SetOutput(&stdout, &stderr)
	if err := fm.Run(); err != nil {
		t.Fatalf("fetching from mirror: %v\n%s", err, stderr.String())
	}
	if n := strings.Count(stdout.String(), "\n"); n != 3 {
		t.Fatalf("got %d records from the mirror:\n%s", n, stdout.String())
	}

	m.Config.Policy = "raise"
	m.Mirror = ""
	if err := m.Run(); err == nil {
		t.Fatal("expected the unavailable artifact to fail under raise")
	}
}
