package fetch_test

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/fetch"
	"github.com/pilosa/gdelt/query"
	"github.com/pilosa/gdelt/query/sqlite"
)

func TestMainFetchToStdout(t *testing.T) {
	srv := serve(t, map[string]string{
		paths[0]: artifact("1", "2"),
		paths[1]: artifact("2", "3"),
		paths[2]: artifact("4"),
	})
	m := fetch.NewMain()
	m.Config.BaseURL = srv.URL
	m.Config.Dedup = "id"
	m.Config.Cache = "memory"
	m.Start = "2019-03-01T00:00:00Z"
	m.End = "2019-03-01T00:30:00Z"
	var stdout, stderr bytes.Buffer
	m.SetOutput(&stdout, &stderr)
	if err := m.Run(); err != nil {
		t.Fatalf("running: %v\n%s", err, stderr.String())
	}
	var got []string
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		var rec map[string]interface{}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decoding %q: %v", line, err)
		}
		got = append(got, rec["GlobalEventID"].(string))
	}
	if want := "1 2 3 4"; strings.Join(got, " ") != want {
		t.Fatalf("got %v, want %s", got, want)
	}
	if !strings.Contains(stderr.String(), "wrote 4 events records") {
		t.Fatalf("missing summary in %q", stderr.String())
	}
}

func TestMainFetchToSQLite(t *testing.T) {
	srv := serve(t, map[string]string{
		paths[0]: artifact("1", "2"),
		paths[1]: artifact("3"),
		paths[2]: artifact("4"),
	})
	db := filepath.Join(t.TempDir(), "mirror.db")
	m := fetch.NewMain()
	m.Config.BaseURL = srv.URL
	m.Start = "20190301000000"
	m.End = "20190301003000"
	m.Output = "sqlite:" + db
	var stdout, stderr bytes.Buffer
	m.SetOutput(&stdout, &stderr)
	if err := m.Run(); err != nil {
		t.Fatalf("running: %v\n%s", err, stderr.String())
	}

	// the mirror now serves as a secondary backend
	m = fetch.NewMain()
	m.Config.SQLite = db
	m.FallbackOnly = true
	m.Start = "2019-03-01"
	stdout.Reset()
	m.SetOutput(&stdout, &stderr)
	if err := m.Run(); err != nil {
		t.Fatalf("running from sqlite: %v\n%s", err, stderr.String())
	}
	if n := strings.Count(stdout.String(), "\n"); n != 4 {
		t.Fatalf("got %d records from the mirror:\n%s", n, stdout.String())
	}
}

func TestMainFilter(t *testing.T) {
	m := fetch.NewMain()
	m.Kind = "GKG"
	m.Start = "2019-03-01"
	m.MinTone = "-2.5"
	m.Themes = []string{"TAX_FNCACT"}
	f, kind, err := m.Filter()
	if err != nil {
		t.Fatalf("building filter: %v", err)
	}
	if kind != gdelt.GKG || *f.MinTone != -2.5 || f.MaxTone != nil || len(f.Themes) != 1 {
		t.Fatalf("unexpected filter %+v for %v", f, kind)
	}
	if f.Range.End.Sub(f.Range.Start).Hours() < 23 {
		t.Fatalf("date-only start should cover the day, got %v", f.Range)
	}

	tests := []struct {
		name string
		edit func(m *fetch.Main)
		ok   func(error) bool
	}{
		{name: "kind", edit: func(m *fetch.Main) { m.Kind = "tweets" }, ok: gdelt.IsConfiguration},
		{name: "range", edit: func(m *fetch.Main) { m.End = "2019-02-01" }, ok: gdelt.IsInvalidRange},
		{name: "tone", edit: func(m *fetch.Main) { m.MaxTone = "loud" }, ok: gdelt.IsConfiguration},
		{name: "tone bounds", edit: func(m *fetch.Main) { m.MinTone, m.MaxTone = "3", "1" }, ok: gdelt.IsConfiguration},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := fetch.NewMain()
			m.Start = "2019-03-01"
			test.edit(m)
			if _, _, err := m.Filter(); !test.ok(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestConfigSetup(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *fetch.Config)
		err  bool
	}{
		{name: "defaults"},
		{name: "policy", edit: func(c *fetch.Config) { c.Policy = "ignore" }, err: true},
		{name: "cache", edit: func(c *fetch.Config) { c.Cache = "redis" }, err: true},
		{name: "bolt without path", edit: func(c *fetch.Config) { c.Cache = "bolt" }, err: true},
		{name: "dedup", edit: func(c *fetch.Config) { c.Dedup = "fuzzy" }, err: true},
		{name: "base url", edit: func(c *fetch.Config) { c.BaseURL = "data.gdeltproject.org" }, err: true},
		{name: "two secondaries", edit: func(c *fetch.Config) { c.Warehouse, c.SQLite = "http://warehouse", "x.db" }, err: true},
		{name: "geohash", edit: func(c *fetch.Config) { c.Dedup = "geohash" }},
		{name: "file mirror", edit: func(c *fetch.Config) { c.BaseURL = "file:///srv/gdelt" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := fetch.NewConfig()
			if test.edit != nil {
				test.edit(&c)
			}
			p, err := c.Setup(nil, nil)
			if test.err {
				if !gdelt.IsConfiguration(err) {
					t.Fatalf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("setting up: %v", err)
			}
			defer p.Close()
			if p.Fetcher == nil || p.Downloader == nil || p.Resolver == nil {
				t.Fatalf("incomplete pipeline %+v", p)
			}
		})
	}
}

func TestConfigSetupBackends(t *testing.T) {
	c := fetch.NewConfig()
	c.Warehouse = "http://warehouse.example.com/query"
	c.Cache = "leveldb"
	c.CachePath = t.TempDir()
	c.Timeout = 7 * time.Second
	p, err := c.Setup(nil, nil)
	if err != nil {
		t.Fatalf("setting up: %v", err)
	}
	hb, ok := p.Secondary.(*query.HTTPBackend)
	if !ok {
		t.Fatalf("secondary is %T", p.Secondary)
	}
	if hb.Timeout() != 7*time.Second {
		t.Fatalf("warehouse timeout %v, want the configured 7s", hb.Timeout())
	}
	if p.Cache == nil {
		t.Fatal("no cache")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	c = fetch.NewConfig()
	c.SQLite = filepath.Join(t.TempDir(), "mirror.db")
	c.Cache = "bolt"
	c.CachePath = filepath.Join(t.TempDir(), "cache.db")
	p, err = c.Setup(nil, nil)
	if err != nil {
		t.Fatalf("setting up: %v", err)
	}
	defer p.Close()
	if _, ok := p.Secondary.(*sqlite.Backend); !ok {
		t.Fatalf("secondary is %T", p.Secondary)
	}
	if p.Fetcher.Secondary() == nil {
		t.Fatal("fetcher has no secondary")
	}
}
