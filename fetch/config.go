package fetch

import (
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/aws/s3"
	"github.com/pilosa/gdelt/boltdb"
	"github.com/pilosa/gdelt/download"
	"github.com/pilosa/gdelt/file"
	"github.com/pilosa/gdelt/geohash"
	"github.com/pilosa/gdelt/leveldb"
	"github.com/pilosa/gdelt/query"
	"github.com/pilosa/gdelt/query/sqlite"
	"github.com/pkg/errors"
)

// Config holds the settings shared by every command which fetches records.
type Config struct {
	BaseURL     string        `help:"Base URL of the GDELT file tree. http, https, s3 and file URLs are supported."`
	Allow       []string      `help:"Additional base URLs artifacts may be downloaded from."`
	Concurrency int           `help:"Maximum number of downloads in flight."`
	Timeout     time.Duration `help:"Timeout for each HTTP request."`
	MaxSize     int64         `help:"Maximum size in bytes of one downloaded artifact."`
	Policy      string        `help:"What to do with a bad record or artifact: raise, warn or skip."`
	Fallback    bool          `help:"Switch to the secondary backend when the file server is rate limited or unavailable."`
	Warehouse   string        `help:"Endpoint of an HTTP query warehouse to use as the secondary backend."`
	SQLite      string        `help:"Path of a SQLite database to use as the secondary backend."`
	Cache       string        `help:"Artifact cache: none, memory, bolt or leveldb."`
	CachePath   string        `help:"File (bolt) or directory (leveldb) holding the artifact cache."`
	CacheTTL    time.Duration `help:"How long cached artifacts stay fresh."`
	Dedup       string        `help:"Deduplication strategy: none, id, url or geohash."`
	Precision   uint          `help:"Geohash precision used by the geohash dedup strategy."`
	AWSRegion   string        `help:"AWS region for s3 base URLs."`
	Verbose     bool          `help:"Log debug output."`
}

// NewConfig returns a Config with the default settings.
func NewConfig() Config {
	return Config{
		BaseURL:     gdelt.DefaultBaseURL,
		Concurrency: download.DefaultConcurrency,
		Timeout:     60 * time.Second,
		MaxSize:     download.DefaultMaxSize,
		Policy:      gdelt.PolicyWarn.String(),
		Fallback:    true,
		Cache:       "none",
		CacheTTL:    download.DefaultTTL,
		Dedup:       "none",
		Precision:   geohash.DefaultPrecision,
		AWSRegion:   "us-east-1",
	}
}

// Logger returns a logger writing to w, verbose when configured.
func (c *Config) Logger(w io.Writer) gdelt.Logger {
	l := log.New(w, "", log.LstdFlags)
	if c.Verbose {
		return gdelt.VerboseLogger{Logger: l}
	}
	return gdelt.StdLogger{Logger: l}
}

// Pipeline is everything built from a Config. Close releases the cache and
// the secondary backend.
type Pipeline struct {
	Fetcher    *Fetcher
	Downloader *download.Downloader
	Resolver   *gdelt.Resolver
	Secondary  query.Backend
	Cache      download.Cache
	SQLite     *sqlite.Backend

	closers []io.Closer
}

// Close closes what the Pipeline opened.
func (p *Pipeline) Close() error {
	var err error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if cerr := p.closers[i].Close(); err == nil && cerr != nil {
			err = cerr
		}
	}
	p.closers = nil
	return err
}

// Setup builds the download, resolution and fetch stack. Nothing is
// contacted over the network; missing settings are reported as
// gdelt.ConfigurationError.
func (c *Config) Setup(logger gdelt.Logger, stats gdelt.Statter) (*Pipeline, error) {
	p := &Pipeline{}
	if err := c.setup(p, gdelt.OrNop(logger), gdelt.OrNopStatter(stats)); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (c *Config) setup(p *Pipeline, logger gdelt.Logger, stats gdelt.Statter) error {
	policy, err := gdelt.ParseFailurePolicy(c.Policy)
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(c.BaseURL, "/")
	if base == "" {
		return &gdelt.ConfigurationError{Setting: "base-url", Reason: "required"}
	}
	al := gdelt.NewAllowlist()
	schemes := map[string]bool{}
	for _, b := range append([]string{base}, c.Allow...) {
		bl, err := gdelt.DefaultAllowlist(strings.TrimSuffix(b, "/"))
		if err != nil {
			return errors.Wrapf(err, "allowing %s", b)
		}
		for _, r := range bl.Rules() {
			al.Allow(r)
			schemes[r.Scheme] = true
		}
	}

	dopts := []download.Option{
		download.OptConcurrency(c.Concurrency),
		download.OptMaxSize(c.MaxSize),
		download.OptAllowlist(al),
		download.OptLogger(logger),
		download.OptStatter(stats),
	}
	if c.Timeout > 0 {
		dopts = append(dopts, download.OptHTTPTimeout(c.Timeout))
	}
	if schemes[file.Scheme] {
		dopts = append(dopts, download.OptOpener(file.Scheme, file.Opener{}))
	}
	if schemes[s3.Scheme] {
		o, err := s3.NewOpener(s3.OptOpenerRegion(c.AWSRegion))
		if err != nil {
			return err
		}
		dopts = append(dopts, download.OptOpener(s3.Scheme, o))
	}

	switch strings.ToLower(c.Cache) {
	case "", "none":
	case "memory":
		p.Cache = download.NewMapCache(c.CacheTTL)
	case "bolt":
		if c.CachePath == "" {
			return &gdelt.ConfigurationError{Setting: "cache-path", Reason: "required for the bolt cache"}
		}
		bc, err := boltdb.NewCache(c.CachePath, c.CacheTTL)
		if err != nil {
			return errors.Wrap(err, "opening bolt cache")
		}
		p.Cache = bc
		p.closers = append(p.closers, bc)
	case "leveldb":
		if c.CachePath == "" {
			return &gdelt.ConfigurationError{Setting: "cache-path", Reason: "required for the leveldb cache"}
		}
		lc, err := leveldb.NewCache(c.CachePath, c.CacheTTL)
		if err != nil {
			return errors.Wrap(err, "opening leveldb cache")
		}
		p.Cache = lc
		p.closers = append(p.closers, lc)
	default:
		return &gdelt.ConfigurationError{Setting: "cache", Reason: "unknown cache " + c.Cache}
	}
	if p.Cache != nil {
		dopts = append(dopts, download.OptCache(p.Cache))
	}
	p.Downloader = download.New(dopts...)

	switch {
	case c.Warehouse != "" && c.SQLite != "":
		return &gdelt.ConfigurationError{Setting: "warehouse", Reason: "cannot be combined with sqlite"}
	case c.Warehouse != "":
		if _, err := url.Parse(c.Warehouse); err != nil {
			return &gdelt.ConfigurationError{Setting: "warehouse", Reason: err.Error()}
		}
		p.Secondary = query.NewHTTPBackend(c.Warehouse, query.OptHTTPTimeout(c.Timeout))
	case c.SQLite != "":
		p.SQLite = sqlite.New(c.SQLite)
		p.Secondary = p.SQLite
		p.closers = append(p.closers, p.SQLite)
	}

	strategy, err := c.strategy()
	if err != nil {
		return err
	}

	p.Resolver = gdelt.NewResolver(
		gdelt.OptResolverBaseURL(base),
		gdelt.OptResolverGetter(p.Downloader),
		gdelt.OptResolverAllowlist(al),
		gdelt.OptResolverLogger(logger),
	)
	fopts := []Option{
		OptResolver(p.Resolver),
		OptDownloader(p.Downloader),
		OptFallback(c.Fallback),
		OptPolicy(policy),
		OptLogger(logger),
		OptStatter(stats),
	}
	if p.Secondary != nil {
		fopts = append(fopts, OptSecondary(p.Secondary))
	}
	if strategy != nil {
		fopts = append(fopts, OptDedup(strategy))
	}
	p.Fetcher = New(fopts...)
	return nil
}

func (c *Config) strategy() (gdelt.Strategy, error) {
	switch strings.ToLower(c.Dedup) {
	case "", "none":
		return nil, nil
	case "id":
		return gdelt.ByID, nil
	case "url":
		return gdelt.ByURLDateLocation, nil
	case "geohash":
		return geohash.Strategy{Precision: c.Precision}, nil
	}
	return nil, &gdelt.ConfigurationError{Setting: "dedup", Reason: "unknown strategy " + c.Dedup}
}
