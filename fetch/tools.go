package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/file"
	"github.com/pkg/errors"
)

// Window is the date range, kind and feed selection shared by the resolve
// and download commands.
type Window struct {
	Kind       string   `help:"Artifact kind: events, events-daily, mentions, gkg, graph or tv-ngrams."`
	Start      string   `help:"Start of the date range."`
	End        string   `help:"End of the date range, defaults to start."`
	Selectors  []string `help:"Stations for tv-ngrams."`
	Translated bool     `help:"Include the machine translated feeds."`
}

func (w Window) filter() (gdelt.Filter, gdelt.Kind, error) {
	kind, err := gdelt.ParseKind(w.Kind)
	if err != nil {
		return gdelt.Filter{}, 0, err
	}
	dr, err := gdelt.ParseDateRange(w.Start, w.End)
	if err != nil {
		return gdelt.Filter{}, 0, err
	}
	return gdelt.Filter{Range: dr, Selectors: w.Selectors, IncludeTranslated: w.Translated}, kind, nil
}

// ResolveMain holds the config for the resolve command.
type ResolveMain struct {
	Config Config
	Window Window
	JSON   bool `help:"Print one JSON object per target instead of URLs."`

	stdout io.Writer
	stderr io.Writer
}

// NewResolveMain gets a new ResolveMain with default values.
func NewResolveMain() *ResolveMain {
	return &ResolveMain{
		Config: NewConfig(),
		Window: Window{Kind: gdelt.Events.String()},
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// SetOutput sets where targets and logs are written.
func (m *ResolveMain) SetOutput(stdout, stderr io.Writer) {
	m.stdout, m.stderr = stdout, stderr
}

// Run prints the targets of the window.
func (m *ResolveMain) Run() error {
	f, kind, err := m.Window.filter()
	if err != nil {
		return err
	}
	p, err := m.Config.Setup(m.Config.Logger(m.stderr), nil)
	if err != nil {
		return errors.Wrap(err, "setting up")
	}
	defer p.Close()
	targets, err := p.Resolver.ResolveFilter(context.Background(), f, kind)
	if err != nil {
		return errors.Wrapf(err, "resolving %s", kind)
	}
	enc := json.NewEncoder(m.stdout)
	for _, t := range targets {
		if m.JSON {
			err = enc.Encode(struct {
				URL        string    `json:"url"`
				Kind       string    `json:"kind"`
				Timestamp  time.Time `json:"timestamp"`
				Translated bool      `json:"translated,omitempty"`
				Selector   string    `json:"selector,omitempty"`
			}{t.URL, t.Kind.String(), t.Timestamp, t.Translated, t.Selector})
		} else {
			_, err = fmt.Fprintln(m.stdout, t.URL)
		}
		if err != nil {
			return errors.Wrap(err, "writing target")
		}
	}
	return nil
}

// DownloadMain holds the config for the download command.
type DownloadMain struct {
	Config Config
	Window Window
	URLs   []string `help:"Download these URLs instead of resolving the window."`
	Mirror string   `help:"Directory to save artifacts into, usable later as a file:// base URL."`

	stdout io.Writer
	stderr io.Writer
}

// NewDownloadMain gets a new DownloadMain with default values.
func NewDownloadMain() *DownloadMain {
	return &DownloadMain{
		Config: NewConfig(),
		Window: Window{Kind: gdelt.Events.String()},
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// SetOutput sets where the listing and logs are written.
func (m *DownloadMain) SetOutput(stdout, stderr io.Writer) {
	m.stdout, m.stderr = stdout, stderr
}

// Run downloads the artifacts and prints one line per artifact as it
// completes: its URL, its decompressed size and, with a mirror, the saved
// path. Failures go through the configured policy.
func (m *DownloadMain) Run() error {
	return m.RunContext(context.Background())
}

// RunContext is Run with a context.
func (m *DownloadMain) RunContext(ctx context.Context) error {
	logger := m.Config.Logger(m.stderr)
	p, err := m.Config.Setup(logger, nil)
	if err != nil {
		return errors.Wrap(err, "setting up")
	}
	defer p.Close()
	var mirror *file.Mirror
	if m.Mirror != "" {
		if mirror, err = file.NewMirror(m.Mirror); err != nil {
			return errors.Wrap(err, "opening mirror")
		}
	}

	var targets []gdelt.Target
	if len(m.URLs) > 0 {
		for _, u := range m.URLs {
			targets = append(targets, gdelt.Target{URL: u})
		}
	} else {
		f, kind, err := m.Window.filter()
		if err != nil {
			return err
		}
		if targets, err = p.Resolver.ResolveFilter(ctx, f, kind); err != nil {
			return errors.Wrapf(err, "resolving %s", kind)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	policy := p.Fetcher.Policy()
	var n, size int
	for res := range p.Downloader.StreamTargets(ctx, targets) {
		if res.Err != nil {
			if err := policy.Handle(res.Err, logger); err != nil {
				return err
			}
			continue
		}
		line := fmt.Sprintf("%s\t%d", res.URL(), len(res.Data))
		if mirror != nil {
			saved, err := mirror.Save(res.URL(), res.Data)
			if err != nil {
				return err
			}
			line += "\t" + saved
		}
		if _, err := fmt.Fprintln(m.stdout, line); err != nil {
			return errors.Wrap(err, "writing listing")
		}
		n++
		size += len(res.Data)
	}
	logger.Printf("downloaded %d of %d artifacts, %d bytes", n, len(targets), size)
	return ctx.Err()
}
