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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultBaseURL is the public archive root.
const DefaultBaseURL = "http://data.gdeltproject.org"

// Target is one resolved remote artifact.
type Target struct {
	URL        string
	Kind       Kind
	Timestamp  time.Time
	Translated bool
	// Selector is the inventory selector of the artifact, the station for
	// TV n-grams. It is empty for templated kinds.
	Selector string
}

func (t Target) String() string { return t.URL }

// Getter fetches a small remote document. The download package's Downloader
// implements it.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Resolver turns date ranges into Targets.
type Resolver struct {
	baseURL   string
	getter    Getter
	allowlist *Allowlist
	log       Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(r *Resolver)

// OptResolverBaseURL sets the archive root. The default is DefaultBaseURL.
func OptResolverBaseURL(base string) ResolverOption {
	return func(r *Resolver) {
		r.baseURL = strings.TrimSuffix(base, "/")
	}
}

// OptResolverGetter sets the Getter used for inventory kinds. Without one,
// resolving an inventory kind fails with a ConfigurationError.
func OptResolverGetter(g Getter) ResolverOption {
	return func(r *Resolver) {
		r.getter = g
	}
}

// OptResolverAllowlist sets the allowlist inventory entries are checked
// against. The default admits the base URL.
func OptResolverAllowlist(a *Allowlist) ResolverOption {
	return func(r *Resolver) {
		r.allowlist = a
	}
}

// OptResolverLogger sets the logger which receives warnings about dropped
// inventory entries.
func OptResolverLogger(l Logger) ResolverOption {
	return func(r *Resolver) {
		r.log = l
	}
}

// NewResolver returns a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		baseURL: DefaultBaseURL,
		log:     NopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = OrNop(r.log)
	return r
}

// BaseURL returns the archive root.
func (r *Resolver) BaseURL() string { return r.baseURL }

// Resolve lists the Targets of kind for dr against DefaultBaseURL. It is
// pure and so does not support inventory kinds.
func Resolve(dr DateRange, kind Kind) ([]Target, error) {
	if kind.Indexed() {
		return nil, &ConfigurationError{Setting: "getter", Reason: fmt.Sprintf("%s targets are listed in a remote inventory", kind)}
	}
	return NewResolver().Resolve(context.Background(), dr, kind)
}

// Resolve lists the Targets of kind covering dr, ordered by timestamp then
// URL.
func (r *Resolver) Resolve(ctx context.Context, dr DateRange, kind Kind) ([]Target, error) {
	return r.ResolveFilter(ctx, Filter{Range: dr}, kind)
}

// ResolveFilter is like Resolve, adding translation feeds when
// f.IncludeTranslated is set and restricting inventory kinds to
// f.Selectors.
func (r *Resolver) ResolveFilter(ctx context.Context, f Filter, kind Kind) ([]Target, error) {
	if !kind.Valid() {
		return nil, &ConfigurationError{Setting: "kind", Reason: fmt.Sprintf("unknown kind %d", int(kind))}
	}
	if err := f.Range.Validate(); err != nil {
		return nil, err
	}
	dr := f.Range.Normalized()
	var targets []Target
	var err error
	if kind.Indexed() {
		targets, err = r.resolveIndex(ctx, dr, kind, f.Selectors)
		if err != nil {
			return nil, err
		}
	} else {
		targets = r.resolveTemplate(dr, kind, f.IncludeTranslated)
	}
	sort.SliceStable(targets, func(i, j int) bool {
		if !targets[i].Timestamp.Equal(targets[j].Timestamp) {
			return targets[i].Timestamp.Before(targets[j].Timestamp)
		}
		return targets[i].URL < targets[j].URL
	})
	return targets, nil
}

func (r *Resolver) resolveTemplate(dr DateRange, kind Kind, translated bool) []Target {
	ks := kind.spec()
	var targets []Target
	for t := dr.Start.Truncate(ks.interval); !t.After(dr.End); t = t.Add(ks.interval) {
		stamp := t.Format(ks.layout)
		targets = append(targets, Target{
			URL:       r.baseURL + "/" + fmt.Sprintf(ks.path, stamp),
			Kind:      kind,
			Timestamp: t,
		})
		if translated && ks.translation != "" {
			targets = append(targets, Target{
				URL:        r.baseURL + "/" + fmt.Sprintf(ks.translation, stamp),
				Kind:       kind,
				Timestamp:  t,
				Translated: true,
			})
		}
	}
	return targets
}

// resolveIndex reads the kind's inventory, whose lines are "size md5 url".
// Entries outside the allowlist or not matching the kind's entry pattern
// are dropped with a warning.
func (r *Resolver) resolveIndex(ctx context.Context, dr DateRange, kind Kind, selectors []string) ([]Target, error) {
	if r.getter == nil {
		return nil, &ConfigurationError{Setting: "getter", Reason: fmt.Sprintf("%s targets are listed in a remote inventory", kind)}
	}
	ks := kind.spec()
	al := r.allowlist
	if al == nil {
		var err error
		al, err = DefaultAllowlist(r.baseURL)
		if err != nil {
			return nil, err
		}
	}
	indexURL := r.baseURL + "/" + ks.index.path
	if err := al.Check(indexURL); err != nil {
		return nil, err
	}
	data, err := r.getter.Get(ctx, indexURL)
	if err != nil {
		return nil, errors.Wrapf(err, "getting %s inventory", kind)
	}

	dateGroup := ks.index.entry.SubexpIndex("date")
	selGroup := ks.index.entry.SubexpIndex("selector")
	start := dr.Start.Truncate(ks.interval)
	seen := make(map[string]struct{})
	var targets []Target

	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		u := fields[len(fields)-1]
		if err := al.Check(u); err != nil {
			r.log.Printf("dropping %s inventory entry %d: %v", kind, n, err)
			continue
		}
		m := ks.index.entry.FindStringSubmatch(u)
		if m == nil {
			r.log.Printf("dropping %s inventory entry %d: unexpected url %q", kind, n, u)
			continue
		}
		ts, err := parseStamp(m[dateGroup])
		if err != nil {
			r.log.Printf("dropping %s inventory entry %d: %v", kind, n, err)
			continue
		}
		if ts.Before(start) || ts.After(dr.End) {
			continue
		}
		var sel string
		if selGroup >= 0 {
			sel = m[selGroup]
		}
		if len(selectors) > 0 && !containsFold(selectors, sel) {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		targets = append(targets, Target{URL: u, Kind: kind, Timestamp: ts, Selector: sel})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s inventory", kind)
	}
	return targets, nil
}

func parseStamp(s string) (time.Time, error) {
	layout := stampLayout
	if len(s) == len(dayLayout) {
		layout = dayLayout
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	return t, errors.Wrapf(err, "parsing timestamp %q", s)
}

func containsFold(list []string, s string) bool {
	for _, l := range list {
		if strings.EqualFold(l, s) {
			return true
		}
	}
	return false
}
