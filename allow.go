package gdelt

import (
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// AllowRule admits URLs with the given scheme and host whose cleaned path
// starts with PathPrefix. An empty PathPrefix admits any path.
type AllowRule struct {
	Scheme     string
	Host       string
	PathPrefix string
}

// Allowlist is checked before any URL is fetched. A nil Allowlist admits
// everything.
type Allowlist struct {
	rules []AllowRule
}

// NewAllowlist returns an Allowlist of rules.
func NewAllowlist(rules ...AllowRule) *Allowlist {
	return &Allowlist{rules: rules}
}

// DefaultAllowlist admits the host and path of base. An http or https base
// admits both schemes.
func DefaultAllowlist(base string) (*Allowlist, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing base url %q", base)
	}
	if u.Scheme == "" {
		return nil, &ConfigurationError{Setting: "base-url", Reason: "missing scheme in " + base}
	}
	prefix := strings.TrimSuffix(u.Path, "/")
	if prefix != "" {
		prefix = path.Clean(prefix) + "/"
	}
	scheme := strings.ToLower(u.Scheme)
	al := NewAllowlist(AllowRule{Scheme: scheme, Host: u.Host, PathPrefix: prefix})
	switch scheme {
	case "http":
		al.Allow(AllowRule{Scheme: "https", Host: u.Host, PathPrefix: prefix})
	case "https":
		al.Allow(AllowRule{Scheme: "http", Host: u.Host, PathPrefix: prefix})
	}
	return al, nil
}

// Allow adds rules.
func (a *Allowlist) Allow(rules ...AllowRule) {
	a.rules = append(a.rules, rules...)
}

// Rules returns a copy of the rules.
func (a *Allowlist) Rules() []AllowRule {
	if a == nil {
		return nil
	}
	return append([]AllowRule(nil), a.rules...)
}

// Check returns a DisallowedURLError if raw matches no rule.
func (a *Allowlist) Check(raw string) error {
	if a == nil {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &DisallowedURLError{URL: raw, Reason: "unparseable"}
	}
	if u.User != nil {
		return &DisallowedURLError{URL: raw, Reason: "credentials in url"}
	}
	p := u.Path
	if p != "" {
		p = path.Clean(p)
	}
	for _, r := range a.rules {
		if !strings.EqualFold(r.Scheme, u.Scheme) || !strings.EqualFold(r.Host, u.Host) {
			continue
		}
		if r.PathPrefix == "" || strings.HasPrefix(p, r.PathPrefix) || p+"/" == r.PathPrefix {
			return nil
		}
	}
	return &DisallowedURLError{URL: raw, Reason: "no matching rule"}
}
