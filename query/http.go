package query

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pilosa/gdelt"
	"github.com/pkg/errors"
)

// Request is the JSON body an HTTPBackend posts to its endpoint.
type Request struct {
	Kind              string    `json:"kind"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	Actors            []string  `json:"actors,omitempty"`
	Themes            []string  `json:"themes,omitempty"`
	MinTone           *float64  `json:"min_tone,omitempty"`
	MaxTone           *float64  `json:"max_tone,omitempty"`
	Selectors         []string  `json:"selectors,omitempty"`
	IncludeTranslated bool      `json:"include_translated,omitempty"`
	Columns           []string  `json:"columns,omitempty"`
	Limit             int       `json:"limit,omitempty"`
}

// NewRequest builds the request for f, kind and opts.
func NewRequest(f gdelt.Filter, kind gdelt.Kind, opts Options) Request {
	dr := f.Range.Normalized()
	return Request{
		Kind:              kind.String(),
		Start:             dr.Start,
		End:               dr.End,
		Actors:            f.Actors,
		Themes:            f.Themes,
		MinTone:           f.MinTone,
		MaxTone:           f.MaxTone,
		Selectors:         f.Selectors,
		IncludeTranslated: f.IncludeTranslated,
		Columns:           opts.Columns,
		Limit:             opts.Limit,
	}
}

// Filter converts the request back into a Filter and Kind.
func (r Request) Filter() (gdelt.Filter, gdelt.Kind, error) {
	kind, err := gdelt.ParseKind(r.Kind)
	if err != nil {
		return gdelt.Filter{}, 0, err
	}
	f := gdelt.Filter{
		Range:             gdelt.DateRange{Start: r.Start, End: r.End},
		Actors:            r.Actors,
		Themes:            r.Themes,
		MinTone:           r.MinTone,
		MaxTone:           r.MaxTone,
		Selectors:         r.Selectors,
		IncludeTranslated: r.IncludeTranslated,
	}
	return f, kind, f.Validate()
}

// ErrorKey is the only key of the row a gateway sends when a stream fails
// after rows have been written.
const ErrorKey = "_error"

// HTTPBackend queries a warehouse gateway which accepts a JSON Request by POST
// and answers with newline delimited JSON rows.
type HTTPBackend struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	header   http.Header
	name     string
}

// HTTPOption configures an HTTPBackend.
type HTTPOption func(b *HTTPBackend)

// DefaultHTTPTimeout bounds connecting and waiting for response headers.
const DefaultHTTPTimeout = 60 * time.Second

// OptHTTPClient sets the client, replacing the one built from the timeout.
func OptHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		b.client = c
	}
}

// OptHTTPTimeout bounds connecting and waiting for response headers. Rows
// are read at the consumer's pace, so the body has no deadline.
func OptHTTPTimeout(d time.Duration) HTTPOption {
	return func(b *HTTPBackend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// OptHTTPHeader adds a header to every request, for example an
// Authorization header supplied by the credential loader.
func OptHTTPHeader(key, value string) HTTPOption {
	return func(b *HTTPBackend) {
		b.header.Add(key, value)
	}
}

// OptHTTPName sets the name used in errors and record targets.
func OptHTTPName(name string) HTTPOption {
	return func(b *HTTPBackend) {
		b.name = name
	}
}

// NewHTTPBackend returns an HTTPBackend for endpoint. An empty endpoint is
// only reported when Query is called.
func NewHTTPBackend(endpoint string, opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		endpoint: endpoint,
		timeout:  DefaultHTTPTimeout,
		header:   make(http.Header),
		name:     "warehouse",
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		b.client = &http.Client{Transport: newTransport(b.timeout)}
	}
	return b
}

// newTransport bounds dialing and response headers only. Reading the body
// has no deadline.
func newTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Name implements Backend.
func (b *HTTPBackend) Name() string { return b.name }

// Timeout is the connect and response header timeout.
func (b *HTTPBackend) Timeout() time.Duration { return b.timeout }

// Query implements Backend.
func (b *HTTPBackend) Query(ctx context.Context, f gdelt.Filter, kind gdelt.Kind, opts Options) (RowSource, error) {
	if b.endpoint == "" {
		return nil, &gdelt.ConfigurationError{Setting: "query-endpoint"}
	}
	body, err := json.Marshal(NewRequest(f, kind, opts))
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}
	req, err := http.NewRequest(http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &gdelt.ConfigurationError{Setting: "query-endpoint", Reason: err.Error()}
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	for k, vs := range b.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(b.name, err)
	}
	if err := gdelt.StatusError(b.name, resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, err
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return &httpRows{name: b.name, body: resp.Body, dec: dec, limit: opts.Limit}, nil
}

// classify turns transport failures into BackendUnavailableError. Timeouts
// stay plain errors.
func classify(name string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Wrapf(err, "querying %s", name)
	}
	return &gdelt.BackendUnavailableError{Backend: name, Err: err}
}

type httpRows struct {
	name  string
	body  io.ReadCloser
	dec   *json.Decoder
	n     int
	limit int
}

func (r *httpRows) Row() (gdelt.Row, error) {
	if r.limit > 0 && r.n >= r.limit {
		return nil, io.EOF
	}
	row := make(gdelt.Row)
	if err := r.dec.Decode(&row); err == io.EOF {
		return nil, io.EOF
	} else if err != nil {
		return nil, errors.Wrap(err, "decoding row")
	}
	if msg, ok := row[ErrorKey]; ok && len(row) == 1 {
		return nil, errors.Errorf("%s stream failed: %v", r.name, msg)
	}
	r.n++
	return row, nil
}

func (r *httpRows) Close() error {
	return r.body.Close()
}
