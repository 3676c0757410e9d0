package download

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pilosa/gdelt"
	"github.com/pkg/errors"
)

// Opener opens a URL for reading. Implementations report rate limiting as
// gdelt.RateLimitedError and an unreachable or failing service as
// gdelt.BackendUnavailableError; any other error concerns only that URL.
type Opener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) (io.ReadCloser, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	return f(ctx, url)
}

// HTTPOpener opens http and https URLs with GET. It performs no retries.
type HTTPOpener struct {
	client    *http.Client
	userAgent string
}

// HTTPOpenerOption configures an HTTPOpener.
type HTTPOpenerOption func(o *HTTPOpener)

// OptHTTPOpenerClient sets the client.
func OptHTTPOpenerClient(c *http.Client) HTTPOpenerOption {
	return func(o *HTTPOpener) {
		o.client = c
	}
}

// OptHTTPOpenerTimeout sets a per-request timeout on a default client.
func OptHTTPOpenerTimeout(t time.Duration) HTTPOpenerOption {
	return func(o *HTTPOpener) {
		o.client = &http.Client{Timeout: t}
	}
}

// OptHTTPOpenerUserAgent sets the User-Agent header.
func OptHTTPOpenerUserAgent(ua string) HTTPOpenerOption {
	return func(o *HTTPOpener) {
		o.userAgent = ua
	}
}

// NewHTTPOpener returns an HTTPOpener whose default client times out after
// 60 seconds.
func NewHTTPOpener(opts ...HTTPOpenerOption) *HTTPOpener {
	o := &HTTPOpener{
		client:    &http.Client{Timeout: 60 * time.Second},
		userAgent: "gdelt-ingest",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open implements Opener.
func (o *HTTPOpener) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", url)
	}
	if o.userAgent != "" {
		req.Header.Set("User-Agent", o.userAgent)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, errors.Wrapf(err, "getting %s", url)
		}
		return nil, &gdelt.BackendUnavailableError{Backend: req.URL.Host, Err: err}
	}
	if err := gdelt.StatusError(req.URL.Host, resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errors.Wrapf(err, "getting %s", url)
	}
	return resp.Body, nil
}
