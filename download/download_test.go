package download_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/download"
	"github.com/pilosa/gdelt/mock"
)

func mustZip(t *testing.T, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(members))
	for n := range members {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(members[n])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func mustGzip(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// allowServer admits every URL of srv.
func allowServer(srv *httptest.Server) *gdelt.Allowlist {
	u, _ := url.Parse(srv.URL)
	return gdelt.NewAllowlist(gdelt.AllowRule{Scheme: u.Scheme, Host: u.Host})
}

func collect(ch <-chan download.Artifact) map[string]string {
	got := make(map[string]string)
	for a := range ch {
		got[a.URL()] = string(a.Data)
	}
	return got
}

func TestStreamSubsetOfSuccesses(t *testing.T) {
	zipped := mustZip(t, map[string]string{"a.CSV": "zip body"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			w.Write([]byte("plain body"))
		case "/zip":
			w.Write(zipped)
		case "/gz":
			w.Write(mustGzip(t, "gzip body"))
		case "/corrupt":
			w.Write([]byte("PK\x03\x04garbage"))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	stats := mock.NewRecordingStatter()
	logger := &mock.RecordingLogger{}
	d := download.New(download.OptAllowlist(allowServer(srv)), download.OptStatter(stats), download.OptLogger(logger), download.OptConcurrency(2))
	urls := []string{
		srv.URL + "/missing",
		srv.URL + "/zip",
		"http://elsewhere.example.com/plain",
		srv.URL + "/corrupt",
		srv.URL + "/plain",
		srv.URL + "/broken",
		srv.URL + "/gz",
	}
	got := collect(d.Stream(context.Background(), urls))
	want := map[string]string{
		srv.URL + "/plain": "plain body",
		srv.URL + "/zip":   "zip body",
		srv.URL + "/gz":    "gzip body",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected artifacts (-want +got):\n%s", diff)
	}
	if n := stats.Counter(gdelt.StatDownloadFailed); n != 4 {
		t.Fatalf("download.failed = %d, want 4", n)
	}
	if n := stats.Counter(gdelt.StatDownloadOK); n != 3 {
		t.Fatalf("download.ok = %d, want 3", n)
	}
	if n := len(logger.Lines()); n != 4 {
		t.Fatalf("expected 4 logged failures, got %v", logger.Lines())
	}
}

func TestStreamCompletionOrder(t *testing.T) {
	release := make(chan struct{})
	var slowDone int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-release:
			case <-time.After(10 * time.Second):
			}
			atomic.StoreInt32(&slowDone, 1)
		}
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	d := download.New(download.OptAllowlist(allowServer(srv)), download.OptConcurrency(4))
	ch := d.Stream(context.Background(), []string{srv.URL + "/slow", srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"})

	first := <-ch
	if atomic.LoadInt32(&slowDone) != 0 {
		t.Fatal("first artifact arrived after the slow download finished")
	}
	if first.URL() == srv.URL+"/slow" {
		t.Fatal("slow artifact yielded first")
	}
	close(release)

	rest := collect(ch)
	if len(rest) != 3 {
		t.Fatalf("expected 3 more artifacts, got %v", rest)
	}
	if _, ok := rest[srv.URL+"/slow"]; !ok {
		t.Fatal("slow artifact missing")
	}
}

func TestStreamConcurrencyBound(t *testing.T) {
	var inFlight, maxInFlight int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var urls []string
	for i := 0; i < 20; i++ {
		urls = append(urls, srv.URL+"/"+strings.Repeat("x", i+1))
	}
	got := collect(download.New(download.OptAllowlist(allowServer(srv)), download.OptConcurrency(3)).Stream(context.Background(), urls))
	if len(got) != 20 {
		t.Fatalf("expected 20 artifacts, got %d", len(got))
	}
	if m := atomic.LoadInt32(&maxInFlight); m > 3 {
		t.Fatalf("%d downloads in flight, limit 3", m)
	}
}

func TestStreamCancel(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.URL.Path != "/fast" {
			<-r.Context().Done()
			return
		}
		w.Write([]byte("fast"))
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/fast"}
	for i := 0; i < 10; i++ {
		urls = append(urls, srv.URL+"/hang")
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := download.New(download.OptAllowlist(allowServer(srv)), download.OptConcurrency(2)).Stream(ctx, urls)
	a := <-ch
	if a.URL() != srv.URL+"/fast" {
		t.Fatalf("unexpected first artifact %s", a.URL())
	}
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
	if n := atomic.LoadInt32(&requests); n > 4 {
		t.Fatalf("%d requests issued after cancellation, expected at most 4", n)
	}
}

func TestStreamTargetsClassifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/limited":
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	targets := []gdelt.Target{{URL: srv.URL + "/limited"}, {URL: srv.URL + "/down"}, {URL: srv.URL + "/gone"}}
	d := download.New(download.OptAllowlist(allowServer(srv)))

	got := make(map[string]error)
	for res := range d.StreamTargets(context.Background(), targets) {
		got[res.URL()] = res.Err
	}
	if !gdelt.IsRecoverable(got[srv.URL+"/limited"]) || !gdelt.IsRecoverable(got[srv.URL+"/down"]) {
		t.Fatalf("expected recoverable errors, got %v", got)
	}
	if err := got[srv.URL+"/gone"]; err == nil || gdelt.IsRecoverable(err) {
		t.Fatalf("404 should be a plain error, got %v", err)
	}
}

func TestDownloaderCache(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write(mustGzip(t, "cached"))
	}))
	defer srv.Close()

	cache := download.NewMapCache(time.Minute)
	stats := mock.NewRecordingStatter()
	d := download.New(download.OptAllowlist(allowServer(srv)), download.OptCache(cache), download.OptStatter(stats))
	for i := 0; i < 3; i++ {
		data, err := d.Get(context.Background(), srv.URL+"/x")
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "cached" {
			t.Fatalf("got %q", data)
		}
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Fatalf("expected one request, got %d", n)
	}
	if n := stats.Counter(gdelt.StatDownloadCacheHit); n != 2 {
		t.Fatalf("download.cache_hit = %d, want 2", n)
	}
}

func TestMapCacheTTL(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	c := download.NewMapCache(time.Minute)
	c.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	if err := c.Put("u", []byte("v")); err != nil {
		t.Fatal(err)
	}
	advance(59 * time.Second)
	if v, ok, _ := c.Get("u"); !ok || string(v) != "v" {
		t.Fatalf("expected fresh entry, got %q %v", v, ok)
	}
	advance(time.Second)
	if _, ok, _ := c.Get("u"); ok {
		t.Fatal("entry should have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted, len %d", c.Len())
	}
}

func TestPackageStreamRejectsOffDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	}))
	defer srv.Close()
	got := collect(download.Stream(context.Background(), []string{srv.URL + "/a", srv.URL + "/b"}, 2))
	if len(got) != 0 {
		t.Fatalf("expected nothing, got %v", got)
	}
}

func TestDownloaderMaxSize(t *testing.T) {
	bomb := mustGzip(t, strings.Repeat("\x00", 4<<20))
	plain := strings.Repeat("x", 2<<10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bomb.gz":
			w.Write(bomb)
		case "/small.gz":
			w.Write(mustGzip(t, "small\n"))
		default:
			w.Write([]byte(plain))
		}
	}))
	defer srv.Close()
	if len(bomb) >= 1<<20 {
		t.Fatalf("compressed body is %d bytes, expected it under the limit", len(bomb))
	}

	d := download.New(download.OptAllowlist(allowServer(srv)), download.OptMaxSize(1<<20))
	_, err := d.Get(context.Background(), srv.URL+"/bomb.gz")
	if _, ok := err.(*gdelt.CorruptArtifactError); !ok {
		t.Fatalf("expected CorruptArtifactError for an artifact inflating past the limit, got %T %v", err, err)
	}
	if data, err := d.Get(context.Background(), srv.URL+"/small.gz"); err != nil || string(data) != "small\n" {
		t.Fatalf("got %q, %v", data, err)
	}

	d = download.New(download.OptAllowlist(allowServer(srv)), download.OptMaxSize(1<<10))
	if _, err := d.Get(context.Background(), srv.URL+"/plain"); err == nil {
		t.Fatal("expected an error for a body over the limit")
	}
}
