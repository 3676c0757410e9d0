package download

import (
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// DefaultTTL is how long a cached artifact stays fresh.
const DefaultTTL = 15 * time.Minute

// Cache holds decompressed artifacts by URL. Implementations must be safe
// for concurrent use; the Downloader never holds a lock of its own across a
// network call, so two concurrent misses for one URL both fetch.
type Cache interface {
	Get(url string) (data []byte, ok bool, err error)
	Put(url string, data []byte) error
}

// MapCache is an in-memory Cache with a time to live.
type MapCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]mapEntry
	now     func() time.Time
}

type mapEntry struct {
	data    []byte
	expires time.Time
}

// NewMapCache returns a MapCache whose entries expire after ttl, DefaultTTL
// if ttl is zero.
func NewMapCache(ttl time.Duration) *MapCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MapCache{ttl: ttl, entries: make(map[string]mapEntry), now: time.Now}
}

// SetClock replaces the cache's clock, for tests.
func (c *MapCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get implements Cache.
func (c *MapCache) Get(url string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, url)
		return nil, false, nil
	}
	return e.data, true, nil
}

// Put implements Cache. Expired entries are evicted on every Put.
func (c *MapCache) Put(url string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[url] = mapEntry{data: data, expires: now.Add(c.ttl)}
	return nil
}

// Len is the number of entries, fresh or not.
func (c *MapCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// maxEntryHint caps the buffer preallocated from an entry's stored size.
const maxEntryHint = 64 << 20

// entry is the persisted form of a cached artifact. Data is zstd
// compressed.
type entry struct {
	URL    string `cbor:"1,keyasint"`
	Stored int64  `cbor:"2,keyasint"`
	Size   int    `cbor:"3,keyasint"`
	Data   []byte `cbor:"4,keyasint"`
}

var (
	encMode     cbor.EncMode
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("download: CBOR encoder initialization failed: " + err.Error())
	}
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("download: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("download: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeEntry serializes a cached artifact for a persistent Cache.
func EncodeEntry(url string, stored time.Time, data []byte) ([]byte, error) {
	b, err := encMode.Marshal(entry{
		URL:    url,
		Stored: stored.UnixNano(),
		Size:   len(data),
		Data:   zstdEncoder.EncodeAll(data, nil),
	})
	return b, errors.Wrap(err, "encoding cache entry")
}

// DecodeEntry reverses EncodeEntry.
func DecodeEntry(b []byte) (url string, stored time.Time, data []byte, err error) {
	var e entry
	if err := cbor.Unmarshal(b, &e); err != nil {
		return "", time.Time{}, nil, errors.Wrap(err, "decoding cache entry")
	}
	if e.Size < 0 {
		return "", time.Time{}, nil, errors.Errorf("cache entry for %s has negative size", e.URL)
	}
	hint := e.Size
	if hint > maxEntryHint {
		hint = maxEntryHint
	}
	data, err = zstdDecoder.DecodeAll(e.Data, make([]byte, 0, hint))
	if err != nil {
		return "", time.Time{}, nil, errors.Wrap(err, "decompressing cache entry")
	}
	if len(data) != e.Size {
		return "", time.Time{}, nil, errors.Errorf("cache entry for %s has %d bytes, expected %d", e.URL, len(data), e.Size)
	}
	return e.URL, time.Unix(0, e.Stored), data, nil
}
