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

// Package leveldb provides a download.Cache stored in a leveldb directory.
package leveldb

import (
	"os"
	"sync"
	"time"

	"github.com/pilosa/gdelt/download"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

var _ download.Cache = &Cache{}

// Cache stores downloaded artifacts in leveldb keyed by URL.
type Cache struct {
	db  *leveldb.DB
	ttl time.Duration

	lock sync.RWMutex
	now  func() time.Time
}

// NewCache opens or creates a leveldb cache in dirname. Entries older than
// ttl are treated as missing; download.DefaultTTL is used if ttl is zero.
func NewCache(dirname string, ttl time.Duration) (*Cache, error) {
	err := os.MkdirAll(dirname, 0700)
	if err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	if ttl <= 0 {
		ttl = download.DefaultTTL
	}
	db, err := leveldb.OpenFile(dirname, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname)
	}
	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// SetClock replaces the cache's clock, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.lock.Lock()
	c.now = now
	c.lock.Unlock()
}

func (c *Cache) clock() time.Time {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.now()
}

// Get implements download.Cache.
func (c *Cache) Get(url string) ([]byte, bool, error) {
	raw, err := c.db.Get([]byte(url), &opt.ReadOptions{})
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrap(err, "reading cache")
	}
	_, stored, data, err := download.DecodeEntry(raw)
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading %s", url)
	}
	if !c.clock().Before(stored.Add(c.ttl)) {
		return nil, false, nil
	}
	return data, true, nil
}

// Put implements download.Cache.
func (c *Cache) Put(url string, data []byte) error {
	b, err := download.EncodeEntry(url, c.clock(), data)
	if err != nil {
		return err
	}
	return errors.Wrapf(c.db.Put([]byte(url), b, &opt.WriteOptions{}), "storing %s", url)
}

// Purge deletes expired entries and entries which cannot be decoded,
// returning how many were removed.
func (c *Cache) Purge() (int, error) {
	now := c.clock()
	batch := new(leveldb.Batch)
	iter := c.db.NewIterator(nil, nil)
	for iter.Next() {
		_, stored, _, err := download.DecodeEntry(iter.Value())
		if err != nil || !now.Before(stored.Add(c.ttl)) {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return 0, errors.Wrap(err, "iterating cache")
	}
	if err := c.db.Write(batch, &opt.WriteOptions{}); err != nil {
		return 0, errors.Wrap(err, "purging")
	}
	return batch.Len(), nil
}

// Close closes the underlying leveldb.
func (c *Cache) Close() error {
	return errors.Wrap(c.db.Close(), "closing leveldb")
}
