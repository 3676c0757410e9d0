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

// Package boltdb provides a download.Cache persisted in a bolt database.
package boltdb

import (
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pilosa/gdelt/download"
	"github.com/pkg/errors"
)

var _ download.Cache = &Cache{}

var artifactBucket = []byte("artifacts")

// Cache stores downloaded artifacts in a bolt database, keyed by URL. Each
// value is an entry encoded with download.EncodeEntry.
type Cache struct {
	Db  *bolt.DB
	ttl time.Duration

	mu  sync.RWMutex
	now func() time.Time
}

// NewCache opens or creates the bolt database at filename. Entries older
// than ttl are treated as missing; download.DefaultTTL is used if ttl is
// zero.
func NewCache(filename string, ttl time.Duration) (c *Cache, err error) {
	if ttl <= 0 {
		ttl = download.DefaultTTL
	}
	c = &Cache{ttl: ttl, now: time.Now}
	c.Db, err = bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	c.Db.MaxBatchDelay = 400 * time.Microsecond
	err = c.Db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(artifactBucket)
		return errors.Wrap(err, "creating artifact bucket")
	})
	if err != nil {
		c.Db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return c, nil
}

// SetClock replaces the cache's clock, for tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *Cache) clock() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now()
}

// Get implements download.Cache.
func (c *Cache) Get(url string) (data []byte, ok bool, err error) {
	var raw []byte
	err = c.Db.View(func(tx *bolt.Tx) error {
		// bolt's value is only valid inside the transaction
		if v := tx.Bucket(artifactBucket).Get([]byte(url)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, false, err
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
	err = c.Db.Batch(func(tx *bolt.Tx) error {
		return tx.Bucket(artifactBucket).Put([]byte(url), b)
	})
	return errors.Wrapf(err, "storing %s", url)
}

// Purge deletes expired entries and entries which cannot be decoded,
// returning how many were removed.
func (c *Cache) Purge() (n int, err error) {
	now := c.clock()
	err = c.Db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(artifactBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			_, stored, _, err := download.DecodeEntry(v)
			if err != nil || !now.Before(stored.Add(c.ttl)) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return errors.Wrapf(err, "deleting %s", k)
			}
		}
		n = len(stale)
		return nil
	})
	return n, errors.Wrap(err, "purging")
}

// Close syncs and closes the underlying boltdb.
func (c *Cache) Close() error {
	err := c.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return c.Db.Close()
}
