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

package boltdb

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/boltdb/bolt"
)

func TestBoltCache(t *testing.T) {
	boltFile := filepath.Join(t.TempDir(), "cache.db")
	c, err := NewCache(boltFile, time.Minute)
	if err != nil {
		t.Fatalf("couldn't get bolt cache: %v", err)
	}
	now := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	if _, ok, err := c.Get("http://data.gdeltproject.org/a"); err != nil || ok {
		t.Fatalf("expected miss on empty cache, got ok=%v err=%v", ok, err)
	}
	if err := c.Put("http://data.gdeltproject.org/a", []byte("hello")); err != nil {
		t.Fatalf("putting: %v", err)
	}
	data, ok, err := c.Get("http://data.gdeltproject.org/a")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("unexpected value: %s", data)
	}

	err = c.Close()
	if err != nil {
		t.Fatalf("closing bolt cache: %v", err)
	}

	c, err = NewCache(boltFile, time.Minute)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer c.Close()
	c.SetClock(func() time.Time { return now.Add(30 * time.Second) })
	data, ok, err = c.Get("http://data.gdeltproject.org/a")
	if err != nil || !ok || !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("after reopen, got %q ok=%v err=%v", data, ok, err)
	}

	c.SetClock(func() time.Time { return now.Add(2 * time.Minute) })
	if _, ok, _ := c.Get("http://data.gdeltproject.org/a"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestBoltCachePurge(t *testing.T) {
	c, err := NewCache(filepath.Join(t.TempDir(), "cache.db"), time.Minute)
	if err != nil {
		t.Fatalf("couldn't get bolt cache: %v", err)
	}
	defer c.Close()
	now := time.Date(2019, 3, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })
	for _, u := range []string{"a", "b"} {
		if err := c.Put(u, []byte(u)); err != nil {
			t.Fatalf("putting %s: %v", u, err)
		}
	}
	err = c.Db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(artifactBucket).Put([]byte("junk"), []byte{0xff, 0x00})
	})
	if err != nil {
		t.Fatalf("writing junk: %v", err)
	}
	if _, ok, err := c.Get("junk"); err == nil || ok {
		t.Fatalf("expected decode error for junk, got ok=%v err=%v", ok, err)
	}

	c.SetClock(func() time.Time { return now.Add(30 * time.Second) })
	if err := c.Put("c", []byte("c")); err != nil {
		t.Fatalf("putting c: %v", err)
	}

	c.SetClock(func() time.Time { return now.Add(75 * time.Second) })
	n, err := c.Purge()
	if err != nil {
		t.Fatalf("purging: %v", err)
	}
	if n != 3 {
		t.Fatalf("purged %d entries, want 3", n)
	}
	if _, ok, _ := c.Get("c"); !ok {
		t.Fatal("fresh entry c was purged")
	}
}
