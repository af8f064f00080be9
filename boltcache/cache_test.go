package boltcache_test

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/libsurvey/plsk"
	"github.com/libsurvey/plsk/boltcache"
)

func openCache(t *testing.T) *boltcache.Cache {
	t.Helper()
	c, err := boltcache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := openCache(t)
	ed := plsk.EditionDescriptor{
		Year:         2021,
		Revision:     "r2",
		LastModified: time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	p := &plsk.Payload{
		Edition: ed,
		Tables: map[plsk.EntityKind][]byte{
			plsk.KindLibrary: []byte("FSCSKEY,LIBNAME\nAK0001,ANCHORAGE\n"),
		},
	}
	p.Checksum = plsk.ChecksumTables(p.Tables)

	if _, ok, err := c.Get(ed); err != nil || ok {
		t.Fatalf("expected miss on empty cache: ok=%v err=%v", ok, err)
	}
	if err := c.Put(p); err != nil {
		t.Fatalf("putting: %v", err)
	}
	got, ok, err := c.Get(ed)
	if err != nil || !ok {
		t.Fatalf("expected hit: ok=%v err=%v", ok, err)
	}
	if got.Checksum != p.Checksum {
		t.Fatalf("checksum changed: %q vs %q", got.Checksum, p.Checksum)
	}
	if !bytes.Equal(got.Tables[plsk.KindLibrary], p.Tables[plsk.KindLibrary]) {
		t.Fatalf("table bytes changed: %q", got.Tables[plsk.KindLibrary])
	}
}

func TestLastModifiedMismatchIsMiss(t *testing.T) {
	c := openCache(t)
	ed := plsk.EditionDescriptor{
		Year:         2021,
		LastModified: time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	p := &plsk.Payload{Edition: ed, Tables: map[plsk.EntityKind][]byte{plsk.KindLibrary: []byte("x")}}
	p.Checksum = plsk.ChecksumTables(p.Tables)
	if err := c.Put(p); err != nil {
		t.Fatalf("putting: %v", err)
	}

	// The publisher republished the edition: same year, newer marker.
	republished := ed
	republished.LastModified = ed.LastModified.Add(24 * time.Hour)
	if _, ok, err := c.Get(republished); err != nil || ok {
		t.Fatalf("stale entry must read as a miss: ok=%v err=%v", ok, err)
	}

	// A fresh Put for the republished edition replaces the entry.
	p2 := &plsk.Payload{Edition: republished, Tables: map[plsk.EntityKind][]byte{plsk.KindLibrary: []byte("y")}}
	p2.Checksum = plsk.ChecksumTables(p2.Tables)
	if err := c.Put(p2); err != nil {
		t.Fatalf("putting replacement: %v", err)
	}
	got, ok, err := c.Get(republished)
	if err != nil || !ok {
		t.Fatalf("expected hit after replacement: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got.Tables[plsk.KindLibrary], []byte("y")) {
		t.Fatalf("replacement not stored: %q", got.Tables[plsk.KindLibrary])
	}
}

func TestRevisionsCachedSeparately(t *testing.T) {
	c := openCache(t)
	base := plsk.EditionDescriptor{Year: 2021, LastModified: time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)}
	rev := base
	rev.Revision = "r2"
	rev.LastModified = base.LastModified.Add(time.Hour)

	for _, ed := range []plsk.EditionDescriptor{base, rev} {
		p := &plsk.Payload{Edition: ed, Tables: map[plsk.EntityKind][]byte{plsk.KindLibrary: []byte(ed.Ref())}}
		p.Checksum = plsk.ChecksumTables(p.Tables)
		if err := c.Put(p); err != nil {
			t.Fatalf("putting %s: %v", ed.Ref(), err)
		}
	}
	got, ok, err := c.Get(base)
	if err != nil || !ok {
		t.Fatalf("expected hit for base revision: ok=%v err=%v", ok, err)
	}
	if string(got.Tables[plsk.KindLibrary]) != base.Ref() {
		t.Fatalf("revisions collided in the cache: %q", got.Tables[plsk.KindLibrary])
	}
}
