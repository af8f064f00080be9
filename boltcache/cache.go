// Package boltcache caches fetched edition payloads in boltdb, keyed by
// (year, revision). A run that sees the publisher's last-modified marker
// unchanged reuses the cached tables instead of refetching, which keeps a
// scheduled no-op run off the network entirely.
package boltcache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/libsurvey/plsk"
	"github.com/pkg/errors"
)

var payloadBucket = []byte("payloads")

// Cache implements plsk.PayloadCache on a boltdb file.
type Cache struct {
	db *bolt.DB
}

// entry is the stored form of one payload.
type entry struct {
	LastModified time.Time                  `json:"last_modified"`
	Checksum     string                     `json:"checksum"`
	Tables       map[plsk.EntityKind][]byte `json:"tables"`
}

// Open opens (or creates) the cache file.
func Open(filename string) (*Cache, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening cache file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(payloadBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return &Cache{db: db}, nil
}

// Get returns the cached payload when its recorded last-modified marker
// matches the descriptor's. A marker mismatch is a miss, not an error.
func (c *Cache) Get(ed plsk.EditionDescriptor) (*plsk.Payload, bool, error) {
	var e entry
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(payloadBucket).Get(cacheKey(ed))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return errors.Wrap(err, "decoding cache entry")
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found || !e.LastModified.Equal(ed.LastModified) {
		return nil, false, nil
	}
	return &plsk.Payload{Edition: ed, Tables: e.Tables, Checksum: e.Checksum}, true, nil
}

// Put stores a payload, replacing any previous entry for the edition.
func (c *Cache) Put(p *plsk.Payload) error {
	data, err := json.Marshal(entry{
		LastModified: p.Edition.LastModified,
		Checksum:     p.Checksum,
		Tables:       p.Tables,
	})
	if err != nil {
		return errors.Wrap(err, "encoding cache entry")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(payloadBucket).Put(cacheKey(p.Edition), data)
	})
}

// Close closes the cache file.
func (c *Cache) Close() error {
	return c.db.Close()
}

func cacheKey(ed plsk.EditionDescriptor) []byte {
	return []byte(fmt.Sprintf("%d/%s", ed.Year, ed.Revision))
}
