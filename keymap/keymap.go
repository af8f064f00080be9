// Package keymap maps natural keys to stable surrogate uint64 ids, backed by
// leveldb. The store keys entities by natural key; the surrogate id exists
// so outlets can reference their library by a compact internal id that never
// changes across editions even if the publisher reformats the natural key.
package keymap

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Map is a durable two-way natural-key/id mapping, one namespace per entity
// kind. Safe for concurrent use.
type Map struct {
	mu     sync.Mutex
	db     *leveldb.DB
	nextID uint64
}

var (
	keyPrefix = []byte("k") // k<kind>\x00<natural key> -> id
	idPrefix  = []byte("i") // i<kind>\x00<id>          -> natural key
	nextKey   = []byte("n") // n                        -> next id
)

// Open opens (or creates) the mapping at dir.
func Open(dir string) (*Map, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening keymap at %v", dir)
	}
	m := &Map{db: db, nextID: 1}
	if data, err := db.Get(nextKey, nil); err == nil {
		m.nextID = binary.BigEndian.Uint64(data)
	} else if err != leveldb.ErrNotFound {
		db.Close()
		return nil, errors.Wrap(err, "reading next id")
	}
	return m, nil
}

// ID returns the surrogate id for a natural key, allocating a new one on
// first sight. Allocation is durable before ID returns.
func (m *Map) ID(kind, naturalKey string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fk := forwardKey(kind, naturalKey)
	if data, err := m.db.Get(fk, nil); err == nil {
		return binary.BigEndian.Uint64(data), nil
	} else if err != leveldb.ErrNotFound {
		return 0, errors.Wrap(err, "reading keymap")
	}
	id := m.nextID
	m.nextID++
	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, id)
	nxt := make([]byte, 8)
	binary.BigEndian.PutUint64(nxt, m.nextID)
	batch := new(leveldb.Batch)
	batch.Put(fk, idBytes)
	batch.Put(reverseKey(kind, id), []byte(naturalKey))
	batch.Put(nextKey, nxt)
	if err := m.db.Write(batch, nil); err != nil {
		m.nextID = id // allocation did not take
		return 0, errors.Wrapf(err, "allocating id for %s %q", kind, naturalKey)
	}
	return id, nil
}

// Key returns the natural key previously mapped to an id, or ok=false.
func (m *Map) Key(kind string, id uint64) (string, bool, error) {
	data, err := m.db.Get(reverseKey(kind, id), nil)
	if err == leveldb.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "reading keymap")
	}
	return string(data), true, nil
}

// Close closes the underlying leveldb.
func (m *Map) Close() error {
	return m.db.Close()
}

func forwardKey(kind, naturalKey string) []byte {
	k := append([]byte{}, keyPrefix...)
	k = append(k, kind...)
	k = append(k, 0)
	return append(k, naturalKey...)
}

func reverseKey(kind string, id uint64) []byte {
	k := append([]byte{}, idPrefix...)
	k = append(k, kind...)
	k = append(k, 0)
	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, id)
	return append(k, idBytes...)
}
