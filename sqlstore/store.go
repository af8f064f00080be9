// Package sqlstore implements the plsk.Store persistence boundary on
// SQLite. Entities live in one table keyed by (kind, natural key, year) with
// their canonical fields as a JSON document, so schema drift on the write
// side never needs a migration here; the edition lifecycle table is the
// pipeline's lease and checksum ledger.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/libsurvey/plsk"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS editions (
	year       INTEGER PRIMARY KEY,
	revision   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entities (
	kind       TEXT NOT NULL,
	nkey       TEXT NOT NULL,
	year       INTEGER NOT NULL,
	sid        INTEGER NOT NULL DEFAULT 0,
	fields     TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (kind, nkey, year)
);
CREATE INDEX IF NOT EXISTS entities_sid ON entities (kind, sid);
`

// IDAllocator hands out surrogate ids for natural keys. keymap.Map satisfies
// it; a nil allocator leaves sid at zero.
type IDAllocator interface {
	ID(kind, naturalKey string) (uint64, error)
}

// Store is a plsk.Store on a SQLite database file.
type Store struct {
	db  *sql.DB
	ids IDAllocator
}

// Open opens (creating if needed) the database at path. ids may be nil.
func Open(path string, ids IDAllocator) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite at %v", path)
	}
	// One writer at a time; the pipeline holds a single write transaction
	// per edition anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating tables")
	}
	return &Store{db: db, ids: ids}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Edition returns the lifecycle row for a year.
func (s *Store) Edition(ctx context.Context, year int) (plsk.Edition, bool, error) {
	var e plsk.Edition
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT year, revision, status, checksum, updated_at FROM editions WHERE year = ?`, year).
		Scan(&e.Year, &e.Revision, &e.Status, &e.Checksum, &updated)
	if err == sql.ErrNoRows {
		return plsk.Edition{}, false, nil
	}
	if err != nil {
		return plsk.Edition{}, false, errors.Wrapf(err, "reading edition %d", year)
	}
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return e, true, nil
}

// Editions returns every lifecycle row, ascending by year.
func (s *Store) Editions(ctx context.Context) ([]plsk.Edition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT year, revision, status, checksum, updated_at FROM editions ORDER BY year`)
	if err != nil {
		return nil, errors.Wrap(err, "reading editions")
	}
	defer rows.Close()
	var eds []plsk.Edition
	for rows.Next() {
		var e plsk.Edition
		var updated string
		if err := rows.Scan(&e.Year, &e.Revision, &e.Status, &e.Checksum, &updated); err != nil {
			return nil, errors.Wrap(err, "scanning edition")
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		eds = append(eds, e)
	}
	return eds, rows.Err()
}

// EnsureEdition creates the year's row in StatusKnown if missing.
func (s *Store) EnsureEdition(ctx context.Context, ed plsk.EditionDescriptor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO editions (year, revision, status, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (year) DO NOTHING`,
		ed.Year, ed.Revision, string(plsk.StatusKnown), now())
	return errors.Wrapf(err, "ensuring edition %d", ed.Year)
}

// TransitionEdition compare-and-sets the edition's status, recording the
// descriptor's revision and, when non-empty, the payload checksum. A CAS
// miss reports plsk.ErrLeaseHeld.
func (s *Store) TransitionEdition(ctx context.Context, ed plsk.EditionDescriptor, from []plsk.Status, to plsk.Status, checksum string) error {
	q := `UPDATE editions
	      SET status = ?, revision = ?, checksum = CASE WHEN ? = '' THEN checksum ELSE ? END, updated_at = ?
	      WHERE year = ? AND status IN (` + placeholders(len(from)) + `)`
	args := []interface{}{string(to), ed.Revision, checksum, checksum, now(), ed.Year}
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrapf(err, "transitioning edition %d to %s", ed.Year, to)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "checking transition")
	}
	if n == 0 {
		return errors.Wrapf(plsk.ErrLeaseHeld, "edition %d to %s", ed.Year, to)
	}
	return nil
}

// Begin opens a write transaction.
func (s *Store) Begin(ctx context.Context) (plsk.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning transaction")
	}
	return &storeTx{tx: tx, ids: s.ids}, nil
}

type storeTx struct {
	tx  *sql.Tx
	ids IDAllocator
}

func (t *storeTx) Get(kind plsk.EntityKind, key plsk.NaturalKey, year int) (map[string]interface{}, bool, error) {
	var doc string
	err := t.tx.QueryRow(
		`SELECT fields FROM entities WHERE kind = ? AND nkey = ? AND year = ?`,
		string(kind), string(key), year).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading %s %q", kind, key)
	}
	fields, err := decodeFields(doc)
	if err != nil {
		return nil, false, errors.Wrapf(err, "decoding %s %q", kind, key)
	}
	return fields, true, nil
}

func (t *storeTx) Insert(kind plsk.EntityKind, key plsk.NaturalKey, year int, fields map[string]interface{}) error {
	var sid uint64
	if t.ids != nil {
		var err error
		sid, err = t.ids.ID(string(kind), string(key))
		if err != nil {
			return errors.Wrapf(err, "allocating id for %s %q", kind, key)
		}
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrapf(err, "encoding %s %q", kind, key)
	}
	ts := now()
	_, err = t.tx.Exec(
		`INSERT INTO entities (kind, nkey, year, sid, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(kind), string(key), year, int64(sid), string(doc), ts, ts)
	return errors.Wrapf(err, "inserting %s %q", kind, key)
}

func (t *storeTx) Update(kind plsk.EntityKind, key plsk.NaturalKey, year int, fields map[string]interface{}) error {
	var doc string
	err := t.tx.QueryRow(
		`SELECT fields FROM entities WHERE kind = ? AND nkey = ? AND year = ?`,
		string(kind), string(key), year).Scan(&doc)
	if err == sql.ErrNoRows {
		return errors.Errorf("updating %s %q: no such entity", kind, key)
	}
	if err != nil {
		return errors.Wrapf(err, "reading %s %q for update", kind, key)
	}
	merged, err := decodeFields(doc)
	if err != nil {
		return errors.Wrapf(err, "decoding %s %q for update", kind, key)
	}
	for k, v := range fields {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return errors.Wrapf(err, "encoding %s %q", kind, key)
	}
	_, err = t.tx.Exec(
		`UPDATE entities SET fields = ?, updated_at = ? WHERE kind = ? AND nkey = ? AND year = ?`,
		string(out), now(), string(kind), string(key), year)
	return errors.Wrapf(err, "updating %s %q", kind, key)
}

func (t *storeTx) Commit() error {
	return errors.Wrap(t.tx.Commit(), "committing")
}

func (t *storeTx) Rollback() error {
	return t.tx.Rollback()
}

func decodeFields(doc string) (map[string]interface{}, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += "?"
	}
	return s
}
