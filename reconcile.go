package plsk

import "github.com/pkg/errors"

// Action is the reconciliation decision for one record.
type Action int

const (
	// ActionInsert creates a new entity for the (natural key, edition).
	ActionInsert Action = iota
	// ActionUpdate changes an existing entity's fields.
	ActionUpdate
	// ActionNoop leaves an identical entity untouched.
	ActionNoop
)

// Reconciler diffs accepted records against the persisted entities for the
// same edition and applies the minimal set of writes inside the caller's
// transaction.
type Reconciler struct {
	Log Logger
}

// Dedup resolves duplicate natural keys within one edition's record batch:
// the last record in source row order wins, earlier ones are superseded.
// Survivors keep their relative source order. Duplicates are a data quirk,
// not an error.
func (r *Reconciler) Dedup(recs []*CanonicalRecord) (kept []*CanonicalRecord, superseded int) {
	last := make(map[NaturalKey]int, len(recs))
	for i, rec := range recs {
		if _, ok := last[rec.Key]; ok {
			superseded++
		}
		last[rec.Key] = i
	}
	kept = make([]*CanonicalRecord, 0, len(last))
	for i, rec := range recs {
		if last[rec.Key] == i {
			kept = append(kept, rec)
		}
	}
	if superseded > 0 && r.Log != nil {
		r.Log.Printf("superseded %d duplicate-key records", superseded)
	}
	return kept, superseded
}

// Counts tallies the write actions of one Apply pass.
type Counts struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Apply decides and executes insert/update/no-op for each record against the
// open transaction. Identical field values are a no-op; differing values
// update, preserving any persisted fields the record's schema does not
// cover. Any store error is fatal to the batch - the caller rolls back.
func (r *Reconciler) Apply(tx Tx, year int, recs []*CanonicalRecord) (Counts, error) {
	var c Counts
	for _, rec := range recs {
		persisted, ok, err := tx.Get(rec.Kind, rec.Key, year)
		if err != nil {
			return c, errors.Wrapf(err, "looking up %s %q", rec.Kind, rec.Key)
		}
		switch {
		case !ok:
			if err := tx.Insert(rec.Kind, rec.Key, year, rec.Fields); err != nil {
				return c, errors.Wrapf(err, "inserting %s %q", rec.Kind, rec.Key)
			}
			c.Inserted++
		case rec.FieldsEqual(persisted):
			c.Unchanged++
		default:
			if err := tx.Update(rec.Kind, rec.Key, year, rec.Fields); err != nil {
				return c, errors.Wrapf(err, "updating %s %q", rec.Kind, rec.Key)
			}
			c.Updated++
		}
	}
	return c, nil
}
