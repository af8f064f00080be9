package plsk

import "context"

// Store is the persistence boundary the pipeline consumes. It is a
// transactional store for the persisted entity kinds plus an edition status
// table; the engine behind it (sqlstore in this repository) is not the
// pipeline's concern.
type Store interface {
	// Begin opens a write transaction. The pipeline holds at most one write
	// transaction at a time, scoped to a single edition.
	Begin(ctx context.Context) (Tx, error)

	// Edition returns the persisted lifecycle record for a year, or ok=false
	// if the year has never been touched.
	Edition(ctx context.Context, year int) (Edition, bool, error)

	// Editions returns all persisted edition records, ascending by year.
	Editions(ctx context.Context) ([]Edition, error)

	// EnsureEdition creates the edition row in StatusKnown if no row for the
	// year exists yet, and records the revision. Idempotent.
	EnsureEdition(ctx context.Context, ed EditionDescriptor) error

	// TransitionEdition compare-and-sets the edition's status. It fails with
	// ErrLeaseHeld when the current status is not one of from. A non-empty
	// checksum is recorded with the transition.
	TransitionEdition(ctx context.Context, ed EditionDescriptor, from []Status, to Status, checksum string) error

	Close() error
}

// Tx is one open write transaction against the Store. Entity operations are
// keyed by (kind, natural key, edition year).
type Tx interface {
	// Get returns the persisted field map for an entity, or ok=false when no
	// entity exists for the key in that edition.
	Get(kind EntityKind, key NaturalKey, year int) (map[string]interface{}, bool, error)

	// Insert creates an entity. Inserting an existing (kind, key, year) is a
	// constraint violation surfaced as an error.
	Insert(kind EntityKind, key NaturalKey, year int, fields map[string]interface{}) error

	// Update merges fields into an existing entity, preserving persisted
	// fields the map does not cover.
	Update(kind EntityKind, key NaturalKey, year int, fields map[string]interface{}) error

	Commit() error
	Rollback() error
}
