package plsk

import "context"

// Source is the interface for one publisher of survey data. Implementations
// of Source should be safe for concurrent use.
type Source interface {
	// ListEditions returns the editions the publisher currently offers,
	// newest first. The listing is all-or-nothing: on any failure it returns
	// ErrSourceUnavailable (possibly wrapped) and no descriptors.
	ListEditions(ctx context.Context) ([]EditionDescriptor, error)

	// Fetch retrieves one edition's raw tables. Fetch is idempotent:
	// repeated fetches of an unchanged edition return byte-identical tables
	// and therefore equal checksums. Failures are reported as *FetchError.
	Fetch(ctx context.Context, ed EditionDescriptor) (*Payload, error)
}

// PayloadCache is an optional cache of fetched payloads keyed by edition,
// letting a run skip the network when the publisher's change marker says the
// edition is unchanged. The boltcache subpackage implements it.
type PayloadCache interface {
	// Get returns the cached payload for the edition if one exists and its
	// recorded LastModified equals the descriptor's.
	Get(ed EditionDescriptor) (*Payload, bool, error)
	// Put stores a fetched payload, replacing any previous entry for the
	// edition's year and revision.
	Put(p *Payload) error
}
