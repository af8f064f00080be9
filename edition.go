package plsk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle state of an Edition in the store.
type Status string

const (
	// StatusKnown means the edition has been discovered but never fetched.
	StatusKnown Status = "known"
	// StatusFetched means the payload has been retrieved and checksummed but
	// not (or not successfully) loaded. Fetched editions are retryable.
	StatusFetched Status = "fetched"
	// StatusLoading is the lease state: exactly one run may hold it per
	// edition, acquired by compare-and-set from any non-loading state.
	StatusLoading Status = "loading"
	// StatusLoaded means the edition's batch committed.
	StatusLoaded Status = "loaded"
	// StatusFailed means the payload could not be fetched.
	StatusFailed Status = "failed"
)

// EditionDescriptor identifies one publisher offering of a survey year. It is
// what Source.ListEditions returns and what Source.Fetch takes.
type EditionDescriptor struct {
	Year     int
	Revision string // publisher revision tag, "" for the first release

	// Files maps entity kind to the source location of its table. The
	// contents are the Source's own concern; descriptors from different
	// Sources are not interchangeable.
	Files map[EntityKind]string

	// LastModified is the publisher's change marker for the edition, used to
	// decide whether a cached payload can be reused without refetching.
	LastModified time.Time
}

// Ref returns a short printable identifier like "FY2021" or "FY2021r2".
func (d EditionDescriptor) Ref() string {
	if d.Revision == "" {
		return fmt.Sprintf("FY%d", d.Year)
	}
	return fmt.Sprintf("FY%d%s", d.Year, d.Revision)
}

// Edition is the persisted lifecycle record for one survey year. Editions are
// created when first touched by a run and are never deleted; a newer revision
// of the same year supersedes the previous one in place.
type Edition struct {
	Year      int
	Revision  string
	Status    Status
	Checksum  string // checksum of the last fetched payload, "" before fetch
	UpdatedAt time.Time
}

// Payload is one edition's raw fetched data: a named table per entity kind,
// plus a checksum over all tables. Two fetches of an unchanged edition yield
// byte-identical tables and therefore equal checksums.
type Payload struct {
	Edition  EditionDescriptor
	Tables   map[EntityKind][]byte
	Checksum string
}

// ChecksumTables computes the payload checksum: sha256 over the tables in
// stable kind order. Sources use it so that checksums from different
// adapters for the same bytes agree.
func ChecksumTables(tables map[EntityKind][]byte) string {
	kinds := make([]string, 0, len(tables))
	for k := range tables {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	h := sha256.New()
	for _, k := range kinds {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(tables[EntityKind(k)])
	}
	return hex.EncodeToString(h.Sum(nil))
}
