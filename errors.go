package plsk

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrSourceUnavailable is returned when the publisher's edition listing
// cannot be retrieved at all. It is the one condition that aborts a whole
// run; everything narrower is absorbed into the RunSummary.
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrLeaseHeld is returned by a Store when a status compare-and-set fails
// because another run holds the edition's loading lease.
var ErrLeaseHeld = errors.New("edition lease held by another run")

// FetchError means one edition's payload could not be retrieved (transport
// failure, or the publisher withdrew the file). In a backfill the edition is
// marked failed and the run continues.
type FetchError struct {
	Edition EditionDescriptor
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Edition.Ref(), e.Err)
}

// Cause supports pkg/errors unwrapping.
func (e *FetchError) Cause() error { return e.Err }

// PersistenceError means an edition's transaction failed to commit. The
// batch has been rolled back and the edition reverted to a retryable status.
type PersistenceError struct {
	Edition EditionDescriptor
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("committing %s: %v", e.Edition.Ref(), e.Err)
}

// Cause supports pkg/errors unwrapping.
func (e *PersistenceError) Cause() error { return e.Err }
