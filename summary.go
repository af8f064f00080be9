package plsk

import (
	"fmt"
	"strings"
	"time"
)

// MaxRejectDiags caps the per-edition rejected-record diagnostics carried in
// a summary so a garbage file cannot balloon the report.
const MaxRejectDiags = 50

// RejectDiag describes one rejected record.
type RejectDiag struct {
	Kind   EntityKind `json:"kind"`
	Row    int        `json:"row"`
	Reason string     `json:"reason"`
}

// EditionReport is the per-edition slice of a RunSummary.
type EditionReport struct {
	Year     int    `json:"year"`
	Revision string `json:"revision,omitempty"`
	Status   Status `json:"status"`

	// Skipped is set when the edition's checksum matched the last successful
	// load and the pipeline did not run.
	Skipped bool `json:"skipped,omitempty"`

	Fetched    int `json:"fetched"` // source rows seen across all tables
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	Corrected  int `json:"corrected"`
	Rejected   int `json:"rejected"`
	Superseded int `json:"superseded"`

	Err     string       `json:"err,omitempty"`
	Rejects []RejectDiag `json:"rejects,omitempty"`
}

// RunSummary is the immutable result of one collector run. It is owned by
// the collector while the run is in flight and handed to the caller after.
type RunSummary struct {
	Started    time.Time       `json:"started"`
	Finished   time.Time       `json:"finished"`
	Discovered int             `json:"discovered"`
	Editions   []EditionReport `json:"editions"`
}

// Totals sums the write counts across editions.
func (s *RunSummary) Totals() (inserted, updated, rejected int) {
	for _, e := range s.Editions {
		inserted += e.Inserted
		updated += e.Updated
		rejected += e.Rejected
	}
	return inserted, updated, rejected
}

// String renders a one-line-per-edition digest for logs and CLI output.
func (s *RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s..%s discovered=%d", s.Started.Format(time.RFC3339), s.Finished.Format(time.RFC3339), s.Discovered)
	for _, e := range s.Editions {
		fmt.Fprintf(&b, "\n  FY%d%s status=%s", e.Year, e.Revision, e.Status)
		if e.Skipped {
			b.WriteString(" (unchanged)")
			continue
		}
		fmt.Fprintf(&b, " fetched=%d inserted=%d updated=%d unchanged=%d corrected=%d rejected=%d superseded=%d",
			e.Fetched, e.Inserted, e.Updated, e.Unchanged, e.Corrected, e.Rejected, e.Superseded)
		if e.Err != "" {
			fmt.Fprintf(&b, " err=%q", e.Err)
		}
	}
	return b.String()
}
