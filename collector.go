package plsk

import (
	"context"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Notifier publishes a completed RunSummary somewhere an operator can see
// it. The kafkanotify subpackage has an implementation.
type Notifier interface {
	Publish(sum *RunSummary) error
}

// TableOpener turns one raw table into a TableReader. Wired to
// tabular.NewReader in practice.
type TableOpener func(data []byte) (TableReader, error)

// kindOrder is the load order within an edition: parents before the entities
// that reference them.
var kindOrder = []EntityKind{KindDataset, KindLibrary, KindOutlet, KindStateSummary}

// Collector is the pipeline facade. One Collector drives one Source into one
// Store; a run processes editions sequentially, each inside its own store
// transaction guarded by the edition's status lease.
type Collector struct {
	src     Source
	store   Store
	open    TableOpener
	schemas map[EntityKind]Schema
	clamps  map[EntityKind][]ClampRule

	cache    PayloadCache
	notifier Notifier

	maxRejectRatio   float64
	fetchConcurrency int

	log   Logger
	stats Statter
}

// CollectorOption is a functional option for NewCollector.
type CollectorOption func(*Collector)

// OptLogger sets the collector's logger.
func OptLogger(l Logger) CollectorOption {
	return func(c *Collector) { c.log = l }
}

// OptStats sets the collector's stats sink.
func OptStats(s Statter) CollectorOption {
	return func(c *Collector) { c.stats = s }
}

// OptCache wires a payload cache for skip-if-unchanged fetches.
func OptCache(pc PayloadCache) CollectorOption {
	return func(c *Collector) { c.cache = pc }
}

// OptNotifier wires a run summary publisher.
func OptNotifier(n Notifier) CollectorOption {
	return func(c *Collector) { c.notifier = n }
}

// OptMaxRejectRatio sets the rejected-row share above which an edition is
// not committed. Zero disables the guard.
func OptMaxRejectRatio(r float64) CollectorOption {
	return func(c *Collector) { c.maxRejectRatio = r }
}

// OptClamps adds clamp rules for one entity kind's validator.
func OptClamps(kind EntityKind, rules []ClampRule) CollectorOption {
	return func(c *Collector) { c.clamps[kind] = rules }
}

// OptFetchConcurrency sets the number of goroutines prefetching payloads
// during a backfill. Reconciliation stays serialized regardless.
func OptFetchConcurrency(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.fetchConcurrency = n
		}
	}
}

// NewCollector builds a Collector over a source, a store, and the schemas
// for the entity kinds the source's payloads carry.
func NewCollector(src Source, store Store, schemas []Schema, open TableOpener, opts ...CollectorOption) *Collector {
	c := &Collector{
		src:              src,
		store:            store,
		open:             open,
		schemas:          make(map[EntityKind]Schema, len(schemas)),
		clamps:           make(map[EntityKind][]ClampRule),
		maxRejectRatio:   0.5,
		fetchConcurrency: 1,
		log:              NopLogger{},
		stats:            NopStatter{},
	}
	for _, s := range schemas {
		c.schemas[s.Kind] = s
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DiscoverAvailableYears lists the editions the publisher currently offers,
// newest first, without mutating anything. Listing failure is the one hard
// failure of the pipeline.
func (c *Collector) DiscoverAvailableYears(ctx context.Context) ([]EditionDescriptor, error) {
	eds, err := c.src.ListEditions(ctx)
	if err != nil {
		return nil, errors.Wrap(ErrSourceUnavailable, err.Error())
	}
	return eds, nil
}

// UpdateWithLatestData loads the newest discovered edition unless the store
// already holds it with a matching checksum, in which case the run is a
// cheap no-op. Callers always get a RunSummary; only listing failure is
// returned as an error.
func (c *Collector) UpdateWithLatestData(ctx context.Context) (*RunSummary, error) {
	eds, err := c.DiscoverAvailableYears(ctx)
	if err != nil {
		return nil, err
	}
	sum := &RunSummary{Started: time.Now().UTC(), Discovered: len(eds)}
	if len(eds) > 0 {
		c.loadEdition(ctx, eds[0], nil, sum)
	}
	c.finish(sum)
	return sum, nil
}

// UpdateAll backfills every discovered edition, oldest first so that a
// year's libraries exist before a later year references them. Each edition
// is isolated in its own transaction: one edition's failure never blocks the
// others, and a cancelled run keeps its already-committed editions.
func (c *Collector) UpdateAll(ctx context.Context) (*RunSummary, error) {
	eds, err := c.DiscoverAvailableYears(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(eds, func(i, j int) bool {
		if eds[i].Year != eds[j].Year {
			return eds[i].Year < eds[j].Year
		}
		return eds[i].Revision < eds[j].Revision
	})
	sum := &RunSummary{Started: time.Now().UTC(), Discovered: len(eds)}

	prefetched := c.prefetch(ctx, eds)
	for _, ed := range eds {
		if ctx.Err() != nil {
			break
		}
		c.loadEdition(ctx, ed, prefetched[ed.Ref()], sum)
	}
	c.finish(sum)
	return sum, ctx.Err()
}

// prefetch fetches payloads concurrently when configured. It is purely an
// optimization: an edition missing from the result is fetched inline later.
func (c *Collector) prefetch(ctx context.Context, eds []EditionDescriptor) map[string]*Payload {
	// Keyed by Ref, not year: two revisions of one year are distinct payloads.
	out := make(map[string]*Payload, len(eds))
	if c.fetchConcurrency <= 1 {
		return out
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	work := make(chan EditionDescriptor)
	for i := 0; i < c.fetchConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ed := range work {
				p, err := c.fetchPayload(ctx, ed)
				if err != nil {
					c.log.Debugf("prefetch %s: %v", ed.Ref(), err)
					continue
				}
				mu.Lock()
				out[ed.Ref()] = p
				mu.Unlock()
			}
		}()
	}
	for _, ed := range eds {
		work <- ed
	}
	close(work)
	wg.Wait()
	return out
}

// fetchPayload consults the cache before the network and refreshes it after
// a real fetch.
func (c *Collector) fetchPayload(ctx context.Context, ed EditionDescriptor) (*Payload, error) {
	if c.cache != nil {
		if p, ok, err := c.cache.Get(ed); err != nil {
			c.log.Printf("payload cache read for %s: %v", ed.Ref(), err)
		} else if ok {
			c.stats.Count("fetch.cached", 1)
			return p, nil
		}
	}
	p, err := c.src.Fetch(ctx, ed)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Put(p); err != nil {
			c.log.Printf("payload cache write for %s: %v", ed.Ref(), err)
		}
	}
	c.stats.Count("fetch.network", 1)
	return p, nil
}

// loadEdition runs the full per-edition pipeline and appends one
// EditionReport to sum. All failures short of a broken store API are
// absorbed into the report.
func (c *Collector) loadEdition(ctx context.Context, ed EditionDescriptor, pre *Payload, sum *RunSummary) {
	start := time.Now()
	rep := EditionReport{Year: ed.Year, Revision: ed.Revision}
	defer func() {
		sum.Editions = append(sum.Editions, rep)
		c.stats.Timing("edition.load", time.Since(start))
	}()

	if err := c.store.EnsureEdition(ctx, ed); err != nil {
		rep.Status = StatusKnown
		rep.Err = err.Error()
		return
	}
	prev, _, err := c.store.Edition(ctx, ed.Year)
	if err != nil {
		rep.Status = StatusKnown
		rep.Err = err.Error()
		return
	}

	// The loading status is the lease: only one run may hold it.
	anyButLoading := []Status{StatusKnown, StatusFetched, StatusLoaded, StatusFailed}
	if err := c.store.TransitionEdition(ctx, ed, anyButLoading, StatusLoading, ""); err != nil {
		rep.Status = prev.Status
		rep.Err = err.Error()
		return
	}

	payload := pre
	if payload == nil {
		payload, err = c.fetchPayload(ctx, ed)
		if err != nil {
			ferr := &FetchError{Edition: ed, Err: err}
			c.log.Printf("%v", ferr)
			c.revert(ctx, ed, StatusFailed, "")
			rep.Status = StatusFailed
			rep.Err = ferr.Error()
			return
		}
	}

	if prev.Status == StatusLoaded && prev.Checksum == payload.Checksum {
		c.revert(ctx, ed, StatusLoaded, payload.Checksum)
		rep.Status = StatusLoaded
		rep.Skipped = true
		return
	}
	if err := c.store.TransitionEdition(ctx, ed, []Status{StatusLoading}, StatusFetched, payload.Checksum); err != nil {
		// Do not strand the lease: a later run must be able to retry.
		c.revert(ctx, ed, StatusFetched, payload.Checksum)
		rep.Status = StatusFetched
		rep.Err = err.Error()
		return
	}

	batch, err := c.normalize(ed, payload, &rep)
	if err != nil {
		rep.Status = StatusFetched
		rep.Err = err.Error()
		return
	}

	processed := rep.Fetched - rep.Superseded
	if c.maxRejectRatio > 0 && processed > 0 {
		if ratio := float64(rep.Rejected) / float64(processed); ratio > c.maxRejectRatio {
			rep.Status = StatusFetched
			rep.Err = errors.Errorf("reject ratio %.2f exceeds %.2f, edition not committed", ratio, c.maxRejectRatio).Error()
			return
		}
	}

	if err := c.commit(ctx, ed, batch, &rep); err != nil {
		perr := &PersistenceError{Edition: ed, Err: err}
		c.log.Printf("%v", perr)
		// Roll the edition back to retryable; the payload checksum stays.
		c.revert(ctx, ed, StatusFetched, payload.Checksum)
		rep.Status = StatusFetched
		rep.Err = perr.Error()
		return
	}

	if err := c.store.TransitionEdition(ctx, ed, []Status{StatusLoading, StatusFetched}, StatusLoaded, payload.Checksum); err != nil {
		rep.Status = StatusFetched
		rep.Err = err.Error()
		return
	}
	rep.Status = StatusLoaded
	c.stats.Count("edition.loaded", 1)
}

// revert best-effort transitions an edition out of the loading lease.
func (c *Collector) revert(ctx context.Context, ed EditionDescriptor, to Status, checksum string) {
	if err := c.store.TransitionEdition(ctx, ed, []Status{StatusLoading, StatusFetched}, to, checksum); err != nil {
		c.log.Printf("reverting %s to %s: %v", ed.Ref(), to, err)
	}
}

// normalize runs every payload table through its schema's normalizer and
// validator, returning the per-kind batches that survive classification.
func (c *Collector) normalize(ed EditionDescriptor, payload *Payload, rep *EditionReport) (map[EntityKind][]*CanonicalRecord, error) {
	rec := &Reconciler{Log: c.log}
	batch := make(map[EntityKind][]*CanonicalRecord)

	// The dataset record is synthesized, not fetched; it must not count
	// toward the source row total the reject ratio is measured against.
	batch[KindDataset] = []*CanonicalRecord{c.datasetRecord(ed)}

	for _, kind := range kindOrder {
		data, ok := payload.Tables[kind]
		if !ok {
			continue
		}
		schema, ok := c.schemas[kind]
		if !ok {
			c.log.Printf("no schema for table %s in %s, skipping", kind, ed.Ref())
			continue
		}
		tr, err := c.open(data)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s table", kind)
		}
		norm := &Normalizer{Schema: schema}
		valid := &Validator{Schema: schema, Clamps: c.clamps[kind], Log: c.log}
		var accepted []*CanonicalRecord
		stream := norm.Stream(ed, tr)
		for {
			r, err := stream.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.Wrapf(err, "normalizing %s table", kind)
			}
			rep.Fetched++
			cls := valid.Classify(r)
			switch cls.Outcome {
			case OutcomeRejected:
				rep.Rejected++
				if len(rep.Rejects) < MaxRejectDiags {
					rep.Rejects = append(rep.Rejects, RejectDiag{Kind: kind, Row: r.Row, Reason: cls.Reason})
				}
				continue
			case OutcomeCorrected:
				rep.Corrected++
			}
			accepted = append(accepted, r)
		}
		kept, superseded := rec.Dedup(accepted)
		rep.Superseded += superseded
		batch[kind] = kept
		c.stats.Count("records.accepted", int64(len(kept)), string(kind))
	}
	return batch, nil
}

// commit applies the whole batch inside one transaction.
func (c *Collector) commit(ctx context.Context, ed EditionDescriptor, batch map[EntityKind][]*CanonicalRecord, rep *EditionReport) error {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	rec := &Reconciler{Log: c.log}
	for _, kind := range kindOrder {
		counts, err := rec.Apply(tx, ed.Year, batch[kind])
		if err != nil {
			if rberr := tx.Rollback(); rberr != nil {
				c.log.Printf("rollback after %v: %v", err, rberr)
			}
			return err
		}
		rep.Inserted += counts.Inserted
		rep.Updated += counts.Updated
		rep.Unchanged += counts.Unchanged
	}
	if err := tx.Commit(); err != nil {
		if rberr := tx.Rollback(); rberr != nil {
			c.log.Debugf("rollback after failed commit: %v", rberr)
		}
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// datasetRecord is the per-edition dataset entity, reconciled through the
// same path as source-derived records.
func (c *Collector) datasetRecord(ed EditionDescriptor) *CanonicalRecord {
	return &CanonicalRecord{
		Kind: KindDataset,
		Key:  JoinKey(strconv.Itoa(ed.Year)),
		Fields: map[string]interface{}{
			"year":     int64(ed.Year),
			"revision": ed.Revision,
		},
		Edition: ed,
	}
}

func (c *Collector) finish(sum *RunSummary) {
	sum.Finished = time.Now().UTC()
	ins, upd, rej := sum.Totals()
	c.stats.Count("run.inserted", int64(ins))
	c.stats.Count("run.updated", int64(upd))
	c.stats.Count("run.rejected", int64(rej))
	c.log.Printf("%s", sum)
	if c.notifier != nil {
		if err := c.notifier.Publish(sum); err != nil {
			c.log.Printf("publishing run summary: %v", err)
		}
	}
}
