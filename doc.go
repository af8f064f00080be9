// plsk is the Public Library Survey collection kit. It contains the
// interfaces and core implementations of the pipeline that discovers survey
// editions from an external publisher, fetches their raw files, normalizes
// them onto canonical entity shapes, and reconciles them into a transactional
// store.
//
// The stages of the pipeline, in order:
//
// 1. Source
//
//    A plsk.Source knows how to talk to one publisher of survey data. It can
//    list the editions (year + revision) the publisher currently offers, and
//    fetch the raw tabular payload for one edition. Sources do not interpret
//    the data beyond splitting it into named tables - that job falls to the
//    Normalizer. The imls subpackage implements the Source for the survey
//    publisher's HTTP endpoints; the s3 subpackage reads the same files from
//    a mirror bucket.
//
// 2. Normalizer
//
//    The survey's column layout drifts from year to year - fields get
//    renamed, added, and dropped. The Normalizer owns a declared alias table
//    per canonical field and resolves each raw header against it, producing
//    CanonicalRecords with typed, stable field names regardless of which
//    year's layout the payload uses. Columns it does not recognize are kept
//    in a provenance side channel rather than dropped.
//
// 3. Validator
//
//    Every CanonicalRecord is classified as accepted, corrected, or
//    rejected. Validation is total: problems are data that end up in the
//    RunSummary, never errors that abort an edition.
//
// 4. Reconciler
//
//    The Reconciler diffs incoming records against what the store already
//    holds for the same natural key and edition, and decides insert, update,
//    or no-op per record. Re-running an edition that is already loaded is a
//    sequence of no-ops.
//
// 5. Collector
//
//    The Collector sequences the stages, wraps each edition in one store
//    transaction, and reports a RunSummary. It is the only piece an operator
//    or scheduler talks to.
package plsk
