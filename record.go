package plsk

import "strings"

// EntityKind names one of the canonical entity shapes an edition's payload
// normalizes into.
type EntityKind string

const (
	// KindDataset is the per-edition dataset record itself.
	KindDataset EntityKind = "pls_dataset"
	// KindLibrary is an administrative entity (one row per library system).
	KindLibrary EntityKind = "library"
	// KindOutlet is a physical outlet (central, branch, bookmobile) belonging
	// to a library.
	KindOutlet EntityKind = "outlet"
	// KindStateSummary is the per-state demographic summary table.
	KindStateSummary EntityKind = "state_summary"
)

// NaturalKey is the stable business identifier used to match records across
// editions, independent of any internal surrogate id. It is the joined value
// of a schema's key fields.
type NaturalKey string

// JoinKey builds a NaturalKey from its parts. Empty parts are preserved so
// that a malformed key never collides with a well-formed one.
func JoinKey(parts ...string) NaturalKey {
	return NaturalKey(strings.Join(parts, "|"))
}

// RawRecord is one source row exactly as parsed: source column name to raw
// string value. RawRecords live only within one pipeline run.
type RawRecord struct {
	Row    int // zero-based data row index within the source table
	Values map[string]string
}

// Problem is a per-field defect found during normalization, carried on the
// record for the Validator to classify. Problems are data, not errors.
type Problem struct {
	Field  string
	Kind   ProblemKind
	Detail string
}

// ProblemKind classifies a Problem.
type ProblemKind string

const (
	// MissingField means no alias of a required canonical field was present
	// in the source header, or the value was empty.
	MissingField ProblemKind = "missing_field"
	// TypeMismatch means the raw value could not be coerced to the canonical
	// field's type.
	TypeMismatch ProblemKind = "type_mismatch"
)

// CanonicalRecord is the normalized form of one RawRecord: canonical field
// names with typed values, the record's natural key, and provenance back to
// the source row. Values are string, int64, float64, or bool.
type CanonicalRecord struct {
	Kind   EntityKind
	Key    NaturalKey
	Fields map[string]interface{}

	// Problems found during normalization, in field order.
	Problems []Problem

	// Unknown holds source columns that matched no alias, retained for
	// auditability. They never reach the store.
	Unknown map[string]string

	// Provenance.
	Edition EditionDescriptor
	Row     int
}

// HasProblem reports whether any problem of the given kind was recorded.
func (r *CanonicalRecord) HasProblem(kind ProblemKind) bool {
	for _, p := range r.Problems {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// FieldsEqual compares the record's fields against a persisted field map,
// considering only the fields this record carries. Persisted fields outside
// the record's schema do not affect equality; they are preserved on update.
func (r *CanonicalRecord) FieldsEqual(persisted map[string]interface{}) bool {
	for name, v := range r.Fields {
		pv, ok := persisted[name]
		if !ok || !ValueEqual(v, pv) {
			return false
		}
	}
	return true
}

// ValueEqual compares two canonical values. Numeric values compare by value
// regardless of whether a store round-trip widened int64 to float64.
func ValueEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
