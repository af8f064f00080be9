package plsk

import (
	"fmt"
	"io"
	"strings"

	"github.com/mmcloughlin/geohash"
	"github.com/pkg/errors"
)

// Field declares one canonical field: its stable name, the prioritized list
// of source column names that have carried it across editions, whether a
// record can exist without it, and how to coerce its raw value.
type Field struct {
	Name     string
	Aliases  []string
	Required bool
	Coerce   Coercer
}

// DerivedField is a canonical field computed from other canonical fields
// rather than read from a source column. Derivations that cannot compute
// (inputs missing) simply leave the field unset.
type DerivedField struct {
	Name   string
	Derive func(fields map[string]interface{}) (interface{}, bool)
}

// GeohashField derives a geohash from two float canonical fields, for
// outlets that carry coordinates.
func GeohashField(name, latField, lonField string, precision uint) DerivedField {
	return DerivedField{
		Name: name,
		Derive: func(fields map[string]interface{}) (interface{}, bool) {
			lat, ok1 := fields[latField].(float64)
			lon, ok2 := fields[lonField].(float64)
			if !ok1 || !ok2 {
				return nil, false
			}
			return geohash.EncodeWithPrecision(lat, lon, precision), true
		},
	}
}

// Schema is the declared shape of one entity kind: its canonical fields with
// their alias tables, and which fields form the natural key. One Schema
// covers every edition; year-to-year drift lives in the alias lists and
// coercers, never in per-year branches.
type Schema struct {
	Kind    EntityKind
	Key     []string // canonical field names forming the natural key
	Fields  []Field
	Derived []DerivedField
}

// field returns the declaration for a canonical field name.
func (s Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// TableReader yields the raw rows of one source table. The tabular
// subpackage implements it over CSV payloads.
type TableReader interface {
	// Header returns the source column names.
	Header() []string
	// Next returns the next data row, or io.EOF after the last one.
	Next() (RawRecord, error)
}

// Normalizer maps one table's raw rows onto CanonicalRecords for its Schema.
// Normalization is pure: re-reading the same table yields an identical
// record sequence, which is what makes edition re-runs idempotent.
type Normalizer struct {
	Schema Schema
}

// resolution is the outcome of matching one raw header against the schema:
// canonical field name to column index, plus the columns nothing claimed.
type resolution struct {
	cols    map[string]int
	unknown []int
}

func (n *Normalizer) resolve(header []string) resolution {
	byName := make(map[string]int, len(header))
	for i, col := range header {
		byName[strings.ToUpper(strings.TrimSpace(col))] = i
	}
	res := resolution{cols: make(map[string]int, len(n.Schema.Fields))}
	claimed := make(map[int]bool, len(header))
	for _, f := range n.Schema.Fields {
		for _, alias := range f.Aliases {
			if i, ok := byName[strings.ToUpper(alias)]; ok {
				if _, done := res.cols[f.Name]; !done {
					res.cols[f.Name] = i
				}
				// Unpicked historical aliases are still known columns, not
				// provenance-channel unknowns.
				claimed[i] = true
			}
		}
	}
	for i := range header {
		if !claimed[i] {
			res.unknown = append(res.unknown, i)
		}
	}
	return res
}

// CanonicalStream is a lazy sequence of CanonicalRecords produced from one
// table. It is finite; Next returns io.EOF after the last record.
type CanonicalStream struct {
	n   *Normalizer
	ed  EditionDescriptor
	tr  TableReader
	res resolution
}

// Stream begins normalizing a table for an edition.
func (n *Normalizer) Stream(ed EditionDescriptor, tr TableReader) *CanonicalStream {
	return &CanonicalStream{n: n, ed: ed, tr: tr, res: n.resolve(tr.Header())}
}

// Next returns the next CanonicalRecord. Coercion failures and missing
// required fields are recorded as Problems on the record, never as errors;
// the returned error is io.EOF or a table read failure only.
func (s *CanonicalStream) Next() (*CanonicalRecord, error) {
	raw, err := s.tr.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading table row")
	}
	header := s.tr.Header()
	rec := &CanonicalRecord{
		Kind:    s.n.Schema.Kind,
		Fields:  make(map[string]interface{}, len(s.n.Schema.Fields)),
		Edition: s.ed,
		Row:     raw.Row,
	}
	for _, f := range s.n.Schema.Fields {
		i, ok := s.res.cols[f.Name]
		if !ok {
			if f.Required {
				rec.Problems = append(rec.Problems, Problem{Field: f.Name, Kind: MissingField, Detail: "no alias present in header"})
			}
			continue
		}
		raww := raw.Values[header[i]]
		if strings.TrimSpace(raww) == "" {
			if f.Required {
				rec.Problems = append(rec.Problems, Problem{Field: f.Name, Kind: MissingField, Detail: "blank value"})
			}
			continue
		}
		coercer := f.Coerce
		if coercer == nil {
			coercer = StringCoercer{}
		}
		v, cerr := coercer.Coerce(raww)
		if cerr != nil {
			rec.Problems = append(rec.Problems, Problem{Field: f.Name, Kind: TypeMismatch, Detail: cerr.Error()})
			continue
		}
		rec.Fields[f.Name] = v
	}
	for _, d := range s.n.Schema.Derived {
		if v, ok := d.Derive(rec.Fields); ok {
			rec.Fields[d.Name] = v
		}
	}
	for _, i := range s.res.unknown {
		if raw.Values[header[i]] == "" {
			continue
		}
		if rec.Unknown == nil {
			rec.Unknown = make(map[string]string)
		}
		rec.Unknown[header[i]] = raw.Values[header[i]]
	}
	rec.Key = s.n.key(rec)
	return rec, nil
}

// key assembles the natural key from the schema's key fields. A record
// missing any key part gets an empty key, which the Validator rejects.
func (n *Normalizer) key(rec *CanonicalRecord) NaturalKey {
	parts := make([]string, 0, len(n.Schema.Key))
	for _, name := range n.Schema.Key {
		v, ok := rec.Fields[name]
		if !ok {
			return ""
		}
		switch t := v.(type) {
		case string:
			if t == "" {
				return ""
			}
			parts = append(parts, t)
		default:
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	return JoinKey(parts...)
}
