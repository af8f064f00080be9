package plsk

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Coercer turns one raw source value into a canonical typed value. Coercion
// rules are declared once per canonical field, never per year: a field whose
// encoding drifts across editions gets one Coercer tolerant of every
// encoding seen so far.
type Coercer interface {
	Coerce(raw string) (interface{}, error)
}

// StringCoercer passes values through with surrounding whitespace removed.
type StringCoercer struct{}

// Coerce trims and returns the raw string.
func (StringCoercer) Coerce(raw string) (interface{}, error) {
	return strings.TrimSpace(raw), nil
}

// IntCoercer coerces integer fields. The survey encodes missing counts as
// blank or as negative sentinels; blanks become the missing sentinel so that
// absence is representable without a null.
type IntCoercer struct{}

// MissingSentinel is the survey's "value not reported" marker.
const MissingSentinel int64 = -1

// Coerce parses a (possibly blank) integer string.
func (IntCoercer) Coerce(raw string) (interface{}, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return MissingSentinel, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some years export counts as "12345.0".
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int64(f)) {
			return nil, errors.Wrapf(err, "coercing %q to int", raw)
		}
		return int64(f), nil
	}
	return n, nil
}

// FloatCoercer coerces floating point fields (coordinates, rates).
type FloatCoercer struct{}

// Coerce parses a float string; blank is a type mismatch for floats.
func (FloatCoercer) Coerce(raw string) (interface{}, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, errors.Wrapf(err, "coercing %q to float", raw)
	}
	return f, nil
}

// BoolCoercer coerces boolean fields. Editions disagree on encoding: "Y"/"N"
// in some years, "1"/"0" in others, spelled-out in a few.
type BoolCoercer struct{}

// Coerce parses any boolean encoding the survey has used.
func (BoolCoercer) Coerce(raw string) (interface{}, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "Y", "YES", "1", "TRUE", "T":
		return true, nil
	case "N", "NO", "0", "FALSE", "F":
		return false, nil
	}
	return nil, errors.Errorf("coercing %q to bool", raw)
}
