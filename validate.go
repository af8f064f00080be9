package plsk

import "fmt"

// Outcome is the classification of one CanonicalRecord.
type Outcome int

const (
	// OutcomeAccepted means the record is clean and proceeds unchanged.
	OutcomeAccepted Outcome = iota
	// OutcomeCorrected means a recoverable issue was fixed deterministically;
	// the record proceeds with its corrections logged.
	OutcomeCorrected
	// OutcomeRejected means the record is unrecoverable and is excluded from
	// reconciliation. Rejection never aborts an edition.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeCorrected:
		return "corrected"
	case OutcomeRejected:
		return "rejected"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Classification is the Validator's verdict on one record.
type Classification struct {
	Outcome     Outcome
	Corrections []string // human-readable, one per applied fix
	Reason      string   // set only for rejections
}

// ClampRule clamps an out-of-range integer field to a sentinel. The survey's
// numeric codes have documented domains; values outside them are publisher
// noise, not information.
type ClampRule struct {
	Field    string
	Min, Max int64
	Sentinel int64
}

// Validator classifies CanonicalRecords. Classification is total: every
// record yields exactly one Outcome and no errors escape to the caller.
type Validator struct {
	Schema Schema
	Clamps []ClampRule
	Log    Logger
}

// Classify applies the validation rules to one record, mutating its fields
// where a correction applies.
func (v *Validator) Classify(rec *CanonicalRecord) Classification {
	if rec.Key == "" {
		return Classification{Outcome: OutcomeRejected, Reason: "missing natural key"}
	}
	for _, p := range rec.Problems {
		f, ok := v.Schema.field(p.Field)
		if ok && f.Required {
			return Classification{
				Outcome: OutcomeRejected,
				Reason:  fmt.Sprintf("%s: %s (%s)", p.Field, p.Kind, p.Detail),
			}
		}
	}

	var corrections []string
	// Optional fields that failed coercion are dropped rather than fatal.
	for _, p := range rec.Problems {
		if p.Kind == TypeMismatch {
			corrections = append(corrections, fmt.Sprintf("dropped unparseable optional field %s", p.Field))
		}
	}
	for _, rule := range v.Clamps {
		n, ok := rec.Fields[rule.Field].(int64)
		if !ok || n == rule.Sentinel || n == MissingSentinel {
			continue
		}
		if n < rule.Min || n > rule.Max {
			rec.Fields[rule.Field] = rule.Sentinel
			corrections = append(corrections, fmt.Sprintf("clamped %s=%d to %d", rule.Field, n, rule.Sentinel))
		}
	}

	if len(corrections) > 0 {
		if v.Log != nil {
			v.Log.Debugf("corrected %s row %d: %v", rec.Kind, rec.Row, corrections)
		}
		return Classification{Outcome: OutcomeCorrected, Corrections: corrections}
	}
	return Classification{Outcome: OutcomeAccepted}
}
