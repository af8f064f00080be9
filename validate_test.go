package plsk

import (
	"strings"
	"testing"
)

func TestClassifyAccepted(t *testing.T) {
	v := &Validator{Schema: testSchema()}
	rec := &CanonicalRecord{
		Kind:   KindLibrary,
		Key:    JoinKey("AK0001"),
		Fields: map[string]interface{}{"fscs_id": "AK0001", "name": "ANCHORAGE", "visits": int64(5)},
	}
	cls := v.Classify(rec)
	if cls.Outcome != OutcomeAccepted {
		t.Fatalf("expected accepted, got %v (%v)", cls.Outcome, cls.Reason)
	}
}

func TestClassifyRejectsMissingKey(t *testing.T) {
	v := &Validator{Schema: testSchema()}
	rec := &CanonicalRecord{Kind: KindLibrary, Key: "", Fields: map[string]interface{}{}}
	cls := v.Classify(rec)
	if cls.Outcome != OutcomeRejected {
		t.Fatalf("expected rejected, got %v", cls.Outcome)
	}
	if !strings.Contains(cls.Reason, "natural key") {
		t.Fatalf("wrong reason: %q", cls.Reason)
	}
}

func TestClassifyRejectsRequiredProblem(t *testing.T) {
	v := &Validator{Schema: testSchema()}
	rec := &CanonicalRecord{
		Kind:     KindLibrary,
		Key:      JoinKey("AK0001"),
		Fields:   map[string]interface{}{"fscs_id": "AK0001"},
		Problems: []Problem{{Field: "name", Kind: MissingField, Detail: "blank value"}},
	}
	if cls := v.Classify(rec); cls.Outcome != OutcomeRejected {
		t.Fatalf("expected rejected for missing required field, got %v", cls.Outcome)
	}
}

func TestClassifyCorrectsOptionalTypeMismatch(t *testing.T) {
	v := &Validator{Schema: testSchema()}
	rec := &CanonicalRecord{
		Kind:     KindLibrary,
		Key:      JoinKey("AK0001"),
		Fields:   map[string]interface{}{"fscs_id": "AK0001", "name": "ANCHORAGE"},
		Problems: []Problem{{Field: "visits", Kind: TypeMismatch, Detail: `coercing "bogus" to int`}},
	}
	cls := v.Classify(rec)
	if cls.Outcome != OutcomeCorrected {
		t.Fatalf("expected corrected, got %v (%v)", cls.Outcome, cls.Reason)
	}
	if len(cls.Corrections) != 1 {
		t.Fatalf("expected one correction, got %v", cls.Corrections)
	}
}

func TestClassifyClampsOutOfRange(t *testing.T) {
	v := &Validator{
		Schema: testSchema(),
		Clamps: []ClampRule{{Field: "visits", Min: 0, Max: 1_000_000, Sentinel: -1}},
	}
	rec := &CanonicalRecord{
		Kind:   KindLibrary,
		Key:    JoinKey("AK0001"),
		Fields: map[string]interface{}{"fscs_id": "AK0001", "name": "ANCHORAGE", "visits": int64(99_999_999)},
	}
	cls := v.Classify(rec)
	if cls.Outcome != OutcomeCorrected {
		t.Fatalf("expected corrected, got %v", cls.Outcome)
	}
	if rec.Fields["visits"] != int64(-1) {
		t.Fatalf("expected clamp to sentinel, got %v", rec.Fields["visits"])
	}

	// Re-classifying the corrected record accepts it: corrections are
	// deterministic and converge.
	if cls := v.Classify(rec); cls.Outcome != OutcomeAccepted {
		t.Fatalf("expected accepted on second pass, got %v", cls.Outcome)
	}
}

func TestClassifyKeepsSentinelValues(t *testing.T) {
	v := &Validator{
		Schema: testSchema(),
		Clamps: []ClampRule{{Field: "visits", Min: 0, Max: 1_000_000, Sentinel: -1}},
	}
	rec := &CanonicalRecord{
		Kind:   KindLibrary,
		Key:    JoinKey("AK0001"),
		Fields: map[string]interface{}{"fscs_id": "AK0001", "name": "ANCHORAGE", "visits": MissingSentinel},
	}
	if cls := v.Classify(rec); cls.Outcome != OutcomeAccepted {
		t.Fatalf("sentinel must not be clamped, got %v", cls.Outcome)
	}
}
