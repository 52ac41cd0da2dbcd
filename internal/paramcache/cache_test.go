package paramcache

import (
	"testing"

	"github.com/alexveden/quikgo/errs"
)

func TestProcessNumericTracksLastChange(t *testing.T) {
	e := New("TQBR", "SBER", []string{"LAST"})

	if err := e.Process("LAST", Reply{ParamType: "1", Result: "1", ParamValue: "123.45"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, ok := e.Get("last")
	if !ok || v.Kind != KindNumeric || v.Number != 123.45 {
		t.Fatalf("expected numeric 123.45, got %+v (ok=%v)", v, ok)
	}
	first := e.LastChangeUTC()
	if first.IsZero() {
		t.Fatalf("expected last-change timestamp to be set")
	}

	// Re-processing with an identical value must not update the
	// change-tracking timestamp.
	if err := e.Process("LAST", Reply{ParamType: "1", Result: "1", ParamValue: "123.45"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.LastChangeUTC() != first {
		t.Fatalf("expected unchanged value not to bump last-change timestamp")
	}
}

func TestProcessTextKind(t *testing.T) {
	e := New("TQBR", "SBER", []string{"STATUS"})
	if err := e.Process("status", Reply{ParamType: "3", Result: "1", ParamImage: "active"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := e.Get("STATUS")
	if v.Kind != KindText || v.Text != "active" {
		t.Fatalf("expected text value 'active', got %+v", v)
	}
}

func TestProcessTimeOfDayEmptyIsAbsent(t *testing.T) {
	e := New("TQBR", "SBER", []string{"NEXTSESSION"})
	if err := e.Process("nextsession", Reply{ParamType: "5", Result: "1", ParamImage: ""}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := e.Get("nextsession")
	if v.Kind != KindAbsent {
		t.Fatalf("expected KindAbsent for empty time-of-day image, got %+v", v)
	}
}

func TestProcessDateKind(t *testing.T) {
	e := New("TQBR", "SBER", []string{"EXPDATE"})
	if err := e.Process("expdate", Reply{ParamType: "6", Result: "1", ParamImage: "15.03.2026"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := e.Get("expdate")
	if v.Kind != KindDate || v.Time.Day() != 15 || v.Time.Month().String() != "March" {
		t.Fatalf("expected date 15 March, got %+v", v)
	}
}

func TestProcessUnknownParamTypeErrors(t *testing.T) {
	e := New("TQBR", "SBER", []string{"X"})
	err := e.Process("x", Reply{ParamType: "99", Result: "1", ParamImage: "whatever"})
	if !errs.IsKind(err, errs.KindGeneric) {
		t.Fatalf("expected KindGeneric for unknown param_type, got %v", err)
	}
}

func TestProcessResultFailureOnUnknownParamIsGeneric(t *testing.T) {
	e := New("TQBR", "SBER", []string{"LAST"})
	err := e.Process("last", Reply{Result: "0"})
	if !errs.IsKind(err, errs.KindGeneric) {
		t.Fatalf("expected KindGeneric for a never-seen parameter, got %v", err)
	}
}

func TestProcessResultFailureOnKnownParamIsConnectivity(t *testing.T) {
	e := New("TQBR", "SBER", []string{"LAST"})
	if err := e.Process("last", Reply{ParamType: "1", Result: "1", ParamValue: "1"}); err != nil {
		t.Fatalf("unexpected error priming value: %v", err)
	}
	err := e.Process("last", Reply{Result: "0"})
	if !errs.IsKind(err, errs.KindConnectivity) {
		t.Fatalf("expected KindConnectivity once the subscription was dropped server-side, got %v", err)
	}
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	e := New("TQBR", "SBER", []string{"LAST"})
	_ = e.Process("last", Reply{ParamType: "1", Result: "1", ParamValue: "1"})
	snap := e.Snapshot()
	snap["last"] = Value{Kind: KindNumeric, Number: 999}
	v, _ := e.Get("last")
	if v.Number == 999 {
		t.Fatalf("expected Snapshot to return a copy, mutation leaked into entry")
	}
}

func TestAllowsIsCaseInsensitive(t *testing.T) {
	e := New("TQBR", "SBER", []string{"Last"})
	if !e.Allows("LAST") || !e.Allows("last") {
		t.Fatalf("expected Allows to be case-insensitive")
	}
	if e.Allows("bid") {
		t.Fatalf("expected Allows to reject a param not in the allowed set")
	}
}
