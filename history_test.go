package quikgo

import (
	"testing"
	"time"
)

func TestAsIntAcceptsNumericVariants(t *testing.T) {
	cases := []struct {
		in   interface{}
		want int
	}{
		{42, 42},
		{int64(7), 7},
		{float64(3.0), 3},
		{"not a number", 0},
		{nil, 0},
	}
	for _, c := range cases {
		if got := asInt(c.in); got != c.want {
			t.Fatalf("asInt(%#v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestAsFloatAcceptsNumericVariants(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
	}{
		{float64(1.5), 1.5},
		{42, 42},
		{int64(9), 9},
		{"nope", 0},
	}
	for _, c := range cases {
		if got := asFloat(c.in); got != c.want {
			t.Fatalf("asFloat(%#v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestCandleTimestampParsesTimeObject(t *testing.T) {
	reply := map[string]interface{}{
		"time": map[string]interface{}{
			"year": 2026, "month": 3, "day": 15,
			"hour": 10, "min": 30, "sec": 5, "ms": 250,
		},
	}
	ts, err := candleTimestamp(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, time.March, 15, 10, 30, 5, 250*int(time.Millisecond), time.Local)
	if !ts.Equal(want) {
		t.Fatalf("expected %v, got %v", want, ts)
	}
}

func TestCandleTimestampMissingTimeObjectErrors(t *testing.T) {
	if _, err := candleTimestamp(map[string]interface{}{}); err == nil {
		t.Fatalf("expected an error when the reply carries no time object")
	}
}
