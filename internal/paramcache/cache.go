// Package paramcache implements the typed decoded view of one
// instrument's current parameters (spec §4.2): a tagged value variant
// per parameter name, decoded from the upstream's getParamEx2 reply
// shape.
package paramcache

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alexveden/quikgo/errs"
)

// ValueKind tags the dynamic parameter value, generalizing the
// teacher's pattern of a small closed tag set (see MessagePriority in
// message.go) to the wire's param_type field.
type ValueKind int

const (
	KindAbsent ValueKind = iota
	KindNumeric
	KindText
	KindTimeOfDay
	KindDate
)

// Value is a tagged parameter reading. Exactly one of Number/Text/Time
// is meaningful for the given Kind; KindAbsent carries none.
type Value struct {
	Kind   ValueKind
	Number float64
	Text   string
	Time   time.Time // time-of-day (KindTimeOfDay) or date (KindDate)
}

func Absent() Value { return Value{Kind: KindAbsent} }

// Entry is the per-(class_code, sec_code) cache: the fixed allowed
// parameter set, the current value map, and the last-change timestamp.
type Entry struct {
	ClassCode string
	SecCode   string

	mu            sync.RWMutex
	allowed       map[string]struct{}
	values        map[string]Value
	lastChangeUTC time.Time
}

// New constructs an entry for the given instrument and lowercased
// parameter name set, fixed for the entry's lifetime.
func New(classCode, secCode string, paramNames []string) *Entry {
	allowed := make(map[string]struct{}, len(paramNames))
	for _, n := range paramNames {
		allowed[strings.ToLower(n)] = struct{}{}
	}
	return &Entry{
		ClassCode: classCode,
		SecCode:   secCode,
		allowed:   allowed,
		values:    make(map[string]Value, len(allowed)),
	}
}

// Allows reports whether name (any case) is in this entry's allowed
// set, the invariant that ties watcher rows to cache entries.
func (e *Entry) Allows(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.allowed[strings.ToLower(name)]
	return ok
}

// ParamNames returns the allowed set, lowercased, in no particular
// order.
func (e *Entry) ParamNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.allowed))
	for n := range e.allowed {
		out = append(out, n)
	}
	return out
}

// Get returns the current value for name and whether it is known at
// all (distinct from KindAbsent, which is a known-but-empty reading).
func (e *Entry) Get(name string) (Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[strings.ToLower(name)]
	return v, ok
}

// Snapshot returns a defensive copy of every known value, keyed by
// lowercased parameter name.
func (e *Entry) Snapshot() map[string]Value {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Value, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// LastChangeUTC returns the timestamp of the most recent numeric value
// change observed by this entry.
func (e *Entry) LastChangeUTC() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastChangeUTC
}

// Reply is the decoded shape of a getParamEx2 response's param_ex
// object.
type Reply struct {
	ParamType  string
	Result     string
	ParamImage string
	ParamValue string
}

// Process decodes one getParamEx2 reply for paramName and updates the
// entry per the decoding table in §4.2. paramName is normalized to
// lowercase before use.
func (e *Entry) Process(paramName string, r Reply) error {
	name := strings.ToLower(paramName)

	e.mu.Lock()
	defer e.mu.Unlock()

	if r.Result != "1" {
		_, known := e.values[name]
		if known {
			return errs.Connectivityf(name, "parameter subscription for %s.%s/%s dropped server-side", e.ClassCode, e.SecCode, name)
		}
		return errs.Genericf(name, "invalid parameter %s for %s.%s", name, e.ClassCode, e.SecCode)
	}

	switch r.ParamType {
	case "1", "2":
		n, err := strconv.ParseFloat(strings.TrimSpace(r.ParamValue), 64)
		if err != nil {
			return errs.Generic(name, fmt.Errorf("parse numeric param_value %q: %w", r.ParamValue, err))
		}
		prev, hadPrev := e.values[name]
		if !hadPrev || prev.Kind != KindNumeric || prev.Number != n {
			e.lastChangeUTC = time.Now().UTC()
		}
		e.values[name] = Value{Kind: KindNumeric, Number: n}

	case "3", "4":
		e.values[name] = Value{Kind: KindText, Text: r.ParamImage}

	case "5":
		if strings.TrimSpace(r.ParamImage) == "" {
			e.values[name] = Absent()
			return nil
		}
		t, err := time.Parse("15:04:05", r.ParamImage)
		if err != nil {
			return errs.Generic(name, fmt.Errorf("parse time-of-day %q: %w", r.ParamImage, err))
		}
		e.values[name] = Value{Kind: KindTimeOfDay, Time: t}

	case "6":
		if strings.TrimSpace(r.ParamImage) == "" {
			e.values[name] = Absent()
			return nil
		}
		t, err := time.Parse("02.01.2006", r.ParamImage)
		if err != nil {
			return errs.Generic(name, fmt.Errorf("parse date %q: %w", r.ParamImage, err))
		}
		e.values[name] = Value{Kind: KindDate, Time: t}

	default:
		return errs.Genericf(name, "unknown param_type %q for %s", r.ParamType, name)
	}
	return nil
}
