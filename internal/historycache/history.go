// Package historycache implements the per-key candle buffer from spec
// §4.4: overlap merge (newer wins), a minimum-refresh interval, and a
// per-key mutual-exclusion token serializing refresh attempts. The
// network-driving refresh protocol itself (CreateDataSource / Size
// poll / candle walk) lives in the façade, which is the only caller
// that should hold the refresh token (LockRefresh/UnlockRefresh) across
// a multi-RPC sequence.
package historycache

import (
	"sort"
	"sync"
	"time"
)

// Candle is one OHLCV bar. Timestamps are naive local-exchange time;
// no timezone conversion is performed here.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Key identifies one history entry.
type Key struct {
	ClassCode string
	SecCode   string
	Interval  string
}

// Entry is the per-key candle buffer.
type Entry struct {
	Key Key

	minRefresh time.Duration

	mu          sync.RWMutex
	candles     []Candle // ascending, strictly monotonic timestamp
	lastBarDate time.Time
	lastUpdate  time.Time
	cursorID    *string

	refreshMu sync.Mutex // the per-key refresh token
}

// New constructs an empty entry with the given minimum refresh
// interval.
func New(key Key, minRefresh time.Duration) *Entry {
	return &Entry{Key: key, minRefresh: minRefresh}
}

// LockRefresh acquires the per-key refresh token. Callers must Unlock
// via UnlockRefresh even on error paths.
func (e *Entry) LockRefresh()   { e.refreshMu.Lock() }
func (e *Entry) UnlockRefresh() { e.refreshMu.Unlock() }

// CanUpdate reports whether at least minRefresh has elapsed since the
// last successful update, or no update has ever happened.
func (e *Entry) CanUpdate() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastUpdate.IsZero() {
		return true
	}
	return time.Since(e.lastUpdate) >= e.minRefresh
}

// LastBarDate returns the most recent candle timestamp known to the
// entry, or the zero time if empty.
func (e *Entry) LastBarDate() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastBarDate
}

// CursorID returns the server-side cursor id, or nil if none has been
// created yet.
func (e *Entry) CursorID() *string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cursorID
}

// SetCursorID records a newly created server-side cursor.
func (e *Entry) SetCursorID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursorID = &id
}

// ClearCursorID drops the cursor id, e.g. after the façade closes it.
func (e *Entry) ClearCursorID() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursorID = nil
}

// Series returns the stored candles. If copy is true, a defensive copy
// is returned.
func (e *Entry) Series(copySlice bool) []Candle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !copySlice {
		return e.candles
	}
	out := make([]Candle, len(e.candles))
	copy(out, e.candles)
	return out
}

// Process merges newCandles (expected sorted ascending, strictly
// monotonic) into the stored series. On timestamp collision the new
// batch's values win. Updates LastBarDate and the refresh timestamp
// used by CanUpdate.
func (e *Entry) Process(newCandles []Candle) []Candle {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.candles) == 0 {
		e.candles = append([]Candle(nil), newCandles...)
	} else if len(newCandles) > 0 {
		byTS := make(map[int64]Candle, len(e.candles)+len(newCandles))
		for _, c := range e.candles {
			byTS[c.Timestamp.UnixNano()] = c
		}
		for _, c := range newCandles {
			byTS[c.Timestamp.UnixNano()] = c // newer batch wins on collision
		}
		merged := make([]Candle, 0, len(byTS))
		for _, c := range byTS {
			merged = append(merged, c)
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })
		e.candles = merged
	}

	if len(e.candles) > 0 {
		e.lastBarDate = e.candles[len(e.candles)-1].Timestamp
	}
	e.lastUpdate = time.Now()

	out := make([]Candle, len(e.candles))
	copy(out, e.candles)
	return out
}
