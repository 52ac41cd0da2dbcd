// Package watcher implements the parameter-watcher schedule table from
// spec §4.3: a `(class, sec, lowercased_param) -> (last_update,
// interval)` table with due-set selection, guarded by its own
// mutual-exclusion token so callers can hold it across multi-step
// subscribe/unsubscribe batches.
package watcher

import (
	"sync"
	"time"
)

// Key identifies one watched row.
type Key struct {
	ClassCode string
	SecCode   string
	Param     string // already lowercased
}

// Item is one row to install via Subscribe.
type Item struct {
	Key      Key
	Interval time.Duration
}

type row struct {
	lastUpdate time.Time
	interval   time.Duration
}

// Watcher is the scheduler table. The zero value is not usable; use
// New.
type Watcher struct {
	mu   sync.Mutex
	rows map[Key]*row
}

func New() *Watcher {
	return &Watcher{rows: make(map[Key]*row)}
}

// Lock/Unlock expose the watcher's own token directly so the façade can
// hold it across a subscribe/unsubscribe batch that also touches a
// parameter cache, matching §4.5's "install atomically" requirement
// without a second lock type.
func (w *Watcher) Lock()   { w.mu.Lock() }
func (w *Watcher) Unlock() { w.mu.Unlock() }

// Subscribe installs or overwrites rows for items. Re-subscribing an
// existing key resets its interval and last-update timestamp, per the
// row-identity rule in §3. Subscribe takes the token itself; callers
// that already hold it (via Lock) across a paired cache installation
// use SubscribeLocked instead.
func (w *Watcher) Subscribe(items []Item) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribeLocked(items)
}

func (w *Watcher) subscribeLocked(items []Item) {
	for _, it := range items {
		w.rows[it.Key] = &row{lastUpdate: time.Now(), interval: it.Interval}
	}
}

// SubscribeLocked is Subscribe's lock-free counterpart for callers that
// already hold the token.
func (w *Watcher) SubscribeLocked(items []Item) { w.subscribeLocked(items) }

// Unsubscribe removes every row matching classCode/secCode, regardless
// of parameter name.
func (w *Watcher) Unsubscribe(classCode, secCode string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unsubscribeLocked(classCode, secCode)
}

func (w *Watcher) unsubscribeLocked(classCode, secCode string) {
	for k := range w.rows {
		if k.ClassCode == classCode && k.SecCode == secCode {
			delete(w.rows, k)
		}
	}
}

// UnsubscribeLocked is Unsubscribe's lock-free counterpart.
func (w *Watcher) UnsubscribeLocked(classCode, secCode string) {
	w.unsubscribeLocked(classCode, secCode)
}

// DueCandidates returns every row whose last_update + interval has
// elapsed. Order is unspecified.
func (w *Watcher) DueCandidates() []Key {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	out := make([]Key, 0)
	for k, r := range w.rows {
		if r.lastUpdate.Add(r.interval).Before(now) {
			out = append(out, k)
		}
	}
	return out
}

// MarkUpdated sets last_update := now for exactly the given keys, not
// every row.
func (w *Watcher) MarkUpdated(candidates []Key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	for _, k := range candidates {
		if r, ok := w.rows[k]; ok {
			r.lastUpdate = now
		}
	}
}

// Count returns the current row count.
func (w *Watcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}
