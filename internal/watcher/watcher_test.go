package watcher

import (
	"testing"
	"time"
)

func TestSubscribeAndDueCandidates(t *testing.T) {
	w := New()
	key := Key{ClassCode: "TQBR", SecCode: "SBER", Param: "last"}
	w.Subscribe([]Item{{Key: key, Interval: 10 * time.Millisecond}})

	if got := w.Count(); got != 1 {
		t.Fatalf("expected 1 row, got %d", got)
	}
	if due := w.DueCandidates(); len(due) != 0 {
		t.Fatalf("expected no due candidates immediately after subscribe, got %v", due)
	}

	time.Sleep(15 * time.Millisecond)
	due := w.DueCandidates()
	if len(due) != 1 || due[0] != key {
		t.Fatalf("expected %v to be due, got %v", key, due)
	}
}

func TestMarkUpdatedResetsOnlyGivenKeys(t *testing.T) {
	w := New()
	keyA := Key{ClassCode: "TQBR", SecCode: "SBER", Param: "last"}
	keyB := Key{ClassCode: "TQBR", SecCode: "GAZP", Param: "last"}
	w.Subscribe([]Item{
		{Key: keyA, Interval: 10 * time.Millisecond},
		{Key: keyB, Interval: 10 * time.Millisecond},
	})

	time.Sleep(15 * time.Millisecond)
	w.MarkUpdated([]Key{keyA})

	due := w.DueCandidates()
	if len(due) != 1 || due[0] != keyB {
		t.Fatalf("expected only keyB still due, got %v", due)
	}
}

func TestUnsubscribeRemovesAllParamsForInstrument(t *testing.T) {
	w := New()
	w.Subscribe([]Item{
		{Key: Key{ClassCode: "TQBR", SecCode: "SBER", Param: "last"}, Interval: time.Second},
		{Key: Key{ClassCode: "TQBR", SecCode: "SBER", Param: "bid"}, Interval: time.Second},
		{Key: Key{ClassCode: "TQBR", SecCode: "GAZP", Param: "last"}, Interval: time.Second},
	})

	w.Unsubscribe("TQBR", "SBER")
	if got := w.Count(); got != 1 {
		t.Fatalf("expected 1 remaining row after unsubscribe, got %d", got)
	}
}

func TestResubscribeResetsInterval(t *testing.T) {
	w := New()
	key := Key{ClassCode: "TQBR", SecCode: "SBER", Param: "last"}
	w.Subscribe([]Item{{Key: key, Interval: 10 * time.Millisecond}})
	time.Sleep(15 * time.Millisecond)

	// Re-subscribing resets last_update, so the row should not
	// immediately be due again.
	w.Subscribe([]Item{{Key: key, Interval: time.Hour}})
	if due := w.DueCandidates(); len(due) != 0 {
		t.Fatalf("expected re-subscribed row to reset its due timer, got due=%v", due)
	}
}

func TestLockedVariantsDoNotDeadlockUnderHeldToken(t *testing.T) {
	w := New()
	w.Lock()
	w.SubscribeLocked([]Item{{Key: Key{ClassCode: "A", SecCode: "B", Param: "p"}, Interval: time.Second}})
	w.UnsubscribeLocked("A", "B")
	w.Unlock()
	if got := w.Count(); got != 0 {
		t.Fatalf("expected 0 rows after locked subscribe+unsubscribe, got %d", got)
	}
}
