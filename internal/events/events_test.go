package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/alexveden/quikgo/internal/ratelimit"
)

func newTestWatcher(filter map[string]struct{}) *Watcher {
	return NewWatcher("inproc://test", filter, 16, zerolog.Nop(), nil)
}

func TestDispatcherCallsHandlerAndTracksLastProcessed(t *testing.T) {
	w := newTestWatcher(nil)
	var seen []string
	var lastProcessed time.Time

	d := NewDispatcher(w, func(r Record) error {
		seen = append(seen, r.Name)
		return nil
	}, zerolog.Nop(), nil, nil, func(ts time.Time) { lastProcessed = ts })

	rec := Record{Name: "OnTrade", ReceivedUTC: time.Now().UTC(), Payload: json.RawMessage(`{}`)}
	w.queue <- rec

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go d.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	if len(seen) != 1 || seen[0] != "OnTrade" {
		t.Fatalf("expected handler to be called once with OnTrade, got %v", seen)
	}
	if lastProcessed.IsZero() {
		t.Fatalf("expected onProcessed callback to have fired")
	}
}

func TestDispatcherProcessRecoversFromHandlerPanic(t *testing.T) {
	w := newTestWatcher(nil)
	d := NewDispatcher(w, func(Record) error {
		panic("handler exploded")
	}, zerolog.Nop(), nil, nil, nil)

	// process must not propagate the panic to the caller.
	d.process(Record{Name: "OnOrder", ReceivedUTC: time.Now().UTC()})
}

func TestDispatcherProcessSwallowsHandlerError(t *testing.T) {
	w := newTestWatcher(nil)
	called := false
	d := NewDispatcher(w, func(Record) error {
		called = true
		return context.DeadlineExceeded
	}, zerolog.Nop(), nil, nil, nil)

	d.process(Record{Name: "OnStopOrder", ReceivedUTC: time.Now().UTC()})
	if !called {
		t.Fatalf("expected handler to be invoked")
	}
}

func TestDispatcherRespectsRateLimiterAndContext(t *testing.T) {
	w := newTestWatcher(nil)
	d := NewDispatcher(w, func(Record) error { return nil }, zerolog.Nop(), nil, ratelimit.New(1, 1), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Run must return promptly once ctx is already cancelled, rather
	// than blocking on the rate limiter or the queue forever.
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return once ctx is cancelled")
	}
}
