// Package events implements the event ingestion pipeline from spec
// §4.7: a SUB-socket reader that filters by event name and enqueues
// decoded events, plus a dispatcher that drains the queue under a
// bounded staleness budget and calls a user handler.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"github.com/alexveden/quikgo/internal/metrics"
	"github.com/alexveden/quikgo/internal/ratelimit"
)

// Record is one decoded event.
type Record struct {
	Name        string
	ReceivedUTC time.Time
	Payload     json.RawMessage
}

// Sentinel headers that signal server-side teardown rather than a real
// event, per §4.7.
var teardownHeaders = map[string]struct{}{
	"OnDisconnected": {},
	"OnStop":         {},
	"OnClose":        {},
}

// Handler processes one dispatched record. An error is logged and
// swallowed by the dispatcher; it must never propagate to the SUB
// reader.
type Handler func(Record) error

// Watcher owns the SUB socket and the bounded in-process queue.
type Watcher struct {
	endpoint string
	filter   map[string]struct{} // nil means accept every event
	logger   zerolog.Logger
	m        *metrics.Registry

	queue chan Record
}

// NewWatcher constructs a watcher. filter, if non-nil, must already be
// lowercased (see config.Config.EventFilterSet).
func NewWatcher(endpoint string, filter map[string]struct{}, queueSize int, logger zerolog.Logger, m *metrics.Registry) *Watcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Watcher{
		endpoint: endpoint,
		filter:   filter,
		logger:   logger.With().Str("component", "event_watcher").Logger(),
		m:        m,
		queue:    make(chan Record, queueSize),
	}
}

// Queue exposes the bounded channel the dispatcher drains.
func (w *Watcher) Queue() <-chan Record { return w.queue }

// Run reads frames until ctx is cancelled, reconnecting on transport
// failure or a teardown sentinel. It never returns until ctx is done.
func (w *Watcher) Run(ctx context.Context, zctx *zmq.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		sock, err := w.connect(zctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("event socket connect failed, backing off")
			w.sleep(ctx, time.Second)
			continue
		}
		w.readLoop(ctx, sock)
		_ = sock.SetLinger(0)
		_ = sock.Close()
		if ctx.Err() != nil {
			return
		}
		w.sleep(ctx, time.Second)
	}
}

func (w *Watcher) connect(zctx *zmq.Context) (*zmq.Socket, error) {
	var sock *zmq.Socket
	operation := func() error {
		s, err := zctx.NewSocket(zmq.SUB)
		if err != nil {
			return err
		}
		if err := s.SetSubscribe(""); err != nil {
			_ = s.Close()
			return err
		}
		if err := s.Connect(w.endpoint); err != nil {
			_ = s.Close()
			return err
		}
		sock = s
		return nil
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 3)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", w.endpoint, err)
	}
	return sock, nil
}

// readLoop reads header/payload frame pairs until a teardown sentinel,
// a transport error, or ctx cancellation.
func (w *Watcher) readLoop(ctx context.Context, sock *zmq.Socket) {
	for {
		if ctx.Err() != nil {
			return
		}
		header, err := sock.Recv(0)
		if err != nil {
			w.logger.Debug().Err(err).Msg("event socket recv failed")
			return
		}
		payload, err := sock.Recv(0)
		if err != nil {
			w.logger.Debug().Err(err).Msg("event socket recv payload failed")
			return
		}

		if _, teardown := teardownHeaders[header]; teardown {
			w.logger.Warn().Str("header", header).Msg("event socket reported teardown")
			return
		}

		lower := strings.ToLower(header)
		if w.filter != nil {
			if _, ok := w.filter[lower]; !ok {
				if w.m != nil {
					w.m.EventsDropped.Inc()
				}
				continue
			}
		}

		rec := Record{Name: header, ReceivedUTC: time.Now().UTC(), Payload: json.RawMessage(payload)}
		if w.m != nil {
			w.m.EventsTotal.WithLabelValues(header).Inc()
			w.m.EventQueueDepth.Set(float64(len(w.queue)))
		}
		select {
		case w.queue <- rec:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// StaleAfter is the staleness watchdog threshold from §4.7.
const StaleAfter = 30 * time.Second

// Dispatcher drains a Watcher's queue and calls Handler, tracking the
// timestamp of the most recently processed record.
type Dispatcher struct {
	queue   <-chan Record
	handler Handler
	logger  zerolog.Logger
	m       *metrics.Registry
	limiter *ratelimit.Limiter

	lastProcessedUTC func() time.Time
	setLastProcessed func(time.Time)
}

// NewDispatcher wires a Dispatcher over watcher's queue. onProcessed,
// if non-nil, is invoked with each record's receive timestamp so the
// façade can track last_event_processed_utc without a second lock.
// limiter, if non-nil, paces how fast the queue drains so a burst of
// queued events cannot starve the handler's caller of CPU.
func NewDispatcher(w *Watcher, handler Handler, logger zerolog.Logger, m *metrics.Registry, limiter *ratelimit.Limiter, onProcessed func(time.Time)) *Dispatcher {
	if onProcessed == nil {
		onProcessed = func(time.Time) {}
	}
	return &Dispatcher{
		queue:            w.Queue(),
		handler:          handler,
		logger:           logger.With().Str("component", "event_dispatcher").Logger(),
		m:                m,
		limiter:          limiter,
		setLastProcessed: onProcessed,
	}
}

// Run drains the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
		}
		select {
		case rec := <-d.queue:
			d.process(rec)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(rec Record) {
	d.setLastProcessed(rec.ReceivedUTC)
	if age := time.Since(rec.ReceivedUTC); age > StaleAfter {
		d.logger.Warn().Str("event", rec.Name).Dur("age", age).Msg("event dispatch lagging, possible back-pressure")
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().Interface("panic", r).Str("event", rec.Name).Msg("event handler panicked")
			}
		}()
		if err := d.handler(rec); err != nil {
			d.logger.Error().Err(err).Str("event", rec.Name).Msg("event handler returned error")
		}
	}()
}
