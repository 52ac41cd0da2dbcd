// Package quikgo is the client façade for the QUIK-terminal bridge
// described in spec §4.5: lifecycle management, subscription APIs,
// history fetch, RPC pass-through and statistics, wired atop the
// internal socket pool, parameter cache/watcher, history cache and
// event pipeline packages.
package quikgo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/alexveden/quikgo/config"
	"github.com/alexveden/quikgo/errs"
	"github.com/alexveden/quikgo/internal/events"
	"github.com/alexveden/quikgo/internal/historycache"
	"github.com/alexveden/quikgo/internal/metrics"
	"github.com/alexveden/quikgo/internal/paramcache"
	"github.com/alexveden/quikgo/internal/ratelimit"
	"github.com/alexveden/quikgo/internal/sockpool"
	"github.com/alexveden/quikgo/internal/watcher"
)

type lifecycleState int32

const (
	stateConstructed lifecycleState = iota
	stateInitialized
	stateShuttingDown
)

// InstrumentKey identifies one (class_code, sec_code) pair, the
// parameter-subscription granularity from spec §3.
type InstrumentKey struct {
	ClassCode string
	SecCode   string
}

// Client is the façade described by spec §4.5. The zero value is not
// usable; construct with New.
type Client struct {
	cfg    *config.Config
	logger zerolog.Logger
	m      *metrics.Registry

	zctx     *zmq.Context
	rpcPool  *sockpool.Pool
	dataPool *sockpool.Pool // aliases rpcPool when no data host is configured

	paramWatcher *watcher.Watcher

	paramMu     sync.RWMutex
	paramCaches map[InstrumentKey]*paramcache.Entry

	historyMu      sync.Mutex
	historyEntries map[historycache.Key]*historycache.Entry

	eventWatcher    *events.Watcher
	eventDispatcher *events.Dispatcher
	eventHandler    events.Handler

	pollLimiter *ratelimit.Limiter

	state atomic.Int32

	lastQuoteProcessedUTC atomicTime
	lastDataProcessedUTC  atomicTime
	lastEventProcessedUTC atomicTime

	bgMu     sync.Mutex
	bgErrs   map[string]error
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgGroup  *errgroup.Group
}

// Option customizes New.
type Option func(*Client)

// WithEventHandler installs the callback invoked by the event
// dispatcher for every non-filtered event. Equivalent to configuring
// event_callback in spec §6.
func WithEventHandler(h events.Handler) Option {
	return func(c *Client) { c.eventHandler = h }
}

// WithMetricsRegisterer registers prometheus collectors against reg
// instead of prometheus.DefaultRegisterer. Pass nil to register no
// collectors at all.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.m = metrics.New(reg, "quikgo") }
}

// New constructs an inert client. The RPC host is validated against
// the localhost-only security guard from §4.5 (also re-validated by
// config.Load, but re-checked here so Client never trusts a
// hand-built Config).
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Programming("New", err)
	}

	c := &Client{
		cfg:            cfg,
		logger:         logger.With().Str("component", "quikgo").Logger(),
		paramWatcher:   watcher.New(),
		paramCaches:    make(map[InstrumentKey]*paramcache.Entry),
		historyEntries: make(map[historycache.Key]*historycache.Entry),
		bgErrs:         make(map[string]error),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.m == nil {
		c.m = metrics.New(prometheus.DefaultRegisterer, "quikgo")
	}
	return c, nil
}

// Initialize moves the client from constructed to initialized: it
// creates the transport context, the RPC (and, if configured, data)
// socket pools, and starts the poll task, event watcher and event
// dispatcher. Calling Initialize twice is a programming error.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(stateConstructed), int32(stateInitialized)) {
		return errs.Programming("Initialize", fmt.Errorf("client already initialized"))
	}

	zctx, err := zmq.NewContext()
	if err != nil {
		return errs.Connectivity("Initialize", err)
	}
	c.zctx = zctx

	var curve *sockpool.CurveConfig
	if c.cfg.CurveServerPublicKey != "" {
		curve = &sockpool.CurveConfig{
			ServerPublicKey: c.cfg.CurveServerPublicKey,
			ClientPublicKey: c.cfg.CurveClientPublicKey,
			ClientSecretKey: c.cfg.CurveClientSecretKey,
		}
	}

	c.rpcPool = sockpool.New(zctx, sockpool.Config{
		Endpoint:    c.cfg.RPCHost,
		Size:        c.cfg.NSimultaneousSockets,
		Timeout:     time.Duration(c.cfg.SocketTimeoutMs) * time.Millisecond,
		RetryBudget: c.cfg.RetryBudget,
		Curve:       curve,
		Verbosity:   c.cfg.Verbosity,
	}, c.logger, c.m)

	if c.cfg.DataHost != "" {
		c.dataPool = sockpool.New(zctx, sockpool.Config{
			Endpoint:    c.cfg.DataHost,
			Size:        c.cfg.NSimultaneousSockets,
			Timeout:     time.Duration(c.cfg.SocketTimeoutMs) * time.Millisecond,
			RetryBudget: c.cfg.RetryBudget,
			Curve:       curve,
			Verbosity:   c.cfg.Verbosity,
		}, c.logger, c.m)
	} else {
		c.dataPool = c.rpcPool
	}

	c.pollLimiter = ratelimit.New(c.cfg.PollRateLimitPerSec, c.cfg.NSimultaneousSockets)

	bgCtx, cancel := context.WithCancel(context.Background())
	c.bgCtx = bgCtx
	c.bgCancel = cancel
	group, gctx := errgroup.WithContext(bgCtx)
	c.bgGroup = group

	group.Go(func() error {
		c.runPollTask(gctx)
		return nil
	})

	if c.cfg.EventHost != "" {
		c.eventWatcher = events.NewWatcher(c.cfg.EventHost, c.cfg.EventFilterSet(), 4096, c.logger, c.m)
		handler := c.eventHandler
		if handler == nil {
			handler = func(events.Record) error { return nil }
		}
		dispatchLimiter := ratelimit.New(c.cfg.EventDispatchRateLimitPerSec, c.cfg.NSimultaneousSockets*2)
		c.eventDispatcher = events.NewDispatcher(c.eventWatcher, handler, c.logger, c.m, dispatchLimiter, func(t time.Time) {
			c.lastEventProcessedUTC.Store(t)
		})
		group.Go(func() error {
			c.eventWatcher.Run(gctx, zctx)
			return nil
		})
		group.Go(func() error {
			c.eventDispatcher.Run(gctx)
			return nil
		})
	}

	return nil
}

// isShuttingDown reports whether shutdown has been initiated.
func (c *Client) isShuttingDown() bool {
	return lifecycleState(c.state.Load()) == stateShuttingDown
}

func (c *Client) checkLive(op string) error {
	switch lifecycleState(c.state.Load()) {
	case stateConstructed:
		return errs.Programming(op, fmt.Errorf("client not initialized"))
	case stateShuttingDown:
		return errs.Cancelled(op)
	default:
		return nil
	}
}

// RPCCall passes method/args straight through the RPC pool (spec
// §4.5's rpc_call).
func (c *Client) RPCCall(ctx context.Context, method string, args map[string]interface{}) (map[string]interface{}, error) {
	if err := c.checkLive("RPCCall"); err != nil {
		return nil, err
	}
	return c.rpcPool.Call(ctx, method, args)
}

// ClassesList wraps getClassesList, one of the opaque pass-through
// methods named in §6.
func (c *Client) ClassesList(ctx context.Context) (map[string]interface{}, error) {
	return c.RPCCall(ctx, "getClassesList", nil)
}

// Message wraps the terminal's message(message, icon_type) call.
func (c *Client) Message(ctx context.Context, message string, iconType int) (map[string]interface{}, error) {
	return c.RPCCall(ctx, "message", map[string]interface{}{"message": message, "icon_type": iconType})
}

// Stats is the combined statistics snapshot returned by Client.Stats,
// generalizing the original's per-pool get_stats() across both pools
// plus watcher and event-queue depth.
type Stats struct {
	RPC      map[string]sockpool.MethodStats
	Data     map[string]sockpool.MethodStats // equal to RPC when no data host is configured
	Watchers int

	// EventQueueDepth is zero when no event host is configured.
	EventQueueDepth int
}

// Stats returns a snapshot of pool, watcher and event statistics.
func (c *Client) Stats() Stats {
	s := Stats{
		RPC:      c.rpcPool.Stats(),
		Data:     c.dataPool.Stats(),
		Watchers: c.paramWatcher.Count(),
	}
	if c.eventWatcher != nil {
		s.EventQueueDepth = len(c.eventWatcher.Queue())
	}
	return s
}

// ResetStats zeros every pool counter atomically from the caller's
// viewpoint.
func (c *Client) ResetStats() {
	c.rpcPool.ResetStats()
	if c.dataPool != c.rpcPool {
		c.dataPool.ResetStats()
	}
}

func normalizeParamNames(params []string) []string {
	out := make([]string, len(params))
	for i, p := range params {
		out[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return out
}

// atomicTime is a lock-free nullable timestamp, used for the three
// last-*-processed watermarks the façade tracks without pulling the
// watcher's or a cache's mutex into the hot path.
type atomicTime struct {
	nanos atomic.Int64
}

func (a *atomicTime) Store(t time.Time) { a.nanos.Store(t.UnixNano()) }

func (a *atomicTime) Load() (time.Time, bool) {
	n := a.nanos.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n).UTC(), true
}
