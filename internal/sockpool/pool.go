// Package sockpool implements the bounded request/reply connection
// pool described in spec §4.1: a small set of physical ZeroMQ REQ
// sockets multiplexing many concurrent logical calls, with lazy-pirate
// retry on transport failure and per-method statistics.
//
// Acquisition follows "acquire permit -> submit to worker pool -> await
// completion": a ratelimit.GoroutineLimiter bounds concurrency to the
// slot count, and each slot runs its own goroutine so the blocking
// send/poll/recv syscalls never share a socket across goroutines. This
// adapts the teacher's WorkerPool (fixed goroutines draining a task
// channel) to a per-slot affinity model, since a ZeroMQ REQ socket may
// only be touched by the goroutine that owns it.
package sockpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/alexveden/quikgo/errs"
	"github.com/alexveden/quikgo/internal/metrics"
	"github.com/alexveden/quikgo/internal/ratelimit"
)

// CurveConfig supplies the optional CURVE mutual-authentication
// material from §4.1's "Authentication (optional)" clause.
type CurveConfig struct {
	ServerPublicKey string
	ClientPublicKey string
	ClientSecretKey string
}

func (c *CurveConfig) enabled() bool {
	return c != nil && c.ServerPublicKey != "" && c.ClientPublicKey != "" && c.ClientSecretKey != ""
}

// Config parameterizes a Pool.
type Config struct {
	Endpoint    string
	Size        int           // number of physical connections (N)
	Timeout     time.Duration // per-call receive timeout (T)
	RetryBudget int           // retries (R) before raising connectivity error
	Curve       *CurveConfig
	Verbosity   int
}

// MethodStats is the per-method statistics row returned by Stats().
type MethodStats struct {
	Count          int64
	TotalRoundtrip time.Duration
	RPCErrors      int64
	SocketErrors   int64
}

type job struct {
	ctx      context.Context
	method   string
	args     map[string]interface{}
	resultCh chan callResult
}

type callResult struct {
	result map[string]interface{}
	err    error
}

type slot struct {
	idx    int
	jobs   chan *job
	sock   *zmq.Socket
	inUse  bool
}

// Pool is a bounded set of REQ connections to one endpoint.
type Pool struct {
	cfg    Config
	zctx   *zmq.Context
	logger zerolog.Logger
	m      *metrics.Registry

	concurrency *ratelimit.GoroutineLimiter
	mu          sync.Mutex // guards slots[i].inUse selection
	slots       []*slot

	statsMu sync.Mutex
	stats   map[string]*MethodStats

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a pool bound to a shared ZeroMQ context. Sockets are
// created lazily on first use, per spec's socket lifecycle.
func New(zctx *zmq.Context, cfg Config, logger zerolog.Logger, m *metrics.Registry) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	p := &Pool{
		cfg:         cfg,
		zctx:        zctx,
		logger:      logger.With().Str("component", "sockpool").Str("endpoint", cfg.Endpoint).Logger(),
		m:           m,
		concurrency: ratelimit.NewGoroutineLimiter(cfg.Size),
		slots:       make([]*slot, cfg.Size),
		stats:       make(map[string]*MethodStats),
		done:        make(chan struct{}),
	}
	for i := range p.slots {
		p.slots[i] = &slot{idx: i, jobs: make(chan *job)}
		p.wg.Add(1)
		go p.runSlot(p.slots[i])
	}
	return p
}

func (p *Pool) runSlot(s *slot) {
	defer p.wg.Done()
	for {
		select {
		case j, ok := <-s.jobs:
			if !ok {
				if s.sock != nil {
					_ = s.sock.SetLinger(0)
					_ = s.sock.Close()
				}
				return
			}
			j.resultCh <- p.execute(j.ctx, s, j.method, j.args)
		case <-p.done:
			if s.sock != nil {
				_ = s.sock.SetLinger(0)
				_ = s.sock.Close()
			}
			return
		}
	}
}

// Call issues one RPC and blocks until a reply, a server-side
// rejection, or retry-budget exhaustion.
func (p *Pool) Call(ctx context.Context, method string, args map[string]interface{}) (map[string]interface{}, error) {
	select {
	case p.concurrency.Chan() <- struct{}{}:
	case <-ctx.Done():
		return nil, errs.Cancelled(method)
	case <-p.done:
		return nil, errs.Cancelled(method)
	}
	defer p.concurrency.Release()

	s := p.acquireSlot()
	defer p.releaseSlot(s)

	resultCh := make(chan callResult, 1)
	select {
	case s.jobs <- &job{ctx: ctx, method: method, args: args, resultCh: resultCh}:
	case <-ctx.Done():
		return nil, errs.Cancelled(method)
	case <-p.done:
		return nil, errs.Cancelled(method)
	}

	select {
	case r := <-resultCh:
		return r.result, r.err
	case <-ctx.Done():
		return nil, errs.Cancelled(method)
	}
}

// acquireSlot returns the lowest-indexed free slot. The caller holds a
// semaphore permit, so a free slot is guaranteed to exist.
func (p *Pool) acquireSlot() *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if !s.inUse {
			s.inUse = true
			return s
		}
	}
	// Unreachable under correct semaphore accounting; fail loudly
	// rather than silently reusing a busy slot.
	panic("sockpool: no free slot despite semaphore permit")
}

func (p *Pool) releaseSlot(s *slot) {
	p.mu.Lock()
	s.inUse = false
	p.mu.Unlock()
}

// execute runs the lazy-pirate send/recv/retry loop for one call on
// slot s. It is only ever invoked from s's own goroutine.
func (p *Pool) execute(ctx context.Context, s *slot, method string, args map[string]interface{}) callResult {
	start := time.Now()
	budget := p.cfg.RetryBudget
	if budget <= 0 {
		budget = 1
	}

	if p.m != nil {
		p.m.RPCCallsTotal.WithLabelValues(method).Inc()
	}

	envelope := map[string]interface{}{"method": method}
	if args != nil {
		envelope["args"] = args
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return callResult{err: errs.Programming(method, err)}
	}

	for attempt := 0; attempt < budget; attempt++ {
		if s.sock == nil {
			sock, err := p.connect()
			if err != nil {
				p.recordSocketError(method)
				continue
			}
			s.sock = sock
		}

		reply, err := p.sendRecv(s.sock, payload)
		if err != nil {
			if p.cfg.Verbosity > 1 {
				p.logger.Debug().Err(err).Str("method", method).Int("attempt", attempt).Msg("rpc transport failure, retrying")
			}
			p.poison(s)
			p.recordSocketError(method)
			continue
		}

		result, rpcErr := decodeReply(method, reply)
		elapsed := time.Since(start)
		if rpcErr != nil {
			p.recordRPCError(method, elapsed)
			if p.m != nil {
				p.m.RPCErrorsTotal.WithLabelValues(method).Inc()
			}
			return callResult{err: rpcErr}
		}

		p.recordSuccess(method, elapsed)
		if p.m != nil {
			p.m.RPCLatencySeconds.WithLabelValues(method).Observe(elapsed.Seconds())
		}
		if p.cfg.Verbosity > 2 {
			p.logger.Debug().Str("method", method).Dur("latency", elapsed).Msg("rpc ok")
		}
		return callResult{result: result}
	}

	if p.m != nil {
		p.m.SocketErrorsTotal.WithLabelValues(method).Inc()
	}
	return callResult{err: errs.Connectivityf(method, "server seems offline after %d retries", budget)}
}

func (p *Pool) connect() (*zmq.Socket, error) {
	sock, err := p.zctx.NewSocket(zmq.REQ)
	if err != nil {
		return nil, fmt.Errorf("sockpool: new socket: %w", err)
	}
	if p.cfg.Curve.enabled() {
		if err := sock.SetCurveServerkey(p.cfg.Curve.ServerPublicKey); err != nil {
			return nil, err
		}
		if err := sock.SetCurvePublickey(p.cfg.Curve.ClientPublicKey); err != nil {
			return nil, err
		}
		if err := sock.SetCurveSecretkey(p.cfg.Curve.ClientSecretKey); err != nil {
			return nil, err
		}
	}
	if err := sock.SetRcvtimeo(p.cfg.Timeout); err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		return nil, err
	}
	if err := sock.Connect(p.cfg.Endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("sockpool: connect %s: %w", p.cfg.Endpoint, err)
	}
	return sock, nil
}

// poison closes and discards the slot's socket, to be recreated on the
// next retry attempt or call.
func (p *Pool) poison(s *slot) {
	if s.sock == nil {
		return
	}
	_ = s.sock.SetLinger(0)
	_ = s.sock.Close()
	s.sock = nil
}

func (p *Pool) sendRecv(sock *zmq.Socket, payload []byte) ([]byte, error) {
	if _, err := sock.SendBytes(payload, 0); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	poller := zmq.NewPoller()
	poller.Add(sock, zmq.POLLIN)
	polled, err := poller.Poll(p.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	if len(polled) == 0 {
		return nil, fmt.Errorf("poll: timed out after %s", p.cfg.Timeout)
	}

	raw, err := sock.RecvBytes(0)
	if err != nil {
		return nil, fmt.Errorf("recv: %w", err)
	}
	return raw, nil
}

// decodeReply decodes raw bytes preferring UTF-8, falling back to the
// legacy CP1251 code page some upstream terminal versions emit, then
// applies the success/failure rule from §4.1.
func decodeReply(method string, raw []byte) (map[string]interface{}, *errs.Error) {
	text := raw
	if !utf8.Valid(raw) {
		decoded, _, err := transform.Bytes(charmap.Windows1251.NewDecoder(), raw)
		if err == nil {
			text = decoded
		}
	}

	var reply map[string]interface{}
	if err := json.Unmarshal(text, &reply); err != nil {
		return nil, errs.Generic(method, fmt.Errorf("decode reply: %w", err))
	}

	result, _ := reply["result"].(map[string]interface{})
	if result != nil {
		if isErr, _ := result["is_error"].(bool); !isErr {
			return result, nil
		}
	}
	return nil, errs.RPC(method, reply)
}

func (p *Pool) recordSuccess(method string, d time.Duration) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	st := p.statFor(method)
	st.Count++
	st.TotalRoundtrip += d
}

func (p *Pool) recordRPCError(method string, d time.Duration) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	st := p.statFor(method)
	st.Count++
	st.TotalRoundtrip += d
	st.RPCErrors++
}

func (p *Pool) recordSocketError(method string) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.statFor(method).SocketErrors++
}

func (p *Pool) statFor(method string) *MethodStats {
	st, ok := p.stats[method]
	if !ok {
		st = &MethodStats{}
		p.stats[method] = st
	}
	return st
}

// Stats returns a snapshot of per-method statistics.
func (p *Pool) Stats() map[string]MethodStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	out := make(map[string]MethodStats, len(p.stats))
	for k, v := range p.stats {
		out[k] = *v
	}
	return out
}

// ResetStats zeros every counter atomically from the caller's
// viewpoint.
func (p *Pool) ResetStats() {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats = make(map[string]*MethodStats)
}

// Close tears down every slot's socket and stops its goroutine. Safe
// to call once; later calls are no-ops.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}
