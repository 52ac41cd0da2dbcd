package quikgo

import (
	"context"

	"github.com/alexveden/quikgo/internal/historycache"
	"github.com/alexveden/quikgo/internal/workerpool"
)

// Shutdown implements §4.8: sets the shutting-down flag observed by
// every background task and long-running façade loop, closes every
// open server-side datasource cursor, unsubscribes every active
// parameter subscription, closes both socket pools, and destroys the
// transport context. Safe to call more than once; later calls are
// no-ops.
//
// Per §9's shutdown note, cleanup RPCs below bypass checkLive's
// shutting-down guard: datasource cursors are closed by calling the RPC
// pool directly instead of going through RPCCall, and parameter
// subscriptions are removed through ParamsUnsubscribe, which does not
// call checkLive.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(stateInitialized), int32(stateShuttingDown)) {
		// Either never initialized, or a prior Shutdown call already
		// ran; either way this call is a no-op.
		return nil
	}

	if c.bgCancel != nil {
		c.bgCancel()
	}

	c.historyMu.Lock()
	entries := make([]string, 0, len(c.historyEntries))
	for _, e := range c.historyEntries {
		if id := e.CursorID(); id != nil {
			entries = append(entries, *id)
		}
	}
	c.historyEntries = make(map[historycache.Key]*historycache.Entry)
	c.historyMu.Unlock()

	if len(entries) > 0 {
		closer := workerpool.New(ctx, c.cfg.NSimultaneousSockets)
		for _, id := range entries {
			id := id
			closer.Submit(ctx, func(ctx context.Context) error {
				_, err := c.rpcPool.Call(ctx, "datasource.Close", map[string]interface{}{"datasource_uuid": id})
				if err != nil {
					c.logger.Warn().Err(err).Str("datasource_uuid", id).Msg("datasource.Close failed during shutdown")
				}
				return err
			})
		}
		closer.Close()
	}

	c.paramMu.RLock()
	keys := make([]InstrumentKey, 0, len(c.paramCaches))
	for k := range c.paramCaches {
		keys = append(keys, k)
	}
	c.paramMu.RUnlock()
	for _, k := range keys {
		if err := c.ParamsUnsubscribe(ctx, k.ClassCode, k.SecCode); err != nil {
			c.logger.Warn().Err(err).Str("class", k.ClassCode).Str("sec", k.SecCode).Msg("params_unsubscribe failed during shutdown")
		}
	}

	if c.bgGroup != nil {
		_ = c.bgGroup.Wait()
	}

	if c.dataPool != nil && c.dataPool != c.rpcPool {
		c.dataPool.Close()
	}
	if c.rpcPool != nil {
		c.rpcPool.Close()
	}
	if c.zctx != nil {
		_ = c.zctx.Term()
	}
	return nil
}
