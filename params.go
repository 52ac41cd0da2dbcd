package quikgo

import (
	"context"
	"fmt"
	"time"

	"github.com/alexveden/quikgo/errs"
	"github.com/alexveden/quikgo/internal/paramcache"
	"github.com/alexveden/quikgo/internal/watcher"
)

// ParamsSubscribe installs a server-side subscription and a local
// parameter cache for (classCode, secCode), per §4.5. updateIntervals
// must either be a single positive duration (applied to every
// parameter) or a slice matching paramNames in length.
func (c *Client) ParamsSubscribe(ctx context.Context, classCode, secCode string, updateIntervals []time.Duration, paramNames []string) (map[string]paramcache.Value, error) {
	if err := c.checkLive("ParamsSubscribe"); err != nil {
		return nil, err
	}
	if len(updateIntervals) != 1 && len(updateIntervals) != len(paramNames) {
		return nil, errs.Programmingf("ParamsSubscribe", "update_interval count (%d) must be 1 or match params_list length (%d)", len(updateIntervals), len(paramNames))
	}
	for _, d := range updateIntervals {
		if d <= 0 {
			return nil, errs.Programmingf("ParamsSubscribe", "update_interval_sec must be positive, got %s", d)
		}
	}

	key := InstrumentKey{ClassCode: classCode, SecCode: secCode}
	lowered := normalizeParamNames(paramNames)

	for _, p := range lowered {
		if _, err := c.dataPool.Call(ctx, "ParamRequest", map[string]interface{}{
			"class_code": classCode, "sec_code": secCode, "db_name": p,
		}); err != nil {
			return nil, err
		}
	}

	cache := paramcache.New(classCode, secCode, lowered)
	items := make([]watcher.Item, 0, len(lowered))
	for i, p := range lowered {
		reply, err := c.dataPool.Call(ctx, "getParamEx2", map[string]interface{}{
			"class_code": classCode, "sec_code": secCode, "param_name": p,
		})
		if err != nil {
			return nil, err
		}
		if perr := cache.Process(p, paramExFromReply(reply)); perr != nil {
			return nil, perr
		}

		interval := updateIntervals[0]
		if len(updateIntervals) > 1 {
			interval = updateIntervals[i]
		}
		items = append(items, watcher.Item{Key: watcher.Key{ClassCode: classCode, SecCode: secCode, Param: p}, Interval: interval})
	}

	c.paramWatcher.Lock()
	defer c.paramWatcher.Unlock()

	c.paramMu.Lock()
	if _, exists := c.paramCaches[key]; exists {
		c.paramMu.Unlock()
		return nil, errs.Programmingf("ParamsSubscribe", "%s.%s already subscribed", classCode, secCode)
	}
	c.paramCaches[key] = cache
	c.paramMu.Unlock()

	c.paramWatcher.SubscribeLocked(items)

	return cache.Snapshot(), nil
}

// ParamsUnsubscribe removes the server-side subscription and local
// cache for (classCode, secCode). No-op if not currently subscribed.
func (c *Client) ParamsUnsubscribe(ctx context.Context, classCode, secCode string) error {
	key := InstrumentKey{ClassCode: classCode, SecCode: secCode}

	c.paramMu.RLock()
	cache, ok := c.paramCaches[key]
	c.paramMu.RUnlock()
	if !ok {
		return nil
	}

	c.paramWatcher.Lock()
	defer c.paramWatcher.Unlock()
	c.paramWatcher.UnsubscribeLocked(classCode, secCode)

	for _, p := range cache.ParamNames() {
		if _, err := c.dataPool.Call(ctx, "CancelParamRequest", map[string]interface{}{
			"class_code": classCode, "sec_code": secCode, "db_name": p,
		}); err != nil {
			c.logger.Warn().Err(err).Str("class", classCode).Str("sec", secCode).Str("param", p).Msg("CancelParamRequest failed during unsubscribe")
		}
	}

	c.paramMu.Lock()
	delete(c.paramCaches, key)
	c.paramMu.Unlock()
	return nil
}

// ParamsGet is a non-blocking read of the cached parameters for
// (classCode, secCode), per §4.5. It additionally enforces the
// quote-staleness budget: if the poll task appears stalled, it raises
// a connectivity error rather than returning stale data silently.
func (c *Client) ParamsGet(classCode, secCode string) (map[string]paramcache.Value, error) {
	if err := c.checkLive("ParamsGet"); err != nil {
		return nil, err
	}

	key := InstrumentKey{ClassCode: classCode, SecCode: secCode}
	c.paramMu.RLock()
	cache, ok := c.paramCaches[key]
	c.paramMu.RUnlock()
	if !ok {
		return nil, errs.Genericf("ParamsGet", "%s.%s not subscribed, call ParamsSubscribe first", classCode, secCode)
	}

	if t, known := c.lastQuoteProcessedUTC.Load(); known {
		if time.Since(t) > time.Duration(c.cfg.ParamsDelayTimeoutS*float64(time.Second)) {
			return nil, errs.Connectivityf("ParamsGet", "suspected quote processing delay: last update %s ago", time.Since(t))
		}
	}

	return cache.Snapshot(), nil
}

func paramExFromReply(reply map[string]interface{}) paramcache.Reply {
	paramEx, _ := reply["param_ex"].(map[string]interface{})
	return paramcache.Reply{
		ParamType:  fmt.Sprint(paramEx["param_type"]),
		Result:     fmt.Sprint(paramEx["result"]),
		ParamImage: fmt.Sprint(paramEx["param_image"]),
		ParamValue: fmt.Sprint(paramEx["param_value"]),
	}
}
