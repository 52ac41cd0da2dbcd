package quikgo

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alexveden/quikgo/errs"
)

const pollTaskName = "poll_task"

// runPollTask is the background loop from §4.6: each tick it computes
// the watcher's due set, fetches each due parameter, feeds the reply
// to its cache, and advances the quote-processed watermark.
func (c *Client) runPollTask(ctx context.Context) {
	interval := time.Duration(c.cfg.ParamsPollIntervalS * float64(time.Second))
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	connBackoff := backoff.NewConstantBackOff(10 * time.Second)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if c.isShuttingDown() {
			return
		}
		if hadError := c.pollOnce(ctx); hadError {
			select {
			case <-time.After(connBackoff.NextBackOff()):
			case <-ctx.Done():
				return
			}
			continue
		}
		connBackoff.Reset()
	}
}

// pollOnce runs a single tick. It returns true if a connectivity error
// was observed and the caller should back off 10s before the next
// tick, per §4.6's failure handling.
func (c *Client) pollOnce(ctx context.Context) (backoff bool) {
	defer func() {
		if r := recover(); r != nil {
			c.setBGErr(pollTaskName, errs.Genericf(pollTaskName, "panic: %v", r))
		}
	}()

	candidates := c.paramWatcher.DueCandidates()
	if c.m != nil {
		c.m.WatcherDueSize.Set(float64(len(candidates)))
		c.m.WatcherRowCount.Set(float64(c.paramWatcher.Count()))
	}
	if len(candidates) == 0 {
		return false
	}

	for _, key := range candidates {
		instrKey := InstrumentKey{ClassCode: key.ClassCode, SecCode: key.SecCode}
		c.paramMu.RLock()
		cache, ok := c.paramCaches[instrKey]
		c.paramMu.RUnlock()
		if !ok {
			// Concurrently unsubscribed between due-set selection and
			// processing; skip silently, per §4.6.
			continue
		}

		if c.pollLimiter != nil {
			if err := c.pollLimiter.Wait(ctx); err != nil {
				return backoff
			}
		}

		reply, err := c.dataPool.Call(ctx, "getParamEx2", map[string]interface{}{
			"class_code": key.ClassCode, "sec_code": key.SecCode, "param_name": key.Param,
		})
		if err != nil {
			if errs.IsKind(err, errs.KindConnectivity) {
				c.logger.Error().Err(err).Str("class", key.ClassCode).Str("sec", key.SecCode).Msg("poll task connectivity failure")
				c.setBGErr(pollTaskName, err)
				backoff = true
				continue
			}
			c.logger.Warn().Err(err).Str("class", key.ClassCode).Str("sec", key.SecCode).Str("param", key.Param).Msg("poll task rpc failure")
			continue
		}
		if perr := cache.Process(key.Param, paramExFromReply(reply)); perr != nil {
			c.logger.Warn().Err(perr).Str("class", key.ClassCode).Str("sec", key.SecCode).Str("param", key.Param).Msg("poll task decode failure")
			continue
		}

		if last := cache.LastChangeUTC(); !last.IsZero() {
			if prev, known := c.lastQuoteProcessedUTC.Load(); !known || last.After(prev) {
				c.lastQuoteProcessedUTC.Store(last)
			}
		}
	}

	c.paramWatcher.MarkUpdated(candidates)
	if !backoff {
		c.setBGErr(pollTaskName, nil)
	}
	return backoff
}

func (c *Client) setBGErr(task string, err error) {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	c.bgErrs[task] = err
}

func (c *Client) bgErr(task string) error {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	return c.bgErrs[task]
}
