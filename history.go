package quikgo

import (
	"context"
	"fmt"
	"time"

	"github.com/alexveden/quikgo/errs"
	"github.com/alexveden/quikgo/internal/historycache"
)

// GetPriceHistory implements the refresh protocol from §4.4, driven
// against the data pool. When useCaching is false, a scratch entry is
// used so the merge/sort machinery still runs but nothing is retained
// between calls (mirrors the original's throwaway HistoryCache for
// use_caching=False).
func (c *Client) GetPriceHistory(ctx context.Context, classCode, secCode string, interval Interval, useCaching bool, copySeries bool, dateFrom time.Time) ([]historycache.Candle, error) {
	if err := c.checkLive("GetPriceHistory"); err != nil {
		return nil, err
	}

	key := historycache.Key{ClassCode: classCode, SecCode: secCode, Interval: string(interval)}
	minRefresh := time.Duration(c.cfg.CacheMinUpdateS * float64(time.Second))

	var entry *historycache.Entry
	if useCaching {
		entry = c.historyEntry(key, minRefresh)
	} else {
		entry = historycache.New(key, minRefresh)
	}

	entry.LockRefresh()
	defer entry.UnlockRefresh()

	if !entry.CanUpdate() {
		if c.cfg.Verbosity > 1 {
			c.logger.Debug().Str("class", classCode).Str("sec", secCode).Str("interval", string(interval)).Msg("history cache hit")
		}
		return entry.Series(copySeries), nil
	}

	cursorID := entry.CursorID()
	if cursorID == nil {
		reply, err := c.dataPool.Call(ctx, "datasource.CreateDataSource", map[string]interface{}{
			"class_code": classCode, "sec_code": secCode, "interval": string(interval), "param": "",
		})
		if err != nil {
			return nil, err
		}
		id := fmt.Sprint(reply["datasource_uuid"])
		entry.SetCursorID(id)
		cursorID = &id
	}

	size, err := c.backfillWait(ctx, *cursorID, classCode, secCode, interval)
	if err != nil {
		return nil, err
	}

	lastBarDate := entry.LastBarDate()
	if lastBarDate.IsZero() {
		lastBarDate = dateFrom
	}

	collected, err := c.walkCandles(ctx, *cursorID, size, lastBarDate)
	if err != nil {
		return nil, err
	}

	if !useCaching {
		if _, err := c.dataPool.Call(ctx, "datasource.Close", map[string]interface{}{"datasource_uuid": *cursorID}); err != nil {
			c.logger.Warn().Err(err).Msg("datasource.Close failed for non-cached history fetch")
		}
	}

	merged := entry.Process(collected)
	if !copySeries {
		return merged, nil
	}
	out := make([]historycache.Candle, len(merged))
	copy(out, merged)
	return out, nil
}

func (c *Client) historyEntry(key historycache.Key, minRefresh time.Duration) *historycache.Entry {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	e, ok := c.historyEntries[key]
	if !ok {
		e = historycache.New(key, minRefresh)
		c.historyEntries[key] = e
	}
	return e
}

// backfillWait polls datasource.Size until it returns positive or the
// backfill budget expires, per §4.4 step 3.
func (c *Client) backfillWait(ctx context.Context, cursorID, classCode, secCode string, interval Interval) (int, error) {
	budget := time.Duration(c.cfg.HistoryBackfillIntervalS * float64(time.Second))
	deadline := time.Now().Add(budget)

	for {
		if c.isShuttingDown() {
			return 0, errs.Cancelled("GetPriceHistory")
		}
		reply, err := c.dataPool.Call(ctx, "datasource.Size", map[string]interface{}{"datasource_uuid": cursorID})
		if err != nil {
			return 0, err
		}
		size := asInt(reply["value"])
		if size > 0 {
			return size, nil
		}
		if time.Now().After(deadline) {
			return 0, errs.NoHistory("GetPriceHistory", fmt.Errorf("backfill timeout after %s for %s.%s/%s", budget, classCode, secCode, interval))
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return 0, errs.Cancelled("GetPriceHistory")
		}
	}
}

// walkCandles walks candle indices from size down to 1, fetching the
// timestamp first and short-circuiting once a bar precedes
// lastBarDate, per §4.4 step 4 and §9's preferred (timestamp-first)
// revision of the original's always-six-RPCs walk.
func (c *Client) walkCandles(ctx context.Context, cursorID string, size int, lastBarDate time.Time) ([]historycache.Candle, error) {
	collected := make([]historycache.Candle, 0, size)

	for i := size; i >= 1; i-- {
		if c.isShuttingDown() {
			return nil, errs.Cancelled("GetPriceHistory")
		}

		tReply, err := c.dataPool.Call(ctx, "datasource.T", map[string]interface{}{"datasource_uuid": cursorID, "candle_index": i})
		if err != nil {
			return nil, err
		}
		ts, err := candleTimestamp(tReply)
		if err != nil {
			return nil, err
		}
		if ts.Before(lastBarDate) {
			break
		}

		candle := historycache.Candle{Timestamp: ts}
		ohlcv := []struct {
			field string
			dst   *float64
		}{
			{"datasource.O", &candle.Open},
			{"datasource.H", &candle.High},
			{"datasource.L", &candle.Low},
			{"datasource.C", &candle.Close},
			{"datasource.V", &candle.Volume},
		}
		for _, f := range ohlcv {
			reply, err := c.dataPool.Call(ctx, f.field, map[string]interface{}{"datasource_uuid": cursorID, "candle_index": i})
			if err != nil {
				return nil, err
			}
			*f.dst = asFloat(reply["value"])
		}
		collected = append(collected, candle)
	}

	// collected was built in descending index order (newest first);
	// Process requires ascending.
	for l, r := 0, len(collected)-1; l < r; l, r = l+1, r-1 {
		collected[l], collected[r] = collected[r], collected[l]
	}
	return collected, nil
}

func candleTimestamp(reply map[string]interface{}) (time.Time, error) {
	t, _ := reply["time"].(map[string]interface{})
	if t == nil {
		return time.Time{}, errs.Generic("GetPriceHistory", fmt.Errorf("datasource.T reply missing time object"))
	}
	return time.Date(
		asInt(t["year"]), time.Month(asInt(t["month"])), asInt(t["day"]),
		asInt(t["hour"]), asInt(t["min"]), asInt(t["sec"]), asInt(t["ms"])*int(time.Millisecond),
		time.Local,
	), nil
}

// ClearPriceHistoryCache closes the server-side cursor, if any, and
// drops the cache entry for (classCode, secCode, interval).
func (c *Client) ClearPriceHistoryCache(ctx context.Context, classCode, secCode string, interval Interval) error {
	key := historycache.Key{ClassCode: classCode, SecCode: secCode, Interval: string(interval)}

	c.historyMu.Lock()
	entry, ok := c.historyEntries[key]
	if ok {
		delete(c.historyEntries, key)
	}
	c.historyMu.Unlock()
	if !ok {
		return nil
	}

	if id := entry.CursorID(); id != nil {
		if _, err := c.rpcPool.Call(ctx, "datasource.Close", map[string]interface{}{"datasource_uuid": *id}); err != nil {
			return err
		}
	}
	return nil
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
