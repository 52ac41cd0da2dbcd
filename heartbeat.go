package quikgo

import (
	"context"
	"fmt"
	"time"

	"github.com/alexveden/quikgo/errs"
)

// Heartbeat probes terminal liveness via getInfoParam('LASTRECORDTIME')
// and surfaces any background-task failure observed since the last
// successful poll, per §4.5/§7 ("a health probe is sufficient to
// detect stuck subsystems").
func (c *Client) Heartbeat(ctx context.Context) (time.Time, error) {
	if err := c.checkLive("Heartbeat"); err != nil {
		return time.Time{}, err
	}

	if err := c.bgErr(pollTaskName); err != nil {
		return time.Time{}, err
	}

	reply, err := c.rpcPool.Call(ctx, "getInfoParam", map[string]interface{}{"param_name": "LASTRECORDTIME"})
	if err != nil {
		return time.Time{}, err
	}

	raw := fmt.Sprint(reply["info_param"])
	tod, err := time.Parse("15:04:05", raw)
	if err != nil {
		return time.Time{}, errs.Generic("Heartbeat", fmt.Errorf("parse LASTRECORDTIME %q: %w", raw, err))
	}

	loc := time.Local
	now := time.Now().In(loc)
	combined := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, loc)
	utc := combined.UTC()
	c.lastDataProcessedUTC.Store(utc)
	return utc, nil
}
