package quikgo

// Interval names the candle granularity vocabulary from spec §6.
// These are passed through verbatim to datasource.CreateDataSource;
// the core does not interpret them.
type Interval string

const (
	IntervalTick Interval = "INTERVAL_TICK"
	IntervalM1   Interval = "INTERVAL_M1"
	IntervalM2   Interval = "INTERVAL_M2"
	IntervalM3   Interval = "INTERVAL_M3"
	IntervalM4   Interval = "INTERVAL_M4"
	IntervalM5   Interval = "INTERVAL_M5"
	IntervalM6   Interval = "INTERVAL_M6"
	IntervalM10  Interval = "INTERVAL_M10"
	IntervalM15  Interval = "INTERVAL_M15"
	IntervalM30  Interval = "INTERVAL_M30"
	IntervalH1   Interval = "INTERVAL_H1"
	IntervalH2   Interval = "INTERVAL_H2"
	IntervalH4   Interval = "INTERVAL_H4"
	IntervalD1   Interval = "INTERVAL_D1"
	IntervalW1   Interval = "INTERVAL_W1"
	IntervalMN1  Interval = "INTERVAL_MN1"
)
