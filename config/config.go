// Package config loads client configuration from environment variables
// (optionally seeded from a .env file), the same pattern the teacher
// service uses for its own startup configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every tunable named in the wire/interface spec (§6).
type Config struct {
	RPCHost   string `env:"QUIK_RPC_HOST,required"`
	DataHost  string `env:"QUIK_DATA_HOST"`
	EventHost string `env:"QUIK_EVENT_HOST"`
	EventList []string `env:"QUIK_EVENT_LIST" envSeparator:","`

	SocketTimeoutMs          int     `env:"QUIK_SOCKET_TIMEOUT_MS" envDefault:"100"`
	NSimultaneousSockets     int     `env:"QUIK_N_SOCKETS" envDefault:"5"`
	HistoryBackfillIntervalS float64 `env:"QUIK_HISTORY_BACKFILL_INTERVAL_SEC" envDefault:"10"`
	CacheMinUpdateS          float64 `env:"QUIK_CACHE_MIN_UPDATE_SEC" envDefault:"0.2"`
	ParamsPollIntervalS      float64 `env:"QUIK_PARAMS_POLL_INTERVAL_SEC" envDefault:"0.1"`
	ParamsDelayTimeoutS      float64 `env:"QUIK_PARAMS_DELAY_TIMEOUT_SEC" envDefault:"60"`

	Verbosity int `env:"QUIK_VERBOSITY" envDefault:"0"`

	RetryBudget int `env:"QUIK_RETRY_BUDGET" envDefault:"3"`

	// PollRateLimitPerSec bounds how many getParamEx2 calls the poll
	// task may issue per second, so a large due-set burst cannot flood
	// the socket pool past what the terminal can answer. Zero disables
	// the limit.
	PollRateLimitPerSec float64 `env:"QUIK_POLL_RATE_LIMIT_PER_SEC" envDefault:"0"`
	// EventDispatchRateLimitPerSec bounds how fast the event dispatcher
	// drains its queue, pacing the user handler against bursts.  Zero
	// disables the limit.
	EventDispatchRateLimitPerSec float64 `env:"QUIK_EVENT_DISPATCH_RATE_LIMIT_PER_SEC" envDefault:"0"`

	CurveServerPublicKey string `env:"QUIK_CURVE_SERVER_PUBKEY"`
	CurveClientPublicKey string `env:"QUIK_CURVE_CLIENT_PUBKEY"`
	CurveClientSecretKey string `env:"QUIK_CURVE_CLIENT_SECKEY"`

	LogLevel  string `env:"QUIK_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"QUIK_LOG_FORMAT" envDefault:"json"`
}

// Load reads a .env file if present (missing file is not an error, the
// same tolerance godotenv.Load gives the teacher's main.go) then parses
// the process environment into Config.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath == "" {
		dotenvPath = ".env"
	}
	if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: loading %s: %w", dotenvPath, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies the host-validation security guard from §4.5: the
// RPC endpoint must be local. Remote RPC is refused unconditionally.
func (c *Config) Validate() error {
	if !strings.Contains(c.RPCHost, "127.0.0.1") && !strings.Contains(c.RPCHost, "localhost") {
		return fmt.Errorf("config: rpc_host %q must reference 127.0.0.1 or localhost", c.RPCHost)
	}
	if c.NSimultaneousSockets <= 0 {
		return fmt.Errorf("config: n_simultaneous_sockets must be positive, got %d", c.NSimultaneousSockets)
	}
	return nil
}

// EventFilterSet lowercases EventList into a lookup set, or nil if no
// allow-list was configured (meaning: accept every event).
func (c *Config) EventFilterSet() map[string]struct{} {
	if len(c.EventList) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(c.EventList))
	for _, name := range c.EventList {
		set[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	return set
}

// Logger builds the structured logger used across every subsystem,
// mirroring the teacher's NewLogger(LoggerConfig) shape.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if c.LogFormat == "pretty" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return logger
}
