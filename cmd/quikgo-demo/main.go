// Command quikgo-demo wires a Client against a local QUIK terminal,
// subscribes to a couple of parameters and prints every event the
// terminal emits until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/alexveden/quikgo"
	"github.com/alexveden/quikgo/config"
	"github.com/alexveden/quikgo/internal/events"
)

func main() {
	dotenv := flag.String("env", "", "path to .env file (defaults to ./.env)")
	classCode := flag.String("class", "TQBR", "class code to watch")
	secCode := flag.String("sec", "SBER", "security code to watch")
	flag.Parse()

	cfg, err := config.Load(*dotenv)
	if err != nil {
		panic(err)
	}
	logger := cfg.Logger()

	client, err := quikgo.New(cfg, logger, quikgo.WithEventHandler(func(rec events.Record) error {
		logger.Info().Str("event", rec.Name).RawJSON("payload", rec.Payload).Msg("event received")
		return nil
	}))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Initialize(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize client")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	paramNames := []string{"LAST", "BID", "OFFER"}
	snapshot, err := client.ParamsSubscribe(ctx, *classCode, *secCode, []time.Duration{200 * time.Millisecond}, paramNames)
	if err != nil {
		logger.Fatal().Err(err).Msg("params_subscribe failed")
	}
	logger.Info().Str("class", *classCode).Str("sec", *secCode).Interface("snapshot", snapshot).Msg("subscribed, waiting for ticks")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return
		case <-ticker.C:
			vals, err := client.ParamsGet(*classCode, *secCode)
			if err != nil {
				logger.Warn().Err(err).Msg("params_get failed")
				continue
			}
			logger.Info().Interface("values", vals).Msg("poll snapshot")
		}
	}
}
