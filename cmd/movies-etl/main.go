// Command movies-etl runs one pass of the TMDb movie pipeline over the
// configured release-date range.
//
// Usage:
//
//	movies-etl [bulk|append|export-json|ingest-json|json]
//
// The mode argument overrides MODE. Exit status is 0 on success, 1 when the
// run fails, and 2 on a configuration error.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/internal/config"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/internal/pipeline"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/logging"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/metrics"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// pushTimeout bounds the end-of-run metrics push.
const pushTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	logger := logging.Setup(logging.Config{Level: logging.LevelInfo, Output: stderr})

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("Configuration error")
		return exitConfig
	}
	if len(args) > 0 {
		cfg.Mode = args[0]
		if err := cfg.Validate(); err != nil {
			logger.Error().Err(err).Str("mode", args[0]).Msg("Configuration error")
			return exitConfig
		}
	}

	logger = logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Format == "console",
		Output: stderr,
	})

	runner, err := pipeline.Open(ctx, cfg, logging.NewLogger("pipeline"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialise pipeline")
		return exitFailed
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release resources")
		}
	}()

	_, runErr := runner.Run(ctx, cfg.Mode)

	if cfg.Metrics.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		if err := metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, runner.RunID()); err != nil {
			logger.Warn().Err(err).Msg("Failed to push metrics")
		}
		cancel()
	}

	if runErr != nil {
		return exitFailed
	}
	return exitOK
}
