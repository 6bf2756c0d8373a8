package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danthegoodman1/tsmover/config"
	"github.com/danthegoodman1/tsmover/gologger"
	"github.com/danthegoodman1/tsmover/runctx"
)

var logger = gologger.NewLogger()

func main() {
	configPath := flag.String("config", "tsmover.yaml", "path to the YAML run configuration")
	mode := flag.String("mode", "", "overrides the configured mode: dump, restore or insert")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Str("config", *configPath).Msg("error loading config")
		os.Exit(runctx.ExitAborted)
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err = cfg.Validate(); err != nil {
			logger.Error().Err(err).Msg("invalid mode")
			os.Exit(runctx.ExitAborted)
		}
	}
	if cfg.LogLevel != "" {
		if err = gologger.SetLevel(cfg.LogLevel); err != nil {
			logger.Error().Err(err).Msg("error setting log level")
			os.Exit(runctx.ExitAborted)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	report, err := Run(ctx, cfg)
	if ctx.Err() != nil {
		logger.Warn().Msg("received shutdown signal, workers stopped early")
	}
	code := runctx.ExitCode(report, err)
	if err != nil {
		logger.Error().Err(err).Msg("run aborted")
	}
	if report != nil {
		logger.Info().Str("runID", report.RunID).Str("mode", report.Mode).Int64("success", report.Result.Success).
			Int64("failure", report.Result.Failure).Dur("took", report.Duration).Int("exitCode", code).Msg("done")
	}
	stop()
	os.Exit(code)
}
