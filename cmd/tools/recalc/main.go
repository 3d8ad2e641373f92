package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/noah-isme/capquote/internal/app"
	"github.com/noah-isme/capquote/internal/batch"
	"github.com/noah-isme/capquote/internal/config"
	"github.com/noah-isme/capquote/internal/obs"
)

// recalc refreshes order snapshots, either for the ids given or for every
// order. Exit code 0 = ok, 1 = some orders failed, 2 = other error.
func main() {
	force := flag.Bool("force", false, "recompute even when a snapshot is fresh")
	ids := flag.String("ids", "", "comma-separated order ids; empty sweeps every order")
	concurrency := flag.Int("concurrency", 0, "parallel calculations (default from BATCH_CONCURRENCY)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "recalc").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := app.Build(startCtx, cfg, logger, "capquote-recalc")
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("initialise dependencies")
		os.Exit(2)
	}
	defer deps.Close()

	runner := deps.Batch
	if *force {
		runner = runner.Forced()
	}

	var report batch.Report
	if list := splitIDs(*ids); len(list) > 0 {
		report = runner.Run(ctx, list, *concurrency)
	} else {
		report, err = runner.Sweep(ctx, deps.Orders)
		if err != nil {
			logger.Error().Err(err).Msg("sweep aborted")
			writeReport(report)
			deps.Close()
			os.Exit(2)
		}
	}
	writeReport(report)
	if report.Failed > 0 {
		deps.Close()
		os.Exit(1)
	}
}

func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func writeReport(report batch.Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}
