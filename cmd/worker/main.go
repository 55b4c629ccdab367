// Command worker runs the automation loop headless, without the HTTP API.
// With -apply it submits one job and exits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/app"
	"github.com/yoanipalmas/App-ApplyBot/internal/config"
)

func main() {
	jobID := flag.String("apply", "", "submit a single job by id and exit")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	cfg := config.Load()
	// The worker exists to run automation.
	cfg.AutomationAutostart = *jobID == ""

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings {
		logger.Warn("worker: config: " + w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{Version: "worker"})
	if err != nil {
		logger.Error("worker: startup failed", zap.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	if *jobID != "" {
		os.Exit(applyOne(ctx, a, *jobID))
	}

	a.Start(ctx)
	logger.Info("worker: started",
		zap.String("schedule", cfg.AutomationSchedule),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("weekly_quota", cfg.WeeklyQuota))

	<-ctx.Done()
	logger.Info("worker: shutting down")

	// Phase 1: stop automation; the in-flight submission completes.
	logger.Info("worker: stopping automation...")
	a.Stop()
	logger.Info("worker: automation stopped")

	// Phase 2: deliver buffered events.
	logger.Info("worker: draining events...")
	a.DrainEvents()
	logger.Info("worker: stopped")
}

func applyOne(ctx context.Context, a *app.App, jobID string) int {
	a.StartEvents()
	result, err := a.Engine.ApplyNow(ctx, a.Profiles.Get(), jobID)
	a.DrainEvents()
	if err != nil {
		a.Logger.Error("worker: apply failed", zap.String("job_id", jobID), zap.Error(err))
		return 1
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return 1
	}
	fmt.Println(string(data))
	return 0
}
