package main

import (
	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/config"
)

// logConfigWarnings reports settings that are valid but risky.
func logConfigWarnings(cfg config.Config, logger *zap.Logger) {
	for _, w := range cfg.Warnings {
		logger.Warn("config: " + w)
	}

	durable := cfg.LedgerDriver != "memory"

	if !durable && cfg.AutomationAutostart {
		logger.Warn("WARNING [P0]: LEDGER_DRIVER=memory with AUTOMATION_AUTOSTART=true; "+
			"quota and applied history reset on restart and jobs may be resubmitted",
			zap.String("priority", "P0"))
	}

	if durable && !cfg.ReconcileEnabled {
		logger.Warn("WARNING [P0]: RECONCILE_ENABLED=false; "+
			"records left in submitting by a crash are never retried",
			zap.String("priority", "P0"))
	}

	if cfg.GatewayMode == "http" && cfg.GatewaySecret == "" {
		logger.Warn("WARNING [P1]: GATEWAY_SECRET not set; submissions are sent unsigned",
			zap.String("priority", "P1"))
	}

	if cfg.ResumeRef == "" {
		logger.Warn("WARNING [P1]: RESUME_REF not set; dispatch is refused until a profile with a resume is stored",
			zap.String("priority", "P1"))
	}

	if cfg.LeaderElection && cfg.LedgerDriver != "postgres" {
		logger.Warn("WARNING [P1]: LEADER_ELECTION=true without LEDGER_DRIVER=postgres; "+
			"replicas do not share quota or history",
			zap.String("priority", "P1"))
	}

	if !cfg.MetricsEnabled {
		logger.Warn("WARNING [P1]: METRICS_ENABLED=false; quota and batch outcomes are not observable",
			zap.String("priority", "P1"))
	}

	if cfg.GatewayMode == "dryrun" {
		logger.Info("INFO: GATEWAY_MODE=dryrun; submissions are logged and reported as applied")
	}
}
