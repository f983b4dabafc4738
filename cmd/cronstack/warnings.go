package main

import (
	"log"

	"github.com/buithaibinh/cron-solution-stack/internal/config"
)

// logConfigWarnings flags configurations that are valid but lose work or
// visibility in production. P0 means dispatches can be silently lost, P1
// means degraded observability.
func logConfigWarnings(cfg *config.Config) {
	if cfg.QueueMode == "channel" {
		log.Println("cronstack: WARNING [P0]: QUEUE_MODE=channel keeps pending occurrences in memory; a restart drops every undelivered message. Use QUEUE_MODE=redis in production.")
	}

	if !cfg.ReconcileEnabled {
		log.Println("cronstack: WARNING [P0]: RECONCILE_ENABLED=false; a schedule whose dispatch is lost keeps a stale next_run forever and never fires again.")
	}

	if !cfg.MetricsEnabled {
		log.Println("cronstack: WARNING [P1]: METRICS_ENABLED=false; tick failures and dispatch latency will not be observable.")
	}

	if !cfg.LeaderElectionEnabled {
		log.Println("cronstack: INFO: LEADER_ELECTION_ENABLED=false; running more than one instance against the same database will dispatch every occurrence once per instance.")
	}

	if cfg.LeaderElectionEnabled && cfg.QueueMode == "channel" {
		log.Println("cronstack: INFO: QUEUE_MODE=channel with leader election means follower instances consume nothing; their consumers idle on an empty local queue.")
	}
}
