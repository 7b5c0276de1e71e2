package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "creditgate"

var (
	// GateDecisions counts pre-auth gate verdicts per endpoint.
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_decisions_total",
		Help:      "Pre-auth gate verdicts (allowed, rate_limited, tool_detected).",
	}, []string{"endpoint", "outcome"})

	// GateErrors counts advisory-layer failures that were allowed through.
	GateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_errors_total",
		Help:      "Gate infrastructure errors resolved as fail-open allows.",
	}, []string{"endpoint", "stage"})

	// Redemptions counts redemption results by kind.
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redemptions_total",
		Help:      "Redemption attempts by result.",
	}, []string{"result"})

	// Lockouts counts account-keyed lockout rejections.
	Lockouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lockout_rejections_total",
		Help:      "Requests rejected by the account lockout machine.",
	})

	// JanitorPruned counts rows removed by the cleanup job.
	JanitorPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "janitor_pruned_rows_total",
		Help:      "Rows removed by the periodic cleanup job.",
	}, []string{"table"})
)
