package consensus

import "github.com/prometheus/client_golang/prometheus"

// Metrics for monitoring the consensus actor: package level
// gauges/counters registered once in init, updated by thin setter
// functions called from Service as rounds progress.
var (
	roundHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dbft",
		Name:      "round_height",
		Help:      "Height of the round currently in progress",
	})
	roundView = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dbft",
		Name:      "round_view",
		Help:      "View number of the round currently in progress",
	})
	slotOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dbft",
		Name:      "slot_outcome_total",
		Help:      "Count of finalized blocks by which slot (priority/fallback) produced them",
	}, []string{"slot"})
	forcedPreCommit = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dbft",
		Name:      "forced_precommit_total",
		Help:      "Count of times the priority slot moved to Commit on M preparations instead of waiting for M PreCommits",
	})
	recoveryResponses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dbft",
		Name:      "recovery_responses_total",
		Help:      "Count of RecoveryRequests let through the per-sender cooldown to the core (not counted when no cooldown is configured; the core may still decline to answer)",
	})
	viewChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dbft",
		Name:      "view_changes_total",
		Help:      "Count of views adopted via CheckExpectedView",
	})
)

func init() {
	prometheus.MustRegister(
		roundHeight,
		roundView,
		slotOutcome,
		forcedPreCommit,
		recoveryResponses,
		viewChanges,
	)
}

func updateRoundMetric(height uint32, view byte) {
	roundHeight.Set(float64(height))
	roundView.Set(float64(view))
}

func observeSlotOutcome(slot string) {
	slotOutcome.WithLabelValues(slot).Inc()
}

func observeForcedPreCommit() {
	forcedPreCommit.Inc()
}

func observeRecoveryResponse() {
	recoveryResponses.Inc()
}

func observeViewChange() {
	viewChanges.Inc()
}
