// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evolution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for governance metrics
const governanceSubsystem = "governance"

// Metrics holds the Prometheus metrics for the evolution engine.
//
// # Thread Safety
//
// All operations are thread-safe via Prometheus's internal locking.
type Metrics struct {
	// ProposalsTotal counts proposal lifecycle events.
	// Labels: kind (pattern_add, ...), event (created, activated, approved, rejected)
	ProposalsTotal *prometheus.CounterVec

	// VotesTotal counts cast votes.
	// Labels: choice (for, against, abstain), status (success, error)
	VotesTotal *prometheus.CounterVec

	// VoteWeight observes the computed weight of each cast vote.
	VoteWeight prometheus.Histogram

	// FinalizeDuration measures finalization latency.
	FinalizeDuration prometheus.Histogram

	// RolloutStage tracks the current rollout percentage per version.
	// Labels: version_id
	RolloutStage *prometheus.GaugeVec

	// SweepFinalized counts proposals finalized per sweep pass.
	SweepFinalized prometheus.Counter

	// FrozenRejections counts operations rejected by the subsystem freeze.
	FrozenRejections prometheus.Counter
}

// NewMetrics creates and registers the engine metrics with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a private
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProposalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: governanceSubsystem,
				Name:      "proposals_total",
				Help:      "Total proposal lifecycle events by kind and event",
			},
			[]string{"kind", "event"},
		),

		VotesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: governanceSubsystem,
				Name:      "votes_total",
				Help:      "Total votes cast by choice and status",
			},
			[]string{"choice", "status"},
		),

		VoteWeight: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: governanceSubsystem,
				Name:      "vote_weight",
				Help:      "Computed activity weight of cast votes",
				Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1.0},
			},
		),

		FinalizeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: governanceSubsystem,
				Name:      "finalize_duration_seconds",
				Help:      "Time spent finalizing a proposal",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),

		RolloutStage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: governanceSubsystem,
				Name:      "rollout_stage_percent",
				Help:      "Current staged rollout percentage per version",
			},
			[]string{"version_id"},
		),

		SweepFinalized: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: governanceSubsystem,
				Name:      "sweep_finalized_total",
				Help:      "Total proposals finalized by deadline sweeps",
			},
		),

		FrozenRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: governanceSubsystem,
				Name:      "frozen_rejections_total",
				Help:      "Total operations rejected while the subsystem was frozen",
			},
		),
	}
}
