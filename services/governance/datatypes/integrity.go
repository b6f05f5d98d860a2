// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// ThreatKind classifies a detected manipulation pattern in a proposal's
// voter set.
type ThreatKind string

const (
	ThreatSybilCluster          ThreatKind = "sybil_cluster"
	ThreatCoordinatedVoting     ThreatKind = "coordinated_voting"
	ThreatBotBehavior           ThreatKind = "bot_behavior"
	ThreatFundingCorrelation    ThreatKind = "funding_correlation"
	ThreatRapidIdentityCreation ThreatKind = "rapid_identity_creation"
)

// Integrity score penalties per threat severity. The score starts at 1.0
// and is floored at 0.
const (
	PenaltyCritical = 0.4
	PenaltyHigh     = 0.25
	PenaltyMedium   = 0.15
	PenaltyLow      = 0.05
)

// SeverityPenalty returns the integrity-score penalty for a severity.
func SeverityPenalty(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return PenaltyCritical
	case SeverityHigh:
		return PenaltyHigh
	case SeverityMedium:
		return PenaltyMedium
	case SeverityLow:
		return PenaltyLow
	}
	return 0
}

// IntegrityRecommendation is the disposition derived from the aggregate
// integrity score.
type IntegrityRecommendation string

const (
	// IntegrityProceed: score >= 0.9, proceed normally.
	IntegrityProceed IntegrityRecommendation = "proceed"

	// IntegrityCaution: score >= 0.7, proceed with caution.
	IntegrityCaution IntegrityRecommendation = "proceed_with_caution"

	// IntegrityInvestigate: score >= 0.5, investigate before proceeding.
	IntegrityInvestigate IntegrityRecommendation = "investigate"

	// IntegrityFreeze: score < 0.5, freeze the evolution subsystem and
	// investigate. Uses the same freeze mechanism as conflict handling.
	IntegrityFreeze IntegrityRecommendation = "freeze_and_investigate"
)

// RecommendationForScore maps an integrity score to its disposition band.
func RecommendationForScore(score float64) IntegrityRecommendation {
	switch {
	case score >= 0.9:
		return IntegrityProceed
	case score >= 0.7:
		return IntegrityCaution
	case score >= 0.5:
		return IntegrityInvestigate
	default:
		return IntegrityFreeze
	}
}

// IntegrityThreat is one detected manipulation pattern, with supporting
// evidence for human review.
type IntegrityThreat struct {
	// Kind classifies the pattern.
	Kind ThreatKind `json:"kind"`

	// Severity grades the pattern and sets its score penalty.
	Severity Severity `json:"severity"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Evidence carries the statistics that triggered the detection.
	Evidence map[string]any `json:"evidence,omitempty"`
}

// IntegrityReport is the result of analyzing a proposal's voter set,
// independent of the vote outcome.
type IntegrityReport struct {
	// ProposalID is the analyzed proposal.
	ProposalID string `json:"proposal_id"`

	// Threats lists every detected pattern.
	Threats []IntegrityThreat `json:"threats,omitempty"`

	// Score is the aggregate integrity score in [0, 1]: 1.0 minus fixed
	// per-severity penalties, floored at 0.
	Score float64 `json:"score"`

	// Recommendation is the disposition band for Score.
	Recommendation IntegrityRecommendation `json:"recommendation"`

	// VotersAnalyzed is the number of distinct voters inspected.
	VotersAnalyzed int `json:"voters_analyzed"`

	// CheckedAt is when the analysis ran.
	CheckedAt time.Time `json:"checked_at"`
}
