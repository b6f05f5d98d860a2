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

// DefaultReviewThreshold is the overall score below which a proposal is
// flagged for human review (but not blocked) when no hard floor is hit.
const DefaultReviewThreshold = 0.85

// PrincipleScore is the per-principle result of a constitutional check.
type PrincipleScore struct {
	// PrincipleID identifies the principle evaluated.
	PrincipleID string `json:"principle_id"`

	// Name is the principle's display name.
	Name string `json:"name"`

	// Score is the principle result in [0, 1].
	Score float64 `json:"score"`

	// HardFloor is the minimum acceptable score for this principle.
	HardFloor float64 `json:"hard_floor"`

	// Flags lists soft findings raised during scoring.
	Flags []string `json:"flags,omitempty"`
}

// Violated reports whether the score fell below the principle's own
// hard floor.
func (s PrincipleScore) Violated() bool {
	return s.Score < s.HardFloor
}

// ConstitutionalAssessment is the result of scoring one proposal payload
// against the loaded principle set.
//
// HardBlock is independent of OverallScore: a single principle below its
// own hard floor blocks adoption regardless of averages or vote outcome.
type ConstitutionalAssessment struct {
	// Principles holds the per-principle scores, in configuration order.
	Principles []PrincipleScore `json:"principles"`

	// OverallScore is the mean of all principle scores.
	OverallScore float64 `json:"overall_score"`

	// HardBlock is true when any principle violated its hard floor.
	// Never overridden by averaging or by votes.
	HardBlock bool `json:"hard_block"`

	// HardViolations names the principles that fell below their floors.
	HardViolations []string `json:"hard_violations,omitempty"`

	// Flags aggregates soft findings across principles, including the
	// below-review-threshold flag.
	Flags []string `json:"flags,omitempty"`

	// Recommendation is a human-readable disposition.
	Recommendation string `json:"recommendation"`

	// ScoredAt is when the assessment was produced.
	ScoredAt time.Time `json:"scored_at"`
}
