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

// Vote weight bounds. Every participant keeps some voice (the floor) and
// no amount of activity buys more than full weight.
const (
	MinVoteWeight = 0.1
	MaxVoteWeight = 1.0
)

// VoteChoice is the direction of a single vote.
type VoteChoice string

const (
	VoteFor     VoteChoice = "for"
	VoteAgainst VoteChoice = "against"
	VoteAbstain VoteChoice = "abstain"
)

// Valid reports whether c is a known vote choice.
func (c VoteChoice) Valid() bool {
	switch c {
	case VoteFor, VoteAgainst, VoteAbstain:
		return true
	}
	return false
}

// Vote is a single weighted vote on a proposal.
//
// At most one vote may exist per (proposal, identity) pair. The store
// enforces this as a key-uniqueness constraint inside the same transaction
// that updates the tally, never as a separate check-then-insert.
type Vote struct {
	// ID is the unique vote identifier (UUID v4).
	ID string `json:"id"`

	// ProposalID references the proposal being voted on.
	ProposalID string `json:"proposal_id"`

	// IdentityID references the voting mirror identity.
	IdentityID string `json:"identity_id"`

	// Choice is the vote direction.
	Choice VoteChoice `json:"choice"`

	// Weight is the activity-derived multiplier, in [0.1, 1.0],
	// computed at cast time.
	Weight float64 `json:"weight"`

	// Reasoning is optional free-text justification. Identical reasoning
	// across many voters feeds the coordination detector.
	Reasoning string `json:"reasoning,omitempty"`

	// CreatedAt is when the vote was cast.
	CreatedAt time.Time `json:"created_at"`
}

// MirrorIdentity is a participant in the federated commons.
//
// Reflection counts are fed by the reflection agent host and drive vote
// weighting; creation time and funding data feed the integrity checker.
type MirrorIdentity struct {
	// ID is the unique identity identifier.
	ID string `json:"id"`

	// DisplayName is an optional human-readable label.
	DisplayName string `json:"display_name,omitempty"`

	// CreatedAt is when the identity joined the commons.
	CreatedAt time.Time `json:"created_at"`

	// ReflectionCount is the number of reflections this identity has
	// completed. Monotonically non-decreasing.
	ReflectionCount int `json:"reflection_count"`

	// Funded indicates externally-provided funding status. Nil when no
	// funding data is available; funding correlation is skipped then.
	Funded *bool `json:"funded,omitempty"`
}
