// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the domain types shared by the governance
// service: proposals, votes, amendments, guardians, the behavior change
// log, and the typed error taxonomy used at the service boundary.
//
// This file contains the proposal lifecycle types. Votes live in vote.go,
// amendment types in amendment.go, and audit-log types in changelog.go.
package datatypes

import (
	"time"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultConsensusThreshold is the weighted "for" fraction required
	// to approve a proposal.
	DefaultConsensusThreshold = 0.67

	// VotingPeriod is the time between activation and the voting deadline.
	// Fixed at activation; early supermajorities do not shorten it.
	VotingPeriod = 7 * 24 * time.Hour

	// MaxPayloadBytes is the maximum serialized size of a proposal payload.
	// Prevents memory issues from oversized submissions.
	MaxPayloadBytes = 64 * 1024
)

// ChangeKind identifies what part of the shared ruleset a proposal targets.
type ChangeKind string

const (
	ChangePatternAdd           ChangeKind = "pattern_add"
	ChangePatternModify        ChangeKind = "pattern_modify"
	ChangePatternRemove        ChangeKind = "pattern_remove"
	ChangeTensionAdd           ChangeKind = "tension_add"
	ChangeTensionModify        ChangeKind = "tension_modify"
	ChangeConstitutionalAdd    ChangeKind = "constitutional_add"
	ChangeConstitutionalModify ChangeKind = "constitutional_modify"
	ChangeEngineUpdate         ChangeKind = "engine_update"
)

// Valid reports whether k is one of the known change kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangePatternAdd, ChangePatternModify, ChangePatternRemove,
		ChangeTensionAdd, ChangeTensionModify,
		ChangeConstitutionalAdd, ChangeConstitutionalModify,
		ChangeEngineUpdate:
		return true
	}
	return false
}

// ProposalStatus is the lifecycle state of a proposal.
//
// Transitions are monotonic except for explicit rollback:
//
//	draft → active → {approved | rejected} → {rolled_out | rolled_back}
type ProposalStatus string

const (
	ProposalDraft      ProposalStatus = "draft"
	ProposalActive     ProposalStatus = "active"
	ProposalApproved   ProposalStatus = "approved"
	ProposalRejected   ProposalStatus = "rejected"
	ProposalRolledOut  ProposalStatus = "rolled_out"
	ProposalRolledBack ProposalStatus = "rolled_back"
)

// Terminal reports whether the status is one of the finalized outcomes.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalApproved, ProposalRejected, ProposalRolledOut, ProposalRolledBack:
		return true
	}
	return false
}

// Origin identifies where a proposal came from.
type Origin string

const (
	// OriginLocal marks a proposal raised by this mirror's own user.
	OriginLocal Origin = "local"

	// OriginNetworked marks a proposal received from the commons.
	OriginNetworked Origin = "networked"
)

// =============================================================================
// Proposal
// =============================================================================

// Proposal is a pending request to change shared pattern, tension, or
// constitutional rules.
//
// # Invariants
//
//   - Status transitions are monotonic except through explicit rollback.
//   - Weighted tallies only increase, never decrease, except through rollback.
//   - VotingDeadline is fixed at activation (CreatedAt + VotingPeriod is not
//     used; the clock starts when voting opens).
type Proposal struct {
	// ID is the unique proposal identifier (UUID v4).
	ID string `json:"id"`

	// Kind is the change kind this proposal carries.
	Kind ChangeKind `json:"kind"`

	// Title is a short human-readable summary.
	Title string `json:"title"`

	// Description explains the proposed change.
	Description string `json:"description"`

	// Payload is the free-form structured change content. Conflict
	// detection and constitutional scoring read the normalized keys
	// "target", "value", and "requires_version" when present.
	Payload map[string]any `json:"payload"`

	// ProposerID is the identity that raised the proposal.
	ProposerID string `json:"proposer_id"`

	// Origin records whether the proposal is local or networked.
	Origin Origin `json:"origin"`

	// Status is the current lifecycle state.
	Status ProposalStatus `json:"status"`

	// VotesFor is the weighted tally of "for" votes.
	VotesFor float64 `json:"votes_for"`

	// VotesAgainst is the weighted tally of "against" votes.
	VotesAgainst float64 `json:"votes_against"`

	// VotesAbstain is the weighted tally of abstentions. Abstentions do
	// not contribute to the consensus denominator.
	VotesAbstain float64 `json:"votes_abstain"`

	// ConsensusThreshold is the weighted "for" fraction required to pass.
	ConsensusThreshold float64 `json:"consensus_threshold"`

	// CreatedAt is when the proposal was drafted.
	CreatedAt time.Time `json:"created_at"`

	// VotingDeadline is when voting closes. Zero until activation.
	VotingDeadline time.Time `json:"voting_deadline,omitzero"`

	// Metadata holds arbitrary caller-supplied annotations.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TotalVoteWeight returns the consensus denominator: the combined weight of
// "for" and "against" votes. Abstentions are excluded.
func (p *Proposal) TotalVoteWeight() float64 {
	return p.VotesFor + p.VotesAgainst
}

// ApprovalRatio returns votes_for / total_vote_weight, or 0 when no
// weighted votes have been cast.
func (p *Proposal) ApprovalRatio() float64 {
	total := p.TotalVoteWeight()
	if total == 0 {
		return 0
	}
	return p.VotesFor / total
}

// Passing reports whether the proposal currently meets its consensus
// threshold. This is a display-time check; the proposal only becomes
// approved or rejected at finalization, after the voting deadline.
func (p *Proposal) Passing() bool {
	return p.ApprovalRatio() >= p.ConsensusThreshold
}

// VotingOpen reports whether votes may be cast at the given instant.
func (p *Proposal) VotingOpen(now time.Time) bool {
	return p.Status == ProposalActive && !p.VotingDeadline.IsZero() && now.Before(p.VotingDeadline)
}

// TargetSurface returns the configuration surface this proposal writes to,
// taken from the payload "target" key. Empty when the payload does not
// name a target.
func (p *Proposal) TargetSurface() string {
	if p.Payload == nil {
		return ""
	}
	if s, ok := p.Payload["target"].(string); ok {
		return s
	}
	return ""
}

// TargetValue returns the payload "value" entry, or nil.
func (p *Proposal) TargetValue() any {
	if p.Payload == nil {
		return nil
	}
	return p.Payload["value"]
}

// RequiredVersion returns the payload "requires_version" entry, used for
// version-compatibility conflict checks. Empty when unset.
func (p *Proposal) RequiredVersion() string {
	if p.Payload == nil {
		return ""
	}
	if s, ok := p.Payload["requires_version"].(string); ok {
		return s
	}
	return ""
}
