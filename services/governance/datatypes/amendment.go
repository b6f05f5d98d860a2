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

// Amendment protocol timing and thresholds. Stricter than the ordinary
// proposal flow: a mandatory quiet period before voting opens, a longer
// voting window, and a supermajority instead of a simple consensus.
const (
	// DefaultSupermajority is the guardian "for" fraction (abstains
	// excluded from the denominator) required to pass an amendment.
	DefaultSupermajority = 0.75

	// ReflectionPeriod is the mandatory no-voting period after an
	// amendment is proposed.
	ReflectionPeriod = 7 * 24 * time.Hour

	// AmendmentVotingPeriod is the voting window opened by StartVoting.
	AmendmentVotingPeriod = 14 * 24 * time.Hour
)

// Guardian is a privileged identity permitted to propose and vote on
// constitutional amendments.
type Guardian struct {
	// ID is the guardian's identity identifier.
	ID string `json:"id"`

	// AppointedAt is when guardianship was granted.
	AppointedAt time.Time `json:"appointed_at"`

	// AppointedBy is the identity that granted guardianship.
	AppointedBy string `json:"appointed_by"`

	// Active reports whether the guardianship is current. Only active
	// guardians may propose or vote on amendments.
	Active bool `json:"active"`
}

// AmendmentStatus is the lifecycle state of a constitutional amendment.
//
//	reflecting → voting → {passed | failed | vetoed} → implemented → rolled_back
//
// An amendment enters its reflection period immediately on proposal; the
// "proposed" state exists for records imported before reflection tracking
// and is treated as reflecting.
type AmendmentStatus string

const (
	AmendmentProposed    AmendmentStatus = "proposed"
	AmendmentReflecting  AmendmentStatus = "reflecting"
	AmendmentVoting      AmendmentStatus = "voting"
	AmendmentPassed      AmendmentStatus = "passed"
	AmendmentFailed      AmendmentStatus = "failed"
	AmendmentVetoed      AmendmentStatus = "vetoed"
	AmendmentImplemented AmendmentStatus = "implemented"
	AmendmentRolledBack  AmendmentStatus = "rolled_back"
)

// Amendment is a proposed change to the constitution itself.
type Amendment struct {
	// ID is the unique amendment identifier (UUID v4).
	ID string `json:"id"`

	// ProposerID must reference an active guardian.
	ProposerID string `json:"proposer_id"`

	// Kind is the constitutional change kind.
	Kind ChangeKind `json:"kind"`

	// Title is a short human-readable summary.
	Title string `json:"title"`

	// Description explains the motivation for the amendment.
	Description string `json:"description"`

	// ProposedChanges is the full text the constitution would adopt.
	ProposedChanges string `json:"proposed_changes"`

	// Status is the current lifecycle state.
	Status AmendmentStatus `json:"status"`

	// ProposedAt is when the amendment entered reflection.
	ProposedAt time.Time `json:"proposed_at"`

	// ReflectionDeadline is ProposedAt + ReflectionPeriod. No voting is
	// permitted before it.
	ReflectionDeadline time.Time `json:"reflection_deadline"`

	// VotingDeadline is set once, when StartVoting opens the window.
	// Zero while reflecting.
	VotingDeadline time.Time `json:"voting_deadline,omitzero"`

	// VotesFor, VotesAgainst, and VotesAbstain are unweighted guardian
	// tallies: one guardian, one vote.
	VotesFor     int `json:"votes_for"`
	VotesAgainst int `json:"votes_against"`
	VotesAbstain int `json:"votes_abstain"`

	// RequiredMajority is the supermajority fraction to pass.
	RequiredMajority float64 `json:"required_majority"`
}

// ApprovalRatio returns votes_for / (votes_for + votes_against).
// Abstentions are excluded from the denominator. Returns 0 when no
// decisive votes were cast.
func (a *Amendment) ApprovalRatio() float64 {
	decisive := a.VotesFor + a.VotesAgainst
	if decisive == 0 {
		return 0
	}
	return float64(a.VotesFor) / float64(decisive)
}

// VotingOpen reports whether guardian votes may be cast at the given
// instant.
func (a *Amendment) VotingOpen(now time.Time) bool {
	return a.Status == AmendmentVoting && !a.VotingDeadline.IsZero() && now.Before(a.VotingDeadline)
}

// AmendmentVote is a single unweighted guardian vote on an amendment.
// At most one vote per (amendment, guardian) pair, enforced by the store.
type AmendmentVote struct {
	// ID is the unique vote identifier (UUID v4).
	ID string `json:"id"`

	// AmendmentID references the amendment being voted on.
	AmendmentID string `json:"amendment_id"`

	// GuardianID references the voting guardian.
	GuardianID string `json:"guardian_id"`

	// Choice is the vote direction.
	Choice VoteChoice `json:"choice"`

	// Reasoning is optional free-text justification.
	Reasoning string `json:"reasoning,omitempty"`

	// CreatedAt is when the vote was cast.
	CreatedAt time.Time `json:"created_at"`
}

// ConstitutionVersion is one immutable revision of the constitution.
// Version numbers increase monotonically and exactly one revision is
// active at a time; creating a new one deactivates the prior.
type ConstitutionVersion struct {
	// Version is the monotonically increasing revision number.
	Version int `json:"version"`

	// Content is the full constitution text at this revision.
	Content string `json:"content"`

	// AmendmentID references the amendment that produced this revision.
	// Empty for the bootstrap revision.
	AmendmentID string `json:"amendment_id,omitempty"`

	// Active reports whether this is the live revision.
	Active bool `json:"active"`

	// CreatedAt is when the revision was implemented.
	CreatedAt time.Time `json:"created_at"`
}
