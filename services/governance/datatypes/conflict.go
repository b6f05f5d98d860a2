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

// Severity grades conflicts and integrity threats.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ConflictKind classifies how two changes collide.
type ConflictKind string

const (
	// ConflictLocalVsNetworked is a networked change colliding with
	// already-applied local configuration.
	ConflictLocalVsNetworked ConflictKind = "local_vs_networked"

	// ConflictNetworkedVsNetworked is two networked proposals targeting
	// the same surface with different values.
	ConflictNetworkedVsNetworked ConflictKind = "networked_vs_networked"

	// ConflictVersionIncompatibility is a version-requirement mismatch
	// between two proposals.
	ConflictVersionIncompatibility ConflictKind = "version_incompatibility"

	// ConflictParameterClash is two local proposals writing the same
	// parameter.
	ConflictParameterClash ConflictKind = "parameter_clash"
)

// ResolutionStrategy is the fixed policy applied to a conflict kind.
type ResolutionStrategy string

const (
	// ResolutionLocalPrecedence rejects the networked value automatically.
	// The event is still logged and surfaced; the user is never silently
	// opted out of local precedence.
	ResolutionLocalPrecedence ResolutionStrategy = "local_precedence"

	// ResolutionFreezeAndPresent halts the evolution subsystem until an
	// explicit, logged user decision. No timeout, no default winner.
	ResolutionFreezeAndPresent ResolutionStrategy = "freeze_and_present"

	// ResolutionLatestWins lets the most recent local change stand.
	ResolutionLatestWins ResolutionStrategy = "latest_wins"

	// ResolutionExplicitUserChoice defers entirely to the user.
	ResolutionExplicitUserChoice ResolutionStrategy = "explicit_user_choice"
)

// ConflictCandidate is one side of a detected conflict, carrying enough
// context for a human to choose between the candidates.
type ConflictCandidate struct {
	// ProposalID references the candidate proposal, when one exists.
	// Empty for already-applied local configuration.
	ProposalID string `json:"proposal_id,omitempty"`

	// Value is the candidate value for the contested surface.
	Value any `json:"value"`

	// VoteWeight is the candidate's weighted "for" tally at detection.
	VoteWeight float64 `json:"vote_weight"`

	// CreatedAt is when the candidate change was raised or applied.
	CreatedAt time.Time `json:"created_at"`
}

// Conflict is one detected collision between an incoming change and the
// local configuration or an outstanding proposal.
type Conflict struct {
	// ID is the unique conflict identifier (UUID v4).
	ID string `json:"id"`

	// Kind classifies the collision.
	Kind ConflictKind `json:"kind"`

	// Severity grades the collision.
	Severity Severity `json:"severity"`

	// Target is the contested configuration surface.
	Target string `json:"target"`

	// CandidateA is the incoming change.
	CandidateA ConflictCandidate `json:"candidate_a"`

	// CandidateB is the colliding change or applied configuration.
	CandidateB ConflictCandidate `json:"candidate_b"`

	// Resolution is the fixed strategy for this conflict kind.
	Resolution ResolutionStrategy `json:"resolution"`

	// AutoResolvable is true when the strategy needs no human decision.
	AutoResolvable bool `json:"auto_resolvable"`

	// DetectedAt is when the conflict was found.
	DetectedAt time.Time `json:"detected_at"`
}

// Blocking reports whether this conflict freezes the evolution subsystem
// until an explicit resolution.
func (c Conflict) Blocking() bool {
	return c.Resolution == ResolutionFreezeAndPresent ||
		c.Resolution == ResolutionExplicitUserChoice
}

// ConflictReport is the result of conflict detection for one incoming
// proposal.
type ConflictReport struct {
	// ProposalID is the incoming proposal that was checked.
	ProposalID string `json:"proposal_id"`

	// Conflicts lists every detected collision.
	Conflicts []Conflict `json:"conflicts,omitempty"`

	// CheckedAt is when detection ran.
	CheckedAt time.Time `json:"checked_at"`
}

// RequiresFreeze reports whether any detected conflict is blocking.
func (r *ConflictReport) RequiresFreeze() bool {
	for _, c := range r.Conflicts {
		if c.Blocking() {
			return true
		}
	}
	return false
}

// FirstBlocking returns the first blocking conflict, or nil.
func (r *ConflictReport) FirstBlocking() *Conflict {
	for i := range r.Conflicts {
		if r.Conflicts[i].Blocking() {
			return &r.Conflicts[i]
		}
	}
	return nil
}

// FreezeState is the persisted evolution-subsystem freeze flag.
//
// Read and written only inside the same store transaction as the state
// change it would otherwise permit; never held as an ambient global.
type FreezeState struct {
	// Frozen is true while the subsystem refuses to adopt changes.
	Frozen bool `json:"frozen"`

	// Reason is the human-readable cause.
	Reason string `json:"reason,omitempty"`

	// Conflict is the blocking conflict awaiting a decision, if any.
	Conflict *Conflict `json:"conflict,omitempty"`

	// FrozenAt is when the freeze was raised.
	FrozenAt time.Time `json:"frozen_at,omitzero"`

	// FrozenBy identifies what raised the freeze ("conflict_resolver",
	// "integrity_checker", or a user identity for manual freezes).
	FrozenBy string `json:"frozen_by,omitempty"`
}

// ConflictChoice is a user's explicit decision on a blocking conflict.
type ConflictChoice string

const (
	// ChoiceCandidateA adopts the incoming change.
	ChoiceCandidateA ConflictChoice = "candidate_a"

	// ChoiceCandidateB adopts the colliding change.
	ChoiceCandidateB ConflictChoice = "candidate_b"

	// ChoiceRejectBoth keeps the current configuration.
	ChoiceRejectBoth ConflictChoice = "reject_both"
)

// Valid reports whether c is a known conflict choice.
func (c ConflictChoice) Valid() bool {
	switch c {
	case ChoiceCandidateA, ChoiceCandidateB, ChoiceRejectBoth:
		return true
	}
	return false
}
