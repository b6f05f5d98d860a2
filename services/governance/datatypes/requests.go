// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Request bodies for the governance HTTP boundary. Validation uses gin's
// binding tags (go-playground/validator); the custom "identifier" tag,
// registered in the routes package, enforces the store-key identifier
// format. Anything the tags cannot express is checked in the pipeline
// and returned as a ValidationError.

package datatypes

// SubmitProposalRequest is the body for POST /v1/proposals. Draft holds
// the admitted proposal for review instead of opening voting
// immediately; POST /v1/proposals/:id/activate opens it.
type SubmitProposalRequest struct {
	Kind        string            `json:"kind" binding:"required"`
	Title       string            `json:"title" binding:"required,max=200"`
	Description string            `json:"description" binding:"max=4000"`
	Payload     map[string]any    `json:"payload" binding:"required"`
	ProposerID  string            `json:"proposer_id" binding:"required,identifier"`
	Origin      string            `json:"origin" binding:"omitempty,oneof=local networked"`
	Draft       bool              `json:"draft"`
	Metadata    map[string]string `json:"metadata"`
}

// CastVoteRequest is the body for POST /v1/proposals/:id/votes.
type CastVoteRequest struct {
	IdentityID string `json:"identity_id" binding:"required,identifier"`
	Choice     string `json:"choice" binding:"required,oneof=for against abstain"`
	Reasoning  string `json:"reasoning" binding:"max=2000"`
}

// CreateVersionRequest is the body for POST /v1/versions.
type CreateVersionRequest struct {
	SemVer      string   `json:"semver" binding:"required"`
	Description string   `json:"description" binding:"max=4000"`
	ProposalIDs []string `json:"proposal_ids" binding:"required,min=1"`
}

// RolloutVersionRequest is the body for POST /v1/versions/:id/rollout.
type RolloutVersionRequest struct {
	Percent int `json:"percent" binding:"required,oneof=10 50 100"`
}

// ProposeAmendmentRequest is the body for POST /v1/amendments.
type ProposeAmendmentRequest struct {
	ProposerID      string `json:"proposer_id" binding:"required,identifier"`
	Kind            string `json:"kind" binding:"required,oneof=constitutional_add constitutional_modify"`
	Title           string `json:"title" binding:"required,max=200"`
	Description     string `json:"description" binding:"max=4000"`
	ProposedChanges string `json:"proposed_changes" binding:"required"`
}

// AmendmentVoteRequest is the body for POST /v1/amendments/:id/votes.
type AmendmentVoteRequest struct {
	GuardianID string `json:"guardian_id" binding:"required,identifier"`
	Choice     string `json:"choice" binding:"required,oneof=for against abstain"`
	Reasoning  string `json:"reasoning" binding:"max=2000"`
}

// VetoProposalRequest is the body for POST /v1/proposals/:id/veto.
type VetoProposalRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

// VetoAmendmentRequest is the body for POST /v1/amendments/:id/veto.
type VetoAmendmentRequest struct {
	GuardianID string `json:"guardian_id" binding:"required,identifier"`
	Reason     string `json:"reason" binding:"required,max=2000"`
}

// AppointGuardianRequest is the body for POST /v1/guardians. AppointedBy
// is empty only for the bootstrap guardian.
type AppointGuardianRequest struct {
	ID          string `json:"id" binding:"required,identifier"`
	AppointedBy string `json:"appointed_by" binding:"omitempty,identifier"`
}

// ConfirmGuardianRequest is the body for POST /v1/guardians/:id/confirm.
type ConfirmGuardianRequest struct {
	ConfirmedBy string `json:"confirmed_by" binding:"required,identifier"`
}

// ResolveConflictRequest is the body for POST /v1/conflicts/resolve.
// Resolution is always an explicit, logged user decision.
type ResolveConflictRequest struct {
	Choice string `json:"choice" binding:"required,oneof=candidate_a candidate_b reject_both"`
	Reason string `json:"reason" binding:"required,max=2000"`
	Actor  string `json:"actor" binding:"required"`
}

// RegisterIdentityRequest is the body for POST /v1/identities.
type RegisterIdentityRequest struct {
	ID          string `json:"id" binding:"required,identifier"`
	DisplayName string `json:"display_name" binding:"max=200"`
	Funded      *bool  `json:"funded"`
}

// RollbackRequest is the body for POST /v1/changelog/:id/rollback.
type RollbackRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
	Actor  string `json:"actor" binding:"required,oneof=user critic constitutional_monitor system"`
}
