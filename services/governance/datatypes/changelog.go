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

// ChangeType classifies a behavior change log entry.
type ChangeType string

const (
	ChangeProposalAdopted    ChangeType = "proposal_adopted"
	ChangeProposalRejected   ChangeType = "proposal_rejected"
	ChangeCriticVeto         ChangeType = "critic_veto"
	ChangeUserOverride       ChangeType = "user_override"
	ChangeConflictResolved   ChangeType = "conflict_resolved"
	ChangeRollback           ChangeType = "rollback"
	ChangeConstitutionalBlock ChangeType = "constitutional_block"
	ChangeEmergencyFreeze    ChangeType = "emergency_freeze"
)

// ActorClass identifies which kind of actor made a governance decision.
type ActorClass string

const (
	ActorUser                  ActorClass = "user"
	ActorCritic                ActorClass = "critic"
	ActorConstitutionalMonitor ActorClass = "constitutional_monitor"
	ActorSystem                ActorClass = "system"
)

// BehaviorChangeLogEntry is one immutable audit record of a governance
// decision. Entries are never mutated or deleted once written; rollback
// writes a new entry linked through ParentLogID.
type BehaviorChangeLogEntry struct {
	// ID is the unique entry identifier (UUID v4).
	ID string `json:"id"`

	// Type classifies the decision.
	Type ChangeType `json:"type"`

	// Timestamp is when the decision was recorded (UTC).
	Timestamp time.Time `json:"timestamp"`

	// ProposalID references the proposal involved, if any.
	ProposalID string `json:"proposal_id,omitempty"`

	// IdentityID references the identity involved, if any.
	IdentityID string `json:"identity_id,omitempty"`

	// Before is an opaque snapshot of the state prior to the decision.
	Before map[string]any `json:"before,omitempty"`

	// After is an opaque snapshot of the state after the decision.
	After map[string]any `json:"after,omitempty"`

	// Actor is the class of actor that decided.
	Actor ActorClass `json:"actor"`

	// Reason is the human-readable explanation.
	Reason string `json:"reason"`

	// ExplicitConsent is true when the user explicitly approved the
	// change, as opposed to implied or system-initiated consent.
	ExplicitConsent bool `json:"explicit_consent"`

	// Reversible is true when the entry may be rolled back.
	Reversible bool `json:"reversible"`

	// ParentLogID links a rollback entry to the entry it reverses,
	// forming a traceable rollback chain.
	ParentLogID string `json:"parent_log_id,omitempty"`
}

// HistoryFilter selects change log entries for read queries. Zero-value
// fields are ignored; populated fields combine with AND.
type HistoryFilter struct {
	// Types limits results to specific change types.
	Types []ChangeType `json:"types,omitempty"`

	// IdentityID limits results to one identity.
	IdentityID string `json:"identity_id,omitempty"`

	// ProposalID limits results to one proposal.
	ProposalID string `json:"proposal_id,omitempty"`

	// Start is the earliest timestamp to include (inclusive).
	Start time.Time `json:"start,omitzero"`

	// End is the latest timestamp to include (exclusive).
	End time.Time `json:"end,omitzero"`

	// Limit caps the number of returned entries. 0 means no cap.
	Limit int `json:"limit,omitempty"`
}

// Matches reports whether an entry satisfies every populated filter field.
func (f HistoryFilter) Matches(e *BehaviorChangeLogEntry) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.IdentityID != "" && e.IdentityID != f.IdentityID {
		return false
	}
	if f.ProposalID != "" && e.ProposalID != f.ProposalID {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !e.Timestamp.Before(f.End) {
		return false
	}
	return true
}

// ComplianceReport aggregates change log activity over a date range.
type ComplianceReport struct {
	// Start and End bound the reporting period.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// TotalEntries is the number of entries in the period.
	TotalEntries int `json:"total_entries"`

	// CountsByType breaks entries down by change type.
	CountsByType map[ChangeType]int `json:"counts_by_type"`

	// ConsentRate is the fraction of entries with explicit user consent.
	ConsentRate float64 `json:"consent_rate"`

	// InterventionRate is the fraction of entries decided by the critic
	// or the constitutional monitor rather than a user or the system.
	InterventionRate float64 `json:"intervention_rate"`

	// RollbackCount is the number of rollback entries in the period.
	RollbackCount int `json:"rollback_count"`

	// GeneratedAt is when the report was produced.
	GeneratedAt time.Time `json:"generated_at"`
}
