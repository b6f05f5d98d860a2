// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package changelog is the append-only audit ledger for governance
// decisions.
//
// Every decision writes exactly one immutable entry capturing the
// before/after state, the deciding actor, and whether the change can be
// reversed. Rollbacks never mutate history: they append a new entry
// whose before/after snapshots are the original's swapped, linked
// through ParentLogID into a traceable chain.
package changelog

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

// Store is the slice of the governance store the ledger writes through.
// UpdateProposal is needed so rolling back an adoption also moves the
// proposal itself to rolled_back.
type Store interface {
	AppendLogEntry(e *datatypes.BehaviorChangeLogEntry) error
	GetLogEntry(id string) (*datatypes.BehaviorChangeLogEntry, error)
	QueryLog(filter datatypes.HistoryFilter) ([]datatypes.BehaviorChangeLogEntry, error)
	UpdateProposal(id string, fn func(*datatypes.Proposal) error) (*datatypes.Proposal, error)
}

// Exporter receives a copy of every appended entry, for shipping the
// audit trail to an external sink. Export failures are logged and never
// fail the write: the local ledger is the source of truth.
type Exporter interface {
	Export(e *datatypes.BehaviorChangeLogEntry) error
}

// Log is the write-side API over the persisted ledger.
//
// # Thread Safety
//
// Safe for concurrent use; ordering and immutability are enforced by
// the store.
type Log struct {
	store     Store
	logger    *slog.Logger
	exporters []Exporter
	now       func() time.Time
}

// NewLog constructs the ledger API. Exporters are optional.
func NewLog(store Store, logger *slog.Logger, exporters ...Exporter) *Log {
	if logger == nil {
		logger = slog.Default().With("component", "governance.changelog")
	}
	return &Log{store: store, logger: logger, exporters: exporters, now: time.Now}
}

// append finalizes and persists one entry, then fans it out to the
// exporters.
func (l *Log) append(e *datatypes.BehaviorChangeLogEntry) (*datatypes.BehaviorChangeLogEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if err := l.store.AppendLogEntry(e); err != nil {
		return nil, fmt.Errorf("append %s entry: %w", e.Type, err)
	}
	l.logger.Info("governance decision recorded",
		"entry_id", e.ID,
		"type", e.Type,
		"actor", e.Actor,
		"proposal_id", e.ProposalID,
	)
	for _, ex := range l.exporters {
		if err := ex.Export(e); err != nil {
			l.logger.Warn("audit export failed", "entry_id", e.ID, "error", err)
		}
	}
	return e, nil
}

// ===== One write method per governance decision =====

// RecordAdoption logs a proposal reaching consensus and being applied.
func (l *Log) RecordAdoption(p *datatypes.Proposal, before, after map[string]any,
	explicitConsent bool) (*datatypes.BehaviorChangeLogEntry, error) {

	return l.append(&datatypes.BehaviorChangeLogEntry{
		Type:       datatypes.ChangeProposalAdopted,
		ProposalID: p.ID,
		IdentityID: p.ProposerID,
		Before:     before,
		After:      after,
		Actor:      datatypes.ActorSystem,
		Reason: fmt.Sprintf("proposal %q approved with %.0f%% weighted support",
			p.Title, p.ApprovalRatio()*100),
		ExplicitConsent: explicitConsent,
		Reversible:      true,
	})
}

// RecordRejection logs a proposal failing consensus.
func (l *Log) RecordRejection(p *datatypes.Proposal) (*datatypes.BehaviorChangeLogEntry, error) {
	return l.append(&datatypes.BehaviorChangeLogEntry{
		Type:       datatypes.ChangeProposalRejected,
		ProposalID: p.ID,
		IdentityID: p.ProposerID,
		Actor:      datatypes.ActorSystem,
		Reason: fmt.Sprintf("proposal %q rejected with %.0f%% weighted support (threshold %.0f%%)",
			p.Title, p.ApprovalRatio()*100, p.ConsensusThreshold*100),
		Reversible: false,
	})
}

// RecordCriticVeto logs a critic agent overriding a pending change.
func (l *Log) RecordCriticVeto(proposalID, reason string) (*datatypes.BehaviorChangeLogEntry, error) {
	return l.append(&datatypes.BehaviorChangeLogEntry{
		Type:       datatypes.ChangeCriticVeto,
		ProposalID: proposalID,
		Actor:      datatypes.ActorCritic,
		Reason:     reason,
		Reversible: false,
	})
}

// RecordUserOverride logs a user explicitly overriding a governance
// outcome.
func (l *Log) RecordUserOverride(identityID, proposalID, reason string,
	before, after map[string]any) (*datatypes.BehaviorChangeLogEntry, error) {

	return l.append(&datatypes.BehaviorChangeLogEntry{
		Type:            datatypes.ChangeUserOverride,
		ProposalID:      proposalID,
		IdentityID:      identityID,
		Before:          before,
		After:           after,
		Actor:           datatypes.ActorUser,
		Reason:          reason,
		ExplicitConsent: true,
		Reversible:      true,
	})
}

// RecordConflictResolution logs an explicit decision on a conflict,
// automatic (local precedence) or human (freeze resolution).
func (l *Log) RecordConflictResolution(c *datatypes.Conflict, decision string,
	actor datatypes.ActorClass, decidedBy string) (*datatypes.BehaviorChangeLogEntry, error) {

	return l.append(&datatypes.BehaviorChangeLogEntry{
		Type:       datatypes.ChangeConflictResolved,
		ProposalID: c.CandidateA.ProposalID,
		IdentityID: decidedBy,
		Before:     map[string]any{"conflict": c},
		After:      map[string]any{"decision": decision},
		Actor:      actor,
		Reason: fmt.Sprintf("%s conflict on %q resolved: %s",
			c.Kind, c.Target, decision),
		ExplicitConsent: actor == datatypes.ActorUser,
		Reversible:      false,
	})
}

// RecordUnfreeze logs an explicit decision clearing a freeze that
// carries no conflict candidates (integrity freezes, manual freezes).
// Freezes raised by conflict detection go through
// RecordConflictResolution instead.
func (l *Log) RecordUnfreeze(fs *datatypes.FreezeState, decision, decidedBy string) (*datatypes.BehaviorChangeLogEntry, error) {
	return l.append(&datatypes.BehaviorChangeLogEntry{
		Type:            datatypes.ChangeConflictResolved,
		IdentityID:      decidedBy,
		Before:          map[string]any{"freeze": fs},
		After:           map[string]any{"decision": decision},
		Actor:           datatypes.ActorUser,
		Reason:          fmt.Sprintf("subsystem unfrozen (%s): %s", decision, fs.Reason),
		ExplicitConsent: true,
		Reversible:      false,
	})
}

// RecordConstitutionalBlock logs a hard block. Hard blocks are
// governance events, not input errors: the ledger must show the system
// refused to proceed.
func (l *Log) RecordConstitutionalBlock(proposalID string,
	a *datatypes.ConstitutionalAssessment) (*datatypes.BehaviorChangeLogEntry, error) {

	return l.append(&datatypes.BehaviorChangeLogEntry{
		Type:       datatypes.ChangeConstitutionalBlock,
		ProposalID: proposalID,
		After:      map[string]any{"assessment": a},
		Actor:      datatypes.ActorConstitutionalMonitor,
		Reason: fmt.Sprintf("principles %v below hard floor (overall %.2f)",
			a.HardViolations, a.OverallScore),
		Reversible: false,
	})
}

// RecordEmergencyFreeze logs the evolution subsystem freezing, whether
// raised by conflict detection, integrity analysis, or a human.
func (l *Log) RecordEmergencyFreeze(fs *datatypes.FreezeState,
	actor datatypes.ActorClass) (*datatypes.BehaviorChangeLogEntry, error) {

	e := &datatypes.BehaviorChangeLogEntry{
		Type:       datatypes.ChangeEmergencyFreeze,
		After:      map[string]any{"freeze": fs},
		Actor:      actor,
		Reason:     fs.Reason,
		Reversible: false,
	}
	if fs.Conflict != nil {
		e.ProposalID = fs.Conflict.CandidateA.ProposalID
	}
	return l.append(e)
}

// ===== Rollback chains =====

// Rollback appends a reversal entry for a prior decision.
//
// The original entry is untouched; the new entry swaps the original's
// before/after snapshots and links back through ParentLogID. Returns
// ErrNotReversible for entries recorded as irreversible. Rolling back
// an adoption also moves the proposal to rolled_back.
func (l *Log) Rollback(entryID string, actor datatypes.ActorClass,
	reason string) (*datatypes.BehaviorChangeLogEntry, error) {

	orig, err := l.store.GetLogEntry(entryID)
	if err != nil {
		return nil, fmt.Errorf("rollback %s: %w", entryID, err)
	}
	if !orig.Reversible {
		return nil, fmt.Errorf("entry %s: %w", entryID, datatypes.ErrNotReversible)
	}

	if orig.Type == datatypes.ChangeProposalAdopted && orig.ProposalID != "" {
		_, err := l.store.UpdateProposal(orig.ProposalID, func(p *datatypes.Proposal) error {
			p.Status = datatypes.ProposalRolledBack
			return nil
		})
		if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
			return nil, fmt.Errorf("roll back proposal %s: %w", orig.ProposalID, err)
		}
	}

	return l.append(&datatypes.BehaviorChangeLogEntry{
		Type:            datatypes.ChangeRollback,
		ProposalID:      orig.ProposalID,
		IdentityID:      orig.IdentityID,
		Before:          orig.After,
		After:           orig.Before,
		Actor:           actor,
		Reason:          reason,
		ExplicitConsent: actor == datatypes.ActorUser,
		Reversible:      true,
		ParentLogID:     orig.ID,
	})
}

// Chain traces an entry back through every reversal that produced it,
// most recent first, ending at the original decision.
func (l *Log) Chain(entryID string) ([]datatypes.BehaviorChangeLogEntry, error) {
	var chain []datatypes.BehaviorChangeLogEntry
	seen := make(map[string]bool)
	id := entryID
	for id != "" {
		if seen[id] {
			return nil, fmt.Errorf("rollback chain at %s is cyclic", id)
		}
		seen[id] = true
		e, err := l.store.GetLogEntry(id)
		if err != nil {
			return nil, fmt.Errorf("trace chain at %s: %w", id, err)
		}
		chain = append(chain, *e)
		id = e.ParentLogID
	}
	return chain, nil
}

// ===== Read queries =====

// History returns entries matching the filter, in timestamp order.
func (l *Log) History(filter datatypes.HistoryFilter) ([]datatypes.BehaviorChangeLogEntry, error) {
	return l.store.QueryLog(filter)
}

// Compliance aggregates ledger activity over [start, end) into the
// consent, intervention, and rollback figures an external review asks
// for.
func (l *Log) Compliance(start, end time.Time) (*datatypes.ComplianceReport, error) {
	entries, err := l.store.QueryLog(datatypes.HistoryFilter{Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("compliance report: %w", err)
	}

	report := &datatypes.ComplianceReport{
		Start:        start,
		End:          end,
		TotalEntries: len(entries),
		CountsByType: make(map[datatypes.ChangeType]int),
		GeneratedAt:  l.now().UTC(),
	}
	if len(entries) == 0 {
		return report, nil
	}

	consented, interventions := 0, 0
	for _, e := range entries {
		report.CountsByType[e.Type]++
		if e.ExplicitConsent {
			consented++
		}
		if e.Actor == datatypes.ActorCritic || e.Actor == datatypes.ActorConstitutionalMonitor {
			interventions++
		}
		if e.Type == datatypes.ChangeRollback {
			report.RollbackCount++
		}
	}
	total := float64(len(entries))
	report.ConsentRate = float64(consented) / total
	report.InterventionRate = float64(interventions) / total
	return report, nil
}
