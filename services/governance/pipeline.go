// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCommons/pkg/validation"
	"github.com/AleutianAI/AleutianCommons/services/governance/amendment"
	"github.com/AleutianAI/AleutianCommons/services/governance/changelog"
	"github.com/AleutianAI/AleutianCommons/services/governance/conflict"
	"github.com/AleutianAI/AleutianCommons/services/governance/constitution"
	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
	"github.com/AleutianAI/AleutianCommons/services/governance/evolution"
	"github.com/AleutianAI/AleutianCommons/services/governance/integrity"
	badgerstore "github.com/AleutianAI/AleutianCommons/services/governance/storage/badger"
)

// Pipeline runs every governance action through the fixed sequence:
// constitutional check and conflict check at admission, integrity check
// at finalization, then record and audit.
//
// The order is a correctness property, not a style choice: a
// hard-blocked or conflicting action must never reach the audit log as
// adopted. Hard blocks, conflicts, and integrity freezes ARE logged, but
// as refusals, distinguishing "no record because the input was invalid"
// from "record exists because the system refused to proceed."
//
// # Thread Safety
//
// Safe for concurrent use.
type Pipeline struct {
	store    *badgerstore.Store
	monitor  *constitution.Monitor
	checker  *integrity.Checker
	resolver *conflict.Resolver
	engine   *evolution.Engine
	protocol *amendment.Protocol
	log      *changelog.Log
	logger   *slog.Logger
	now      func() time.Time
}

// NewPipeline wires the governance components together.
func NewPipeline(store *badgerstore.Store, monitor *constitution.Monitor,
	checker *integrity.Checker, resolver *conflict.Resolver,
	engine *evolution.Engine, protocol *amendment.Protocol,
	log *changelog.Log, logger *slog.Logger) *Pipeline {

	if logger == nil {
		logger = slog.Default().With("component", "governance.pipeline")
	}
	return &Pipeline{
		store:    store,
		monitor:  monitor,
		checker:  checker,
		resolver: resolver,
		engine:   engine,
		protocol: protocol,
		log:      log,
		logger:   logger,
		now:      time.Now,
	}
}

// SubmitProposal screens a change and, if it clears every gate, records
// it as an active proposal with an open voting window. It is
// SubmitDraft followed immediately by ActivateProposal, for callers
// with no review step between admission and voting.
func (pl *Pipeline) SubmitProposal(ctx context.Context, kind datatypes.ChangeKind,
	title, description, proposerID string, origin datatypes.Origin,
	payload map[string]any) (*datatypes.Proposal, error) {

	p, err := pl.SubmitDraft(ctx, kind, title, description, proposerID, origin, payload)
	if err != nil {
		return nil, err
	}
	return pl.engine.Activate(ctx, p.ID)
}

// SubmitDraft screens a change and records it as a draft proposal.
// Voting does not open until ActivateProposal.
//
// Gate order: constitutional score first (a hard block is final and is
// itself audit-logged), then conflict detection against applied
// configuration and outstanding proposals. A blocking conflict freezes
// the subsystem and suspends the submission; a local-precedence
// conflict is settled automatically in the local side's favor, logged
// so the user is never silently opted out.
func (pl *Pipeline) SubmitDraft(ctx context.Context, kind datatypes.ChangeKind,
	title, description, proposerID string, origin datatypes.Origin,
	payload map[string]any) (*datatypes.Proposal, error) {

	staged := &datatypes.Proposal{
		ID:          uuid.NewString(),
		Kind:        kind,
		Title:       title,
		Description: description,
		Payload:     payload,
		ProposerID:  proposerID,
		Origin:      origin,
		CreatedAt:   pl.now().UTC(),
	}

	assessment := pl.monitor.Score(staged)
	if assessment.HardBlock {
		if _, err := pl.log.RecordConstitutionalBlock(staged.ID, assessment); err != nil {
			pl.logger.Error("failed to log a constitutional block", "error", err)
		}
		return nil, &datatypes.HardBlockError{Assessment: assessment}
	}

	report, err := pl.resolver.DetectConflicts(staged)
	if err != nil {
		return nil, err
	}
	if blocking := report.FirstBlocking(); blocking != nil {
		fs, err := pl.resolver.Enforce(report)
		if err != nil {
			return nil, err
		}
		if _, err := pl.log.RecordEmergencyFreeze(fs, datatypes.ActorSystem); err != nil {
			pl.logger.Error("failed to log an emergency freeze", "error", err)
		}
		return nil, &datatypes.ConflictError{Conflict: *blocking}
	}
	var autoResolved []datatypes.Conflict
	for _, c := range report.Conflicts {
		if c.Resolution != datatypes.ResolutionLocalPrecedence {
			continue
		}
		if origin == datatypes.OriginNetworked {
			// Local always wins; the networked value never enters the pool.
			if _, err := pl.log.RecordConflictResolution(&c,
				"networked value rejected, local configuration kept",
				datatypes.ActorSystem, ""); err != nil {
				pl.logger.Error("failed to log a conflict resolution", "error", err)
			}
			return nil, &datatypes.ConflictError{Conflict: c}
		}
		// The incoming change is local and the rival candidate is the
		// networked one: withdraw the networked proposal and let the
		// local submission proceed.
		_, err := pl.store.UpdateProposal(c.CandidateB.ProposalID, func(p *datatypes.Proposal) error {
			if p.Status.Terminal() {
				return nil
			}
			p.Status = datatypes.ProposalRejected
			return nil
		})
		if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
			return nil, fmt.Errorf("withdraw networked candidate %s: %w",
				c.CandidateB.ProposalID, err)
		}
		autoResolved = append(autoResolved, c)
	}

	p, err := pl.engine.CreateProposal(ctx, kind, title, description, proposerID, origin, payload)
	if err != nil {
		return nil, err
	}
	for i := range autoResolved {
		autoResolved[i].CandidateA.ProposalID = p.ID
		if _, err := pl.log.RecordConflictResolution(&autoResolved[i],
			"outstanding networked proposal rejected, local change kept",
			datatypes.ActorSystem, ""); err != nil {
			pl.logger.Error("failed to log a conflict resolution", "error", err)
		}
	}
	if len(assessment.Flags) > 0 {
		pl.logger.Warn("proposal admitted with constitutional flags",
			"proposal_id", p.ID,
			"flags", assessment.Flags,
			"overall_score", assessment.OverallScore,
		)
	}
	return p, nil
}

// ActivateProposal opens the voting window on a draft. The voting
// deadline is fixed here, not at submission.
func (pl *Pipeline) ActivateProposal(ctx context.Context, proposalID string) (*datatypes.Proposal, error) {
	return pl.engine.Activate(ctx, proposalID)
}

// CastVote records one weighted vote on an active proposal.
func (pl *Pipeline) CastVote(ctx context.Context, proposalID, identityID string,
	choice datatypes.VoteChoice, reasoning string) (*datatypes.Vote, error) {
	return pl.engine.CastVote(ctx, proposalID, identityID, choice, reasoning)
}

// FinalizeProposal settles a proposal past its voting deadline, running
// the integrity gate before any adoption is recorded.
//
// A voter set scoring below the freeze band halts the subsystem and
// suspends finalization; the proposal settles after investigation. A
// settled outcome is always audit-logged.
func (pl *Pipeline) FinalizeProposal(ctx context.Context, proposalID string) (*evolution.FinalizeResult, error) {
	integrityReport, err := pl.checker.CheckProposal(proposalID)
	if err != nil {
		return nil, err
	}
	if integrityReport.Recommendation == datatypes.IntegrityFreeze {
		fs := &datatypes.FreezeState{
			Frozen: true,
			Reason: fmt.Sprintf("integrity score %.2f on proposal %s",
				integrityReport.Score, proposalID),
			FrozenAt: pl.now().UTC(),
			FrozenBy: "integrity_checker",
		}
		if err := pl.store.SetFreeze(fs); err != nil {
			return nil, err
		}
		if _, err := pl.log.RecordEmergencyFreeze(fs, datatypes.ActorSystem); err != nil {
			pl.logger.Error("failed to log an emergency freeze", "error", err)
		}
		return nil, &datatypes.IntegrityError{Report: *integrityReport}
	}

	res, err := pl.engine.Finalize(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !res.Decided {
		return res, nil
	}

	p := res.Proposal
	if p.Status == datatypes.ProposalApproved {
		before := map[string]any{"target": p.TargetSurface()}
		after := map[string]any{"target": p.TargetSurface(), "value": p.TargetValue()}
		if _, err := pl.log.RecordAdoption(p, before, after, false); err != nil {
			pl.logger.Error("failed to log an adoption", "error", err)
		}
	} else {
		if _, err := pl.log.RecordRejection(p); err != nil {
			pl.logger.Error("failed to log a rejection", "error", err)
		}
	}
	if integrityReport.Recommendation != datatypes.IntegrityProceed {
		pl.logger.Warn("proposal settled under integrity caution",
			"proposal_id", proposalID,
			"integrity_score", integrityReport.Score,
			"recommendation", integrityReport.Recommendation,
		)
	}
	return res, nil
}

// VetoProposal withdraws a pending or active proposal on the critic's
// authority, before any voting outcome. The veto is final and is
// audit-logged as a critic_veto entry.
func (pl *Pipeline) VetoProposal(ctx context.Context, proposalID, reason string) (*datatypes.Proposal, error) {
	p, err := pl.store.UpdateProposal(proposalID, func(p *datatypes.Proposal) error {
		if p.Status.Terminal() {
			return fmt.Errorf("proposal %s is already %s: %w", p.ID, p.Status, datatypes.ErrWrongState)
		}
		p.Status = datatypes.ProposalRejected
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := pl.log.RecordCriticVeto(proposalID, reason); err != nil {
		pl.logger.Error("failed to log a critic veto", "error", err)
	}
	pl.logger.Info("proposal vetoed", "proposal_id", proposalID, "reason", reason)
	return p, nil
}

// ResolveConflict clears the subsystem freeze with an explicit user
// decision and audit-logs it. Freezes raised without conflict
// candidates (integrity freezes) are logged as unfreeze decisions.
func (pl *Pipeline) ResolveConflict(choice datatypes.ConflictChoice, decidedBy string) (*datatypes.Conflict, error) {
	fs, err := pl.store.GetFreeze()
	if err != nil {
		return nil, err
	}
	resolved, err := pl.resolver.ResolveFreeze(choice, decidedBy)
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		if _, err := pl.log.RecordConflictResolution(resolved, string(choice),
			datatypes.ActorUser, decidedBy); err != nil {
			pl.logger.Error("failed to log a conflict resolution", "error", err)
		}
	} else {
		if _, err := pl.log.RecordUnfreeze(fs, string(choice), decidedBy); err != nil {
			pl.logger.Error("failed to log an unfreeze", "error", err)
		}
	}
	return resolved, nil
}

// Sweep drives every deadline in the system: expired proposal voting
// windows settle (through the integrity gate) and amendment reflection
// and voting deadlines advance. The host calls this periodically.
func (pl *Pipeline) Sweep(ctx context.Context) error {
	now := pl.now().UTC()
	active, err := pl.store.ListProposals(datatypes.ProposalActive)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	for _, p := range active {
		if p.VotingDeadline.IsZero() || now.Before(p.VotingDeadline) {
			continue
		}
		if _, err := pl.FinalizeProposal(ctx, p.ID); err != nil {
			pl.logger.Warn("sweep could not settle a proposal",
				"proposal_id", p.ID, "error", err)
		}
	}

	if _, _, err := pl.protocol.Sweep(); err != nil {
		return err
	}
	return nil
}

// Freeze reports the current subsystem freeze state.
func (pl *Pipeline) Freeze() (*datatypes.FreezeState, error) {
	return pl.store.GetFreeze()
}

// RegisterIdentity adds or updates a mirror identity. Identity IDs
// become store key components, so the format is enforced here.
func (pl *Pipeline) RegisterIdentity(ident *datatypes.MirrorIdentity) error {
	if err := validation.ValidateIdentifier(ident.ID); err != nil {
		return datatypes.NewValidationError("id", err.Error())
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = pl.now().UTC()
	}
	return pl.store.PutIdentity(ident)
}

// RecordReflection bumps an identity's reflection count, feeding its
// future vote weight.
func (pl *Pipeline) RecordReflection(identityID string) (int, error) {
	return pl.store.RecordReflection(identityID)
}
