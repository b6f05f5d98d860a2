// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evolution is the stateful core of the governance pipeline.
//
// The engine owns proposal and vote records, computes activity-weighted
// tallies, determines consensus at finalization, and manages staged
// version rollout. Deadlines are pure data: nothing here schedules
// itself, and the host service drives deadline evaluation through the
// periodic Sweep entry point.
package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
	badgerstore "github.com/AleutianAI/AleutianCommons/services/governance/storage/badger"
)

// ===== Configuration =====

// Config holds the engine's consensus parameters.
type Config struct {
	// ConsensusThreshold is the weighted "for" fraction a proposal needs
	// at finalization.
	ConsensusThreshold float64

	// VotingPeriod is how long voting stays open after activation.
	VotingPeriod time.Duration

	// TracingEnabled turns span creation on.
	TracingEnabled bool
}

// DefaultConfig returns the standard consensus parameters.
func DefaultConfig() Config {
	return Config{
		ConsensusThreshold: datatypes.DefaultConsensusThreshold,
		VotingPeriod:       datatypes.VotingPeriod,
	}
}

// VoteWeight computes the activity weight of one vote:
//
//	max(0.1, ln(1 + reflections) / ln(1 + maxReflections))
//
// The logarithm caps the advantage of extreme activity and the floor
// guarantees every participant some voice. With no recorded activity in
// the whole system the weight is the full 1.0: there is no activity
// signal to discount by.
func VoteWeight(reflections, maxReflections int) float64 {
	if maxReflections <= 0 {
		return datatypes.MaxVoteWeight
	}
	w := math.Log(1+float64(reflections)) / math.Log(1+float64(maxReflections))
	if w < datatypes.MinVoteWeight {
		return datatypes.MinVoteWeight
	}
	if w > datatypes.MaxVoteWeight {
		return datatypes.MaxVoteWeight
	}
	return w
}

// ===== Engine =====

// Engine drives the proposal lifecycle: draft, activate, vote, finalize,
// and staged version rollout.
//
// # Thread Safety
//
// Safe for concurrent use; all state transitions are single store
// transactions.
type Engine struct {
	store   *badgerstore.Store
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  *Tracer
	now     func() time.Time
}

// NewEngine constructs the engine. A nil metrics registers into the
// default Prometheus registry; tests pass their own registry.
func NewEngine(store *badgerstore.Store, cfg Config, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default().With("component", "governance.evolution")
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.DefaultRegisterer)
	}
	return &Engine{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  NewTracer(logger, cfg.TracingEnabled),
		now:     time.Now,
	}
}

// CreateProposal records a new draft proposal.
//
// Drafts accept no votes; Activate opens the voting window.
func (e *Engine) CreateProposal(ctx context.Context, kind datatypes.ChangeKind,
	title, description, proposerID string, origin datatypes.Origin,
	payload map[string]any) (*datatypes.Proposal, error) {

	ctx, span := e.tracer.StartOp(ctx, "create_proposal", "")
	p, err := e.createProposal(kind, title, description, proposerID, origin, payload)
	e.tracer.EndOp(span, err)
	if err != nil {
		return nil, err
	}

	e.metrics.ProposalsTotal.WithLabelValues(string(kind), "created").Inc()
	LoggerWithTrace(ctx, e.logger).Info("proposal created",
		"proposal_id", p.ID,
		"kind", p.Kind,
		"origin", p.Origin,
	)
	return p, nil
}

func (e *Engine) createProposal(kind datatypes.ChangeKind, title, description,
	proposerID string, origin datatypes.Origin,
	payload map[string]any) (*datatypes.Proposal, error) {

	if !kind.Valid() {
		return nil, datatypes.NewValidationError("kind", fmt.Sprintf("unknown change kind %q", kind))
	}
	if title == "" {
		return nil, datatypes.NewValidationError("title", "title is required")
	}
	if origin != datatypes.OriginLocal && origin != datatypes.OriginNetworked {
		return nil, datatypes.NewValidationError("origin", fmt.Sprintf("unknown origin %q", origin))
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, datatypes.NewValidationError("payload", "payload is not serializable")
		}
		if len(raw) > datatypes.MaxPayloadBytes {
			return nil, datatypes.NewValidationError("payload",
				fmt.Sprintf("payload exceeds %d bytes", datatypes.MaxPayloadBytes))
		}
	}

	p := &datatypes.Proposal{
		ID:                 uuid.NewString(),
		Kind:               kind,
		Title:              title,
		Description:        description,
		Payload:            payload,
		ProposerID:         proposerID,
		Origin:             origin,
		Status:             datatypes.ProposalDraft,
		ConsensusThreshold: e.cfg.ConsensusThreshold,
		CreatedAt:          e.now().UTC(),
	}
	if err := e.store.CreateProposal(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Activate opens voting on a draft, setting the voting deadline.
func (e *Engine) Activate(ctx context.Context, proposalID string) (*datatypes.Proposal, error) {
	ctx, span := e.tracer.StartOp(ctx, "activate", proposalID)
	deadline := e.now().UTC().Add(e.cfg.VotingPeriod)
	p, err := e.store.UpdateProposal(proposalID, func(p *datatypes.Proposal) error {
		if p.Status != datatypes.ProposalDraft {
			return fmt.Errorf("proposal %s is %s, not draft: %w",
				proposalID, p.Status, datatypes.ErrWrongState)
		}
		p.Status = datatypes.ProposalActive
		p.VotingDeadline = deadline
		return nil
	})
	e.tracer.EndOp(span, err)
	if err != nil {
		return nil, err
	}

	e.metrics.ProposalsTotal.WithLabelValues(string(p.Kind), "activated").Inc()
	LoggerWithTrace(ctx, e.logger).Info("voting opened",
		"proposal_id", p.ID,
		"voting_deadline", p.VotingDeadline,
	)
	return p, nil
}

// CastVote records one weighted vote.
//
// The weight is computed at cast time against the current system-wide
// reflection maximum, inside the same transaction that writes the vote
// and the tally.
func (e *Engine) CastVote(ctx context.Context, proposalID, identityID string,
	choice datatypes.VoteChoice, reasoning string) (*datatypes.Vote, error) {

	ctx, span := e.tracer.StartOp(ctx, "cast_vote", proposalID)
	if !choice.Valid() {
		err := datatypes.NewValidationError("choice", fmt.Sprintf("unknown vote choice %q", choice))
		e.tracer.EndOp(span, err)
		return nil, err
	}

	vote, err := e.store.CastVote(proposalID, identityID, choice, reasoning,
		e.now().UTC(), uuid.NewString(), VoteWeight)
	e.tracer.EndOp(span, err)
	if err != nil {
		e.metrics.VotesTotal.WithLabelValues(string(choice), "error").Inc()
		return nil, err
	}

	e.metrics.VotesTotal.WithLabelValues(string(choice), "success").Inc()
	e.metrics.VoteWeight.Observe(vote.Weight)
	LoggerWithTrace(ctx, e.logger).Info("vote cast",
		"proposal_id", proposalID,
		"identity_id", identityID,
		"choice", choice,
		"weight", vote.Weight,
	)
	return vote, nil
}

// FinalizeResult reports what Finalize did to one proposal.
type FinalizeResult struct {
	Proposal *datatypes.Proposal

	// Decided is true when this call moved the proposal to approved or
	// rejected. False for a proposal still inside its voting window or
	// one already finalized.
	Decided bool
}

// Finalize settles an active proposal whose voting deadline has passed.
//
// Idempotent: an already-settled proposal or one still inside its
// voting window is returned unchanged with Decided=false. Settling is
// adoption, so it is refused while the subsystem is frozen.
func (e *Engine) Finalize(ctx context.Context, proposalID string) (*FinalizeResult, error) {
	ctx, span := e.tracer.StartOp(ctx, "finalize", proposalID)
	started := time.Now()
	now := e.now().UTC()

	var prev datatypes.ProposalStatus
	p, err := e.store.UpdateProposalGated(proposalID, func(p *datatypes.Proposal) error {
		prev = p.Status
		if p.Status.Terminal() {
			return nil
		}
		if p.Status != datatypes.ProposalActive {
			return fmt.Errorf("proposal %s is %s, not active: %w",
				proposalID, p.Status, datatypes.ErrWrongState)
		}
		if p.VotingDeadline.IsZero() || now.Before(p.VotingDeadline) {
			return nil
		}
		if p.Passing() {
			p.Status = datatypes.ProposalApproved
		} else {
			p.Status = datatypes.ProposalRejected
		}
		return nil
	})
	e.tracer.EndOp(span, err)
	e.metrics.FinalizeDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if isFrozen(err) {
			e.metrics.FrozenRejections.Inc()
		}
		return nil, err
	}

	result := &FinalizeResult{Proposal: p, Decided: p.Status != prev}
	if result.Decided {
		event := "rejected"
		if p.Status == datatypes.ProposalApproved {
			event = "approved"
		}
		e.metrics.ProposalsTotal.WithLabelValues(string(p.Kind), event).Inc()
		LoggerWithTrace(ctx, e.logger).Info("proposal finalized",
			"proposal_id", p.ID,
			"status", p.Status,
			"approval_ratio", p.ApprovalRatio(),
		)
	}
	return result, nil
}

// Sweep finalizes every active proposal whose voting deadline has
// passed. The host service calls this periodically; the engine never
// schedules itself.
//
// Returns the settled results. A frozen subsystem stops the sweep
// early; the remaining proposals settle on a later pass.
func (e *Engine) Sweep(ctx context.Context) ([]FinalizeResult, error) {
	now := e.now().UTC()
	active, err := e.store.ListProposals(datatypes.ProposalActive)
	if err != nil {
		return nil, fmt.Errorf("sweep: list active proposals: %w", err)
	}

	var settled []FinalizeResult
	for _, p := range active {
		if p.VotingDeadline.IsZero() || now.Before(p.VotingDeadline) {
			continue
		}
		res, err := e.Finalize(ctx, p.ID)
		if err != nil {
			if isFrozen(err) {
				e.logger.Warn("sweep halted: subsystem frozen", "pending", p.ID)
				return settled, err
			}
			e.logger.Warn("sweep failed to finalize a proposal",
				"proposal_id", p.ID, "error", err)
			continue
		}
		if res.Decided {
			settled = append(settled, *res)
			e.metrics.SweepFinalized.Inc()
		}
	}
	return settled, nil
}

// ===== Versions =====

// CreateVersion bundles approved proposals into a new staged release.
//
// Every bundled proposal must exist and be approved. Creation is
// adoption and is refused while the subsystem is frozen.
func (e *Engine) CreateVersion(ctx context.Context, semver, description string,
	proposalIDs []string) (*datatypes.Version, error) {

	ctx, span := e.tracer.StartOp(ctx, "create_version", "")

	if semver == "" {
		err := datatypes.NewValidationError("semver", "a version string is required")
		e.tracer.EndOp(span, err)
		return nil, err
	}
	for _, id := range proposalIDs {
		p, err := e.store.GetProposal(id)
		if err != nil {
			e.tracer.EndOp(span, err)
			return nil, err
		}
		if p.Status != datatypes.ProposalApproved {
			err := fmt.Errorf("proposal %s is %s, not approved: %w",
				id, p.Status, datatypes.ErrWrongState)
			e.tracer.EndOp(span, err)
			return nil, err
		}
	}

	v := &datatypes.Version{
		ID:          uuid.NewString(),
		SemVer:      semver,
		Description: description,
		ProposalIDs: proposalIDs,
		CreatedAt:   e.now().UTC(),
	}
	err := e.store.CreateVersion(v)
	e.tracer.EndOp(span, err)
	if err != nil {
		if isFrozen(err) {
			e.metrics.FrozenRejections.Inc()
		}
		return nil, err
	}

	e.metrics.RolloutStage.WithLabelValues(v.ID).Set(0)
	LoggerWithTrace(ctx, e.logger).Info("version created",
		"version_id", v.ID,
		"semver", v.SemVer,
		"proposals", len(v.ProposalIDs),
	)
	return v, nil
}

// Rollout advances a version to the next staged percentage. Reaching
// 100 activates the version and deactivates the previously active one.
func (e *Engine) Rollout(ctx context.Context, versionID string, pct int) (*datatypes.Version, error) {
	ctx, span := e.tracer.StartOp(ctx, "rollout", "")
	v, err := e.store.AdvanceRollout(versionID, pct)
	e.tracer.EndOp(span, err)
	if err != nil {
		if isFrozen(err) {
			e.metrics.FrozenRejections.Inc()
		}
		return nil, err
	}

	e.metrics.RolloutStage.WithLabelValues(v.ID).Set(float64(v.RolloutPercent))
	LoggerWithTrace(ctx, e.logger).Info("rollout advanced",
		"version_id", v.ID,
		"percent", v.RolloutPercent,
		"active", v.Active,
	)
	return v, nil
}

// ActiveVersion returns the currently live version, or ErrNotFound when
// no version has completed rollout yet.
func (e *Engine) ActiveVersion(ctx context.Context) (*datatypes.Version, error) {
	_, span := e.tracer.StartOp(ctx, "active_version", "")
	v, err := e.store.ActiveVersion()
	e.tracer.EndOp(span, err)
	return v, err
}

// GetProposal returns one proposal by ID.
func (e *Engine) GetProposal(_ context.Context, id string) (*datatypes.Proposal, error) {
	return e.store.GetProposal(id)
}

// ListProposals returns proposals, optionally filtered by status.
func (e *Engine) ListProposals(_ context.Context, statuses ...datatypes.ProposalStatus) ([]datatypes.Proposal, error) {
	return e.store.ListProposals(statuses...)
}

func isFrozen(err error) bool {
	return errors.Is(err, datatypes.ErrSubsystemFrozen)
}
