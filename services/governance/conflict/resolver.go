// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conflict arbitrates between changes that target the same
// configuration surface.
//
// The resolution policy is fixed, not configurable per call: local
// changes always take precedence over networked ones (automatically,
// but never silently), while collisions between two networked proposals
// or incompatible version requirements freeze the entire evolution
// subsystem until a human makes an explicit choice. There is no freeze
// timeout and no default winner.
package conflict

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

// FrozenByResolver marks freezes raised by conflict detection, as
// opposed to integrity freezes or manual ones.
const FrozenByResolver = "conflict_resolver"

// Store is the slice of the governance store the resolver needs.
type Store interface {
	ListProposals(statuses ...datatypes.ProposalStatus) ([]datatypes.Proposal, error)
	UpdateProposal(id string, fn func(*datatypes.Proposal) error) (*datatypes.Proposal, error)
	GetFreeze() (*datatypes.FreezeState, error)
	SetFreeze(fs *datatypes.FreezeState) error
}

// Resolver detects and arbitrates configuration conflicts.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in the store.
type Resolver struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default().With("component", "governance.conflict")
	}
	return &Resolver{store: store, logger: logger, now: time.Now}
}

// severityFor grades a conflict kind.
func severityFor(kind datatypes.ConflictKind) datatypes.Severity {
	switch kind {
	case datatypes.ConflictVersionIncompatibility:
		return datatypes.SeverityCritical
	case datatypes.ConflictNetworkedVsNetworked:
		return datatypes.SeverityHigh
	case datatypes.ConflictLocalVsNetworked:
		return datatypes.SeverityMedium
	default:
		return datatypes.SeverityLow
	}
}

// strategyFor maps a conflict kind to its fixed resolution strategy.
func strategyFor(kind datatypes.ConflictKind) (datatypes.ResolutionStrategy, bool) {
	switch kind {
	case datatypes.ConflictLocalVsNetworked:
		return datatypes.ResolutionLocalPrecedence, true
	case datatypes.ConflictParameterClash:
		return datatypes.ResolutionLatestWins, true
	default:
		return datatypes.ResolutionFreezeAndPresent, false
	}
}

// DetectConflicts checks an incoming proposal against already-adopted
// configuration and every outstanding proposal targeting the same
// surface.
//
// Detection never mutates state; pair it with Enforce to raise the
// freeze a blocking conflict demands.
func (r *Resolver) DetectConflicts(incoming *datatypes.Proposal) (*datatypes.ConflictReport, error) {
	report := &datatypes.ConflictReport{
		ProposalID: incoming.ID,
		CheckedAt:  r.now().UTC(),
	}
	target := incoming.TargetSurface()
	if target == "" {
		return report, nil
	}

	adopted, err := r.store.ListProposals(datatypes.ProposalApproved, datatypes.ProposalRolledOut)
	if err != nil {
		return nil, fmt.Errorf("conflict detection: list adopted proposals: %w", err)
	}
	outstanding, err := r.store.ListProposals(datatypes.ProposalActive)
	if err != nil {
		return nil, fmt.Errorf("conflict detection: list outstanding proposals: %w", err)
	}

	for _, p := range adopted {
		if p.ID == incoming.ID || p.TargetSurface() != target {
			continue
		}
		if sameValue(p.TargetValue(), incoming.TargetValue()) {
			continue
		}
		// Networked change colliding with applied local configuration:
		// local wins automatically.
		if incoming.Origin == datatypes.OriginNetworked && p.Origin == datatypes.OriginLocal {
			report.Conflicts = append(report.Conflicts,
				r.newConflict(datatypes.ConflictLocalVsNetworked, target, incoming, &p))
		}
	}

	for _, p := range outstanding {
		if p.ID == incoming.ID || p.TargetSurface() != target {
			continue
		}

		ra, rb := incoming.RequiredVersion(), p.RequiredVersion()
		if ra != "" && rb != "" && ra != rb {
			report.Conflicts = append(report.Conflicts,
				r.newConflict(datatypes.ConflictVersionIncompatibility, target, incoming, &p))
			continue
		}
		if sameValue(p.TargetValue(), incoming.TargetValue()) {
			continue
		}

		var kind datatypes.ConflictKind
		switch {
		case incoming.Origin == datatypes.OriginNetworked && p.Origin == datatypes.OriginNetworked:
			kind = datatypes.ConflictNetworkedVsNetworked
		case incoming.Origin == datatypes.OriginLocal && p.Origin == datatypes.OriginLocal:
			kind = datatypes.ConflictParameterClash
		default:
			kind = datatypes.ConflictLocalVsNetworked
		}
		report.Conflicts = append(report.Conflicts, r.newConflict(kind, target, incoming, &p))
	}

	for _, c := range report.Conflicts {
		r.logger.Warn("conflict detected",
			"conflict_id", c.ID,
			"kind", c.Kind,
			"target", c.Target,
			"resolution", c.Resolution,
			"auto_resolvable", c.AutoResolvable,
		)
	}
	return report, nil
}

func (r *Resolver) newConflict(kind datatypes.ConflictKind, target string,
	incoming, other *datatypes.Proposal) datatypes.Conflict {

	strategy, auto := strategyFor(kind)
	return datatypes.Conflict{
		ID:       uuid.NewString(),
		Kind:     kind,
		Severity: severityFor(kind),
		Target:   target,
		CandidateA: datatypes.ConflictCandidate{
			ProposalID: incoming.ID,
			Value:      incoming.TargetValue(),
			VoteWeight: incoming.VotesFor,
			CreatedAt:  incoming.CreatedAt,
		},
		CandidateB: datatypes.ConflictCandidate{
			ProposalID: other.ID,
			Value:      other.TargetValue(),
			VoteWeight: other.VotesFor,
			CreatedAt:  other.CreatedAt,
		},
		Resolution:     strategy,
		AutoResolvable: auto,
		DetectedAt:     r.now().UTC(),
	}
}

// Enforce applies a detection report's consequences: a blocking conflict
// freezes the evolution subsystem. Returns the raised freeze state, or
// nil when nothing blocks.
func (r *Resolver) Enforce(report *datatypes.ConflictReport) (*datatypes.FreezeState, error) {
	blocking := report.FirstBlocking()
	if blocking == nil {
		return nil, nil
	}
	fs := &datatypes.FreezeState{
		Frozen: true,
		Reason: fmt.Sprintf("%s conflict on %s awaiting explicit resolution",
			blocking.Kind, blocking.Target),
		Conflict: blocking,
		FrozenAt: r.now().UTC(),
		FrozenBy: FrozenByResolver,
	}
	if err := r.store.SetFreeze(fs); err != nil {
		return nil, fmt.Errorf("raise freeze for conflict %s: %w", blocking.ID, err)
	}
	r.logger.Warn("evolution subsystem frozen",
		"conflict_id", blocking.ID,
		"kind", blocking.Kind,
		"target", blocking.Target,
	)
	return fs, nil
}

// Frozen returns the current freeze state.
func (r *Resolver) Frozen() (*datatypes.FreezeState, error) {
	return r.store.GetFreeze()
}

// ResolveFreeze clears the freeze with an explicit user decision.
//
// The losing candidate proposals are marked rejected, the winner (if
// any) is left for normal adoption, and the freeze flag is cleared.
// Returns the resolved conflict so the caller can audit-log the
// decision; the resolver itself never writes log entries.
func (r *Resolver) ResolveFreeze(choice datatypes.ConflictChoice, decidedBy string) (*datatypes.Conflict, error) {
	if !choice.Valid() {
		return nil, datatypes.NewValidationError("choice", "unknown conflict choice")
	}
	if decidedBy == "" {
		return nil, datatypes.NewValidationError("decided_by", "an explicit decider is required")
	}

	fs, err := r.store.GetFreeze()
	if err != nil {
		return nil, fmt.Errorf("resolve freeze: %w", err)
	}
	if !fs.Frozen {
		return nil, fmt.Errorf("subsystem is not frozen: %w", datatypes.ErrWrongState)
	}
	conflict := fs.Conflict

	var losers []string
	if conflict != nil {
		switch choice {
		case datatypes.ChoiceCandidateA:
			losers = []string{conflict.CandidateB.ProposalID}
		case datatypes.ChoiceCandidateB:
			losers = []string{conflict.CandidateA.ProposalID}
		case datatypes.ChoiceRejectBoth:
			losers = []string{conflict.CandidateA.ProposalID, conflict.CandidateB.ProposalID}
		}
	}
	for _, id := range losers {
		if id == "" {
			continue
		}
		_, err := r.store.UpdateProposal(id, func(p *datatypes.Proposal) error {
			if p.Status.Terminal() {
				return nil
			}
			p.Status = datatypes.ProposalRejected
			return nil
		})
		if errors.Is(err, datatypes.ErrNotFound) {
			// A suspended submission was never admitted to the pool;
			// there is nothing to reject.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reject losing candidate %s: %w", id, err)
		}
	}

	if err := r.store.SetFreeze(&datatypes.FreezeState{Frozen: false}); err != nil {
		return nil, fmt.Errorf("clear freeze: %w", err)
	}
	r.logger.Info("freeze resolved",
		"choice", choice,
		"decided_by", decidedBy,
	)
	return conflict, nil
}

// sameValue compares candidate values structurally. Payload values come
// back from JSON, so numbers are float64 and maps are map[string]any.
func sameValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
