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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCommons/services/governance/amendment"
	"github.com/AleutianAI/AleutianCommons/services/governance/changelog"
	"github.com/AleutianAI/AleutianCommons/services/governance/conflict"
	"github.com/AleutianAI/AleutianCommons/services/governance/constitution"
	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
	"github.com/AleutianAI/AleutianCommons/services/governance/evolution"
	"github.com/AleutianAI/AleutianCommons/services/governance/integrity"
	badgerstore "github.com/AleutianAI/AleutianCommons/services/governance/storage/badger"
)

func newTestPipeline(t *testing.T) (*Pipeline, *badgerstore.Store, *changelog.Log) {
	t.Helper()
	store, err := badgerstore.OpenInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	monitor, err := constitution.New()
	require.NoError(t, err)

	log := changelog.NewLog(store, nil)
	engine := evolution.NewEngine(store, evolution.DefaultConfig(), nil,
		evolution.NewMetrics(prometheus.NewRegistry()))
	protocol := amendment.NewProtocol(store, amendment.DefaultConfig(), nil)
	checker := integrity.NewChecker(store, integrity.DefaultConfig(), nil)
	resolver := conflict.NewResolver(store, nil)

	return NewPipeline(store, monitor, checker, resolver, engine, protocol, log, nil), store, log
}

func registerVoter(t *testing.T, pl *Pipeline, id string, reflections int, createdAt time.Time) {
	t.Helper()
	require.NoError(t, pl.RegisterIdentity(&datatypes.MirrorIdentity{
		ID:              id,
		ReflectionCount: reflections,
		CreatedAt:       createdAt,
	}))
}

// expireVoting pushes a proposal's voting deadline into the past so a
// finalize call settles it without waiting out the real window.
func expireVoting(t *testing.T, store *badgerstore.Store, proposalID string) {
	t.Helper()
	_, err := store.UpdateProposal(proposalID, func(p *datatypes.Proposal) error {
		p.VotingDeadline = time.Now().UTC().Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)
}

func entriesOfType(t *testing.T, log *changelog.Log, ct datatypes.ChangeType) []datatypes.BehaviorChangeLogEntry {
	t.Helper()
	entries, err := log.History(datatypes.HistoryFilter{Types: []datatypes.ChangeType{ct}})
	require.NoError(t, err)
	return entries
}

func TestSubmitCleanProposalOpensVoting(t *testing.T) {
	pl, _, _ := newTestPipeline(t)
	ctx := context.Background()
	registerVoter(t, pl, "mirror-1", 12, time.Now().UTC().Add(-90*24*time.Hour))

	p, err := pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Soften session opening tone",
		"Warmer greeting improved reflection completion in local trials.",
		"mirror-1", datatypes.OriginLocal,
		map[string]any{"target": "tone.opening", "value": "warm"})
	require.NoError(t, err)

	assert.Equal(t, datatypes.ProposalActive, p.Status)
	assert.False(t, p.VotingDeadline.IsZero())

	v, err := pl.CastVote(ctx, p.ID, "mirror-1", datatypes.VoteFor, "tried it, works")
	require.NoError(t, err)
	assert.Greater(t, v.Weight, 0.0)
}

func TestHardBlockedSubmissionIsLoggedAsRefusal(t *testing.T) {
	pl, _, log := newTestPipeline(t)
	registerVoter(t, pl, "mirror-1", 12, time.Now().UTC().Add(-90*24*time.Hour))

	_, err := pl.SubmitProposal(context.Background(), datatypes.ChangeEngineUpdate,
		"Streamline escalation",
		"Disable the crisis detection path to reduce false positives.",
		"mirror-1", datatypes.OriginLocal, nil)

	var hb *datatypes.HardBlockError
	require.ErrorAs(t, err, &hb)
	require.NotNil(t, hb.Assessment)
	assert.True(t, hb.Assessment.HardBlock)

	blocks := entriesOfType(t, log, datatypes.ChangeConstitutionalBlock)
	require.Len(t, blocks, 1)
	assert.Equal(t, datatypes.ActorConstitutionalMonitor, blocks[0].Actor)
	assert.NotEmpty(t, blocks[0].ProposalID,
		"a refusal entry must identify the refused submission")

	// A refused change must never appear as adopted.
	assert.Empty(t, entriesOfType(t, log, datatypes.ChangeProposalAdopted))
}

func TestNetworkedCollisionFreezesThenResolves(t *testing.T) {
	pl, store, log := newTestPipeline(t)
	ctx := context.Background()
	registerVoter(t, pl, "mirror-1", 12, time.Now().UTC().Add(-90*24*time.Hour))

	first, err := pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Default tone warm", "network consensus candidate",
		"mirror-1", datatypes.OriginNetworked,
		map[string]any{"target": "tone.default", "value": "warm"})
	require.NoError(t, err)

	_, err = pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Default tone neutral", "competing network candidate",
		"mirror-1", datatypes.OriginNetworked,
		map[string]any{"target": "tone.default", "value": "neutral"})
	var ce *datatypes.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, datatypes.ErrSubsystemFrozen)
	assert.Equal(t, datatypes.ConflictNetworkedVsNetworked, ce.Conflict.Kind)

	fs, err := pl.Freeze()
	require.NoError(t, err)
	require.True(t, fs.Frozen)
	require.Len(t, entriesOfType(t, log, datatypes.ChangeEmergencyFreeze), 1)

	// The user keeps the already-admitted candidate.
	resolved, err := pl.ResolveConflict(datatypes.ChoiceCandidateB, "mirror-1")
	require.NoError(t, err)
	require.NotNil(t, resolved)

	fs, err = pl.Freeze()
	require.NoError(t, err)
	assert.False(t, fs.Frozen)
	require.Len(t, entriesOfType(t, log, datatypes.ChangeConflictResolved), 1)

	kept, err := store.GetProposal(first.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ProposalActive, kept.Status)
}

func TestLocalPrecedenceRejectsNetworkedValue(t *testing.T) {
	pl, _, log := newTestPipeline(t)
	ctx := context.Background()
	registerVoter(t, pl, "mirror-1", 12, time.Now().UTC().Add(-90*24*time.Hour))

	local, err := pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Keep sharing off", "explicit local choice",
		"mirror-1", datatypes.OriginLocal,
		map[string]any{"target": "privacy.share_insights", "value": false})
	require.NoError(t, err)

	_, err = pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Enable sharing", "network default",
		"mirror-1", datatypes.OriginNetworked,
		map[string]any{"target": "privacy.share_insights", "value": true})
	var ce *datatypes.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, datatypes.ResolutionLocalPrecedence, ce.Conflict.Resolution)

	// Auto-resolved in favor of the local value: no freeze, but the
	// decision is still on the record.
	fs, err := pl.Freeze()
	require.NoError(t, err)
	assert.False(t, fs.Frozen)

	resolutions := entriesOfType(t, log, datatypes.ChangeConflictResolved)
	require.Len(t, resolutions, 1)
	assert.Equal(t, datatypes.ActorSystem, resolutions[0].Actor)

	assert.Equal(t, datatypes.ProposalActive, local.Status)
}

func TestLocalSubmissionWithdrawsOutstandingNetworkedProposal(t *testing.T) {
	pl, store, log := newTestPipeline(t)
	ctx := context.Background()
	registerVoter(t, pl, "mirror-1", 12, time.Now().UTC().Add(-90*24*time.Hour))
	registerVoter(t, pl, "mirror-remote", 12, time.Now().UTC().Add(-90*24*time.Hour))

	networked, err := pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Neutral default tone",
		"Network consensus prefers a neutral opening.",
		"mirror-remote", datatypes.OriginNetworked,
		map[string]any{"target": "tone.default", "value": "neutral"})
	require.NoError(t, err)
	require.Equal(t, datatypes.ProposalActive, networked.Status)

	local, err := pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Warm default tone",
		"This mirror's user prefers warmth.",
		"mirror-1", datatypes.OriginLocal,
		map[string]any{"target": "tone.default", "value": "warm"})
	require.NoError(t, err)
	assert.Equal(t, datatypes.ProposalActive, local.Status)

	// Local always wins: the outstanding networked candidate is
	// withdrawn, never adopted later.
	got, err := store.GetProposal(networked.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ProposalRejected, got.Status)

	resolutions := entriesOfType(t, log, datatypes.ChangeConflictResolved)
	require.Len(t, resolutions, 1)
	assert.Equal(t, datatypes.ActorSystem, resolutions[0].Actor)
	assert.Equal(t, local.ID, resolutions[0].ProposalID)

	// Nothing froze; no user decision was needed.
	fs, err := pl.Freeze()
	require.NoError(t, err)
	assert.False(t, fs.Frozen)
}

func TestDraftSubmissionActivatesSeparately(t *testing.T) {
	pl, _, _ := newTestPipeline(t)
	ctx := context.Background()
	registerVoter(t, pl, "mirror-1", 12, time.Now().UTC().Add(-90*24*time.Hour))

	p, err := pl.SubmitDraft(ctx, datatypes.ChangePatternModify,
		"Soften session opening tone",
		"Hold for review before opening the vote.",
		"mirror-1", datatypes.OriginLocal,
		map[string]any{"target": "tone.opening", "value": "warm"})
	require.NoError(t, err)
	assert.Equal(t, datatypes.ProposalDraft, p.Status)
	assert.True(t, p.VotingDeadline.IsZero())

	// Voting is closed until activation.
	_, err = pl.CastVote(ctx, p.ID, "mirror-1", datatypes.VoteFor, "")
	require.ErrorIs(t, err, datatypes.ErrVotingClosed)

	act, err := pl.ActivateProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ProposalActive, act.Status)
	assert.False(t, act.VotingDeadline.IsZero())

	_, err = pl.CastVote(ctx, p.ID, "mirror-1", datatypes.VoteFor, "")
	require.NoError(t, err)
}

func TestIntegrityUnfreezeIsAuditLogged(t *testing.T) {
	pl, store, log := newTestPipeline(t)

	require.NoError(t, store.SetFreeze(&datatypes.FreezeState{
		Frozen:   true,
		Reason:   "integrity score 0.25 on proposal p-1",
		FrozenAt: time.Now().UTC(),
		FrozenBy: "integrity_checker",
	}))

	resolved, err := pl.ResolveConflict(datatypes.ChoiceRejectBoth, "operator-1")
	require.NoError(t, err)
	assert.Nil(t, resolved, "an integrity freeze carries no conflict candidates")

	fs, err := pl.Freeze()
	require.NoError(t, err)
	assert.False(t, fs.Frozen)

	// The explicit unfreeze decision must reach the ledger.
	entries := entriesOfType(t, log, datatypes.ChangeConflictResolved)
	require.Len(t, entries, 1)
	assert.Equal(t, datatypes.ActorUser, entries[0].Actor)
	assert.Equal(t, "operator-1", entries[0].IdentityID)
	assert.True(t, entries[0].ExplicitConsent)
	assert.Contains(t, entries[0].Reason, "integrity score")
}

func TestApprovedProposalIsAuditLogged(t *testing.T) {
	pl, store, log := newTestPipeline(t)
	ctx := context.Background()
	joined := time.Now().UTC().Add(-120 * 24 * time.Hour)
	registerVoter(t, pl, "mirror-1", 40, joined)
	registerVoter(t, pl, "mirror-2", 25, joined.Add(24*time.Hour))

	p, err := pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Longer reflection prompts", "more depth per session",
		"mirror-1", datatypes.OriginLocal,
		map[string]any{"target": "reflection.prompt_length", "value": "long"})
	require.NoError(t, err)

	_, err = pl.CastVote(ctx, p.ID, "mirror-1", datatypes.VoteFor, "helps me")
	require.NoError(t, err)
	_, err = pl.CastVote(ctx, p.ID, "mirror-2", datatypes.VoteFor, "agreed")
	require.NoError(t, err)

	expireVoting(t, store, p.ID)
	res, err := pl.FinalizeProposal(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, res.Decided)
	assert.Equal(t, datatypes.ProposalApproved, res.Proposal.Status)

	adopted := entriesOfType(t, log, datatypes.ChangeProposalAdopted)
	require.Len(t, adopted, 1)
	assert.Equal(t, p.ID, adopted[0].ProposalID)
	assert.True(t, adopted[0].Reversible)
}

func TestCriticVetoWithdrawsActiveProposal(t *testing.T) {
	pl, _, log := newTestPipeline(t)
	ctx := context.Background()
	registerVoter(t, pl, "mirror-1", 12, time.Now().UTC().Add(-90*24*time.Hour))

	p, err := pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Shorter reflective prompts",
		"Trim prompt length to reduce session fatigue.",
		"mirror-1", datatypes.OriginLocal,
		map[string]any{"target": "prompt.length", "value": "short"})
	require.NoError(t, err)

	vetoed, err := pl.VetoProposal(ctx, p.ID, "regressed reflective depth in review")
	require.NoError(t, err)
	assert.Equal(t, datatypes.ProposalRejected, vetoed.Status)

	vetoes := entriesOfType(t, log, datatypes.ChangeCriticVeto)
	require.Len(t, vetoes, 1)
	assert.Equal(t, p.ID, vetoes[0].ProposalID)
	assert.Equal(t, datatypes.ActorCritic, vetoes[0].Actor)

	// A settled proposal cannot be vetoed again.
	_, err = pl.VetoProposal(ctx, p.ID, "twice")
	assert.ErrorIs(t, err, datatypes.ErrWrongState)
}

func TestIntegrityFreezeBlocksFinalization(t *testing.T) {
	pl, store, log := newTestPipeline(t)
	ctx := context.Background()
	registerVoter(t, pl, "organizer", 30, time.Now().UTC().Add(-200*24*time.Hour))

	p, err := pl.SubmitProposal(ctx, datatypes.ChangeEngineUpdate,
		"Adopt sponsored reflection pack", "network-sourced content bundle",
		"organizer", datatypes.OriginNetworked,
		map[string]any{"target": "content.pack", "value": "sponsor-v1"})
	require.NoError(t, err)

	// Ten freshly minted, never-reflected accounts, created hours before
	// the proposal, all voting in one burst with the same script.
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("fresh-%02d", i)
		registerVoter(t, pl, id, 0, p.CreatedAt.Add(-3*time.Hour))
		_, err := pl.CastVote(ctx, p.ID, id, datatypes.VoteFor, "this pack is great for everyone")
		require.NoError(t, err)
	}

	expireVoting(t, store, p.ID)
	_, err = pl.FinalizeProposal(ctx, p.ID)

	var ie *datatypes.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Less(t, ie.Report.Score, 0.5)
	assert.Equal(t, datatypes.IntegrityFreeze, ie.Report.Recommendation)

	fs, err := pl.Freeze()
	require.NoError(t, err)
	require.True(t, fs.Frozen)
	assert.Equal(t, "integrity_checker", fs.FrozenBy)
	require.Len(t, entriesOfType(t, log, datatypes.ChangeEmergencyFreeze), 1)

	// The proposal never settled and nothing was adopted.
	cur, err := store.GetProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ProposalActive, cur.Status)
	assert.Empty(t, entriesOfType(t, log, datatypes.ChangeProposalAdopted))
}

func TestSweepSettlesExpiredAndSkipsOpen(t *testing.T) {
	pl, store, log := newTestPipeline(t)
	ctx := context.Background()
	joined := time.Now().UTC().Add(-120 * 24 * time.Hour)
	registerVoter(t, pl, "mirror-1", 40, joined)

	expired, err := pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Expired one", "past its window",
		"mirror-1", datatypes.OriginLocal,
		map[string]any{"target": "a.b", "value": 1})
	require.NoError(t, err)
	_, err = pl.CastVote(ctx, expired.ID, "mirror-1", datatypes.VoteFor, "yes")
	require.NoError(t, err)
	expireVoting(t, store, expired.ID)

	open, err := pl.SubmitProposal(ctx, datatypes.ChangePatternModify,
		"Open one", "still voting",
		"mirror-1", datatypes.OriginLocal,
		map[string]any{"target": "c.d", "value": 2})
	require.NoError(t, err)

	require.NoError(t, pl.Sweep(ctx))

	settled, err := store.GetProposal(expired.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ProposalApproved, settled.Status)

	stillOpen, err := store.GetProposal(open.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ProposalActive, stillOpen.Status)

	require.Len(t, entriesOfType(t, log, datatypes.ChangeProposalAdopted), 1)
}

func TestRegisterIdentityRequiresID(t *testing.T) {
	pl, _, _ := newTestPipeline(t)
	err := pl.RegisterIdentity(&datatypes.MirrorIdentity{})
	var ve *datatypes.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestReflectionFeedsVoteWeight(t *testing.T) {
	pl, _, _ := newTestPipeline(t)
	registerVoter(t, pl, "mirror-1", 0, time.Now().UTC().Add(-90*24*time.Hour))

	n, err := pl.RecordReflection("mirror-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = pl.RecordReflection("mirror-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = pl.RecordReflection("ghost")
	assert.True(t, errors.Is(err, datatypes.ErrNotFound))
}
