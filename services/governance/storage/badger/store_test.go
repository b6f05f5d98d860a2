// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCommons/services/governance/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedIdentity(t *testing.T, s *Store, id string, reflections int) {
	t.Helper()
	require.NoError(t, s.PutIdentity(&datatypes.MirrorIdentity{
		ID:              id,
		CreatedAt:       time.Now().Add(-30 * 24 * time.Hour),
		ReflectionCount: reflections,
	}))
}

func seedActiveProposal(t *testing.T, s *Store, now time.Time) *datatypes.Proposal {
	t.Helper()
	p := &datatypes.Proposal{
		ID:                 uuid.NewString(),
		Kind:               datatypes.ChangePatternAdd,
		Title:              "add late-night rumination pattern",
		Status:             datatypes.ProposalActive,
		ConsensusThreshold: datatypes.DefaultConsensusThreshold,
		CreatedAt:          now.Add(-time.Hour),
		VotingDeadline:     now.Add(datatypes.VotingPeriod),
	}
	require.NoError(t, s.CreateProposal(p))
	return p
}

// equalWeight is a weight policy for tests that ignores activity.
func equalWeight(_, _ int) float64 { return 1.0 }

func TestCastVoteUpdatesTallyAtomically(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	p := seedActiveProposal(t, s, now)
	seedIdentity(t, s, "mirror-a", 10)

	vote, err := s.CastVote(p.ID, "mirror-a", datatypes.VoteFor, "", now, uuid.NewString(), equalWeight)
	require.NoError(t, err)
	assert.Equal(t, 1.0, vote.Weight)

	got, err := s.GetProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.VotesFor)
	assert.Equal(t, 0.0, got.VotesAgainst)
}

func TestCastVoteRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	p := seedActiveProposal(t, s, now)
	seedIdentity(t, s, "mirror-a", 10)

	_, err := s.CastVote(p.ID, "mirror-a", datatypes.VoteFor, "", now, uuid.NewString(), equalWeight)
	require.NoError(t, err)

	_, err = s.CastVote(p.ID, "mirror-a", datatypes.VoteAgainst, "", now, uuid.NewString(), equalWeight)
	require.ErrorIs(t, err, datatypes.ErrAlreadyVoted)

	// Tally changed only once.
	got, err := s.GetProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.VotesFor)
	assert.Equal(t, 0.0, got.VotesAgainst)
}

func TestCastVoteConcurrentDuplicates(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	p := seedActiveProposal(t, s, now)
	seedIdentity(t, s, "mirror-a", 10)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.CastVote(p.ID, "mirror-a", datatypes.VoteFor, "", now, uuid.NewString(), equalWeight)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent vote may land")

	got, err := s.GetProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.VotesFor)
}

func TestCastVoteClosedAndMissing(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	seedIdentity(t, s, "mirror-a", 3)

	_, err := s.CastVote("no-such", "mirror-a", datatypes.VoteFor, "", now, uuid.NewString(), equalWeight)
	require.ErrorIs(t, err, datatypes.ErrNotFound)

	p := seedActiveProposal(t, s, now)
	past := now.Add(datatypes.VotingPeriod + time.Hour)
	_, err = s.CastVote(p.ID, "mirror-a", datatypes.VoteFor, "", past, uuid.NewString(), equalWeight)
	require.ErrorIs(t, err, datatypes.ErrVotingClosed)
}

func TestAbstainExcludedFromDenominator(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	p := seedActiveProposal(t, s, now)
	seedIdentity(t, s, "mirror-a", 1)
	seedIdentity(t, s, "mirror-b", 1)

	_, err := s.CastVote(p.ID, "mirror-a", datatypes.VoteFor, "", now, uuid.NewString(), equalWeight)
	require.NoError(t, err)
	_, err = s.CastVote(p.ID, "mirror-b", datatypes.VoteAbstain, "", now, uuid.NewString(), equalWeight)
	require.NoError(t, err)

	got, err := s.GetProposal(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.TotalVoteWeight())
	assert.Equal(t, 1.0, got.VotesAbstain)
	assert.Equal(t, 1.0, got.ApprovalRatio())
}

func TestListVotesByIdentity(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	seedIdentity(t, s, "mirror-a", 2)
	p1 := seedActiveProposal(t, s, now)
	p2 := seedActiveProposal(t, s, now)

	_, err := s.CastVote(p1.ID, "mirror-a", datatypes.VoteFor, "", now, uuid.NewString(), equalWeight)
	require.NoError(t, err)
	_, err = s.CastVote(p2.ID, "mirror-a", datatypes.VoteAgainst, "", now.Add(time.Minute), uuid.NewString(), equalWeight)
	require.NoError(t, err)

	votes, err := s.ListVotesByIdentity("mirror-a")
	require.NoError(t, err)
	assert.Len(t, votes, 2)
}

func TestAdvanceRolloutStagesAndActivation(t *testing.T) {
	s := newTestStore(t)
	v1 := &datatypes.Version{ID: uuid.NewString(), SemVer: "1.0.0", CreatedAt: time.Now()}
	require.NoError(t, s.CreateVersion(v1))

	_, err := s.AdvanceRollout(v1.ID, 25)
	require.ErrorIs(t, err, datatypes.ErrInvalidRollout)

	_, err = s.AdvanceRollout(v1.ID, 10)
	require.NoError(t, err)
	_, err = s.AdvanceRollout(v1.ID, 10)
	require.ErrorIs(t, err, datatypes.ErrInvalidRollout, "rollout must be monotonic")

	got, err := s.AdvanceRollout(v1.ID, 100)
	require.NoError(t, err)
	assert.True(t, got.Active)

	active, err := s.ActiveVersion()
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)

	// A second version reaching 100 deactivates the first.
	v2 := &datatypes.Version{ID: uuid.NewString(), SemVer: "1.1.0", CreatedAt: time.Now()}
	require.NoError(t, s.CreateVersion(v2))
	_, err = s.AdvanceRollout(v2.ID, 100)
	require.NoError(t, err)

	active, err = s.ActiveVersion()
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID)

	old, err := s.GetVersion(v1.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)
}

func TestFreezeGatesAdoption(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetFreeze(&datatypes.FreezeState{
		Frozen:   true,
		Reason:   "unresolved networked conflict on tone.default",
		FrozenAt: time.Now(),
		FrozenBy: "conflict_resolver",
	}))

	err := s.CreateVersion(&datatypes.Version{ID: uuid.NewString(), SemVer: "2.0.0"})
	require.ErrorIs(t, err, datatypes.ErrSubsystemFrozen)

	_, err = s.UpdateProposalGated("any", func(*datatypes.Proposal) error { return nil })
	require.ErrorIs(t, err, datatypes.ErrSubsystemFrozen)

	require.NoError(t, s.SetFreeze(&datatypes.FreezeState{Frozen: false}))
	err = s.CreateVersion(&datatypes.Version{ID: uuid.NewString(), SemVer: "2.0.0"})
	require.NoError(t, err)
}

func TestCastAmendmentVoteUnweightedAndUnique(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	a := &datatypes.Amendment{
		ID:                 uuid.NewString(),
		Status:             datatypes.AmendmentVoting,
		ProposedAt:         now.Add(-8 * 24 * time.Hour),
		ReflectionDeadline: now.Add(-24 * time.Hour),
		VotingDeadline:     now.Add(datatypes.AmendmentVotingPeriod),
		RequiredMajority:   datatypes.DefaultSupermajority,
	}
	require.NoError(t, s.CreateAmendment(a))

	_, err := s.CastAmendmentVote(a.ID, "guardian-1", datatypes.VoteFor, "", now, uuid.NewString())
	require.NoError(t, err)
	_, err = s.CastAmendmentVote(a.ID, "guardian-1", datatypes.VoteFor, "", now, uuid.NewString())
	require.ErrorIs(t, err, datatypes.ErrAlreadyVoted)

	got, err := s.GetAmendment(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.VotesFor)
}

func TestConstitutionVersionsMonotonicSingleActive(t *testing.T) {
	s := newTestStore(t)

	first, err := s.AppendConstitutionVersion(&datatypes.ConstitutionVersion{
		Content:   "v1 text",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.True(t, first.Active)

	second, err := s.AppendConstitutionVersion(&datatypes.ConstitutionVersion{
		Content:     "v2 text",
		AmendmentID: "amendment-1",
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	active, err := s.ActiveConstitution()
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	prev, err := s.GetConstitutionVersion(1)
	require.NoError(t, err)
	assert.False(t, prev.Active)
}

func TestLogAppendOnlyAndQuery(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	e1 := &datatypes.BehaviorChangeLogEntry{
		ID:        uuid.NewString(),
		Type:      datatypes.ChangeProposalAdopted,
		Timestamp: base,
		ProposalID: "p1",
		Actor:     datatypes.ActorSystem,
		Reason:    "consensus reached",
		Reversible: true,
	}
	require.NoError(t, s.AppendLogEntry(e1))
	require.Error(t, s.AppendLogEntry(e1), "duplicate entry IDs are rejected")

	e2 := &datatypes.BehaviorChangeLogEntry{
		ID:        uuid.NewString(),
		Type:      datatypes.ChangeConstitutionalBlock,
		Timestamp: base.Add(time.Hour),
		ProposalID: "p2",
		Actor:     datatypes.ActorConstitutionalMonitor,
		Reason:    "safety floor violated",
	}
	require.NoError(t, s.AppendLogEntry(e2))

	all, err := s.QueryLog(datatypes.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, e1.ID, all[0].ID, "entries come back in timestamp order")

	blocks, err := s.QueryLog(datatypes.HistoryFilter{
		Types: []datatypes.ChangeType{datatypes.ChangeConstitutionalBlock},
	})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "p2", blocks[0].ProposalID)

	windowed, err := s.QueryLog(datatypes.HistoryFilter{
		Start: base.Add(30 * time.Minute),
		End:   base.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, e2.ID, windowed[0].ID)
}
